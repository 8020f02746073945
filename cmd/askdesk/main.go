// askdesk is an internal QA service: access-controlled semantic
// retrieval over department document collections.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"askdesk/internal/config"
	"askdesk/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "askdesk",
	Short: "askdesk - access-controlled semantic retrieval service",
	Long: `askdesk answers employee questions over internal department documents.

Documents are chunked, embedded, and sharded by department; every query is
scoped to the departments the caller's roles can read and every returned
chunk passes a per-chunk access check. Retrieval is semantic (cosine over
unit-norm embeddings) with query normalization and variant expansion.

Typical flow:
  askdesk user add --username alice --roles finance_analyst
  askdesk index --docs ./docs
  askdesk serve`,
	SilenceUsage: true,
}

// loadConfig loads configuration and initializes categorized logging.
// Every subcommand goes through here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := logging.Initialize(cfg.Logging.Dir, level); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "askdesk.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(userCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
