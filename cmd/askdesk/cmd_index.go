package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"askdesk/internal/config"
	"askdesk/internal/docprep"
	"askdesk/internal/embedding"
	"askdesk/internal/index"
	"askdesk/internal/logging"
	"askdesk/internal/rbac"
)

var (
	docsRoot  string
	stableIDs bool
)

// indexCmd rebuilds the vector index artifacts
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build index artifacts from department document directories",
	Long: `Builds a new index generation from a documents root laid out as one
subdirectory per department:

  docs/
    finance/q4_report.txt
    marketing/campaign.md
    general/handbook.txt

Documents are chunked, tagged with allowed roles from the RBAC config,
embedded, and written as a new artifact generation. The CURRENT pointer
is swapped only after the generation is complete, so a serving process
never observes a partial index.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runIndex(cmd.Context(), cfg)
	},
}

func init() {
	indexCmd.Flags().StringVar(&docsRoot, "docs", "docs", "documents root (one subdirectory per department)")
	indexCmd.Flags().BoolVar(&stableIDs, "stable-ids", false, "content-hash chunk ids instead of ordinals")
}

func runIndex(ctx context.Context, cfg *config.Config) error {
	log := logging.Get(logging.CategoryDocprep)

	rbacCfg, err := rbac.LoadConfig(cfg.RBAC.ConfigPath)
	if err != nil {
		return err
	}

	docs, err := collectDocuments(docsRoot, rbacCfg)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents found under %s", docsRoot)
	}

	chunker := docprep.NewChunker(docprep.ChunkerConfig{
		TargetTokens:  cfg.Chunking.TargetTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		StableIDs:     stableIDs || cfg.Chunking.StableChunkIDs,
	})

	var chunks []index.Chunk
	for _, doc := range docs {
		cut := chunker.Chunk(doc)
		log.Info("chunked %s/%s into %d chunks", doc.Department, doc.Name, len(cut))
		chunks = append(chunks, cut...)
	}

	docprep.NewTagger(roleDepartments(rbacCfg)).Tag(chunks)

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:    cfg.Embedding.Provider,
		Dimension:   cfg.Embedding.Dimension,
		GenAIAPIKey: cfg.Embedding.GenAIAPIKey,
		GenAIModel:  cfg.Embedding.GenAIModel,
		TaskType:    "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := engine.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	gen, err := index.WriteArtifacts(cfg.Index.ArtifactsPath, chunks, cfg.Embedding.Dimension, engine.Name())
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d chunks from %d documents into %s\n", len(chunks), len(docs), gen)
	return nil
}

// collectDocuments walks one level of department directories and parses
// every supported file. Unknown departments are a build error: chunks
// in a shard no role can read would be invisible forever.
func collectDocuments(root string, rbacCfg *rbac.Config) ([]*docprep.Document, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read docs root: %w", err)
	}

	var docs []*docprep.Document
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dept := strings.ToLower(e.Name())
		if !rbacCfg.KnownDepartment(dept) {
			return nil, fmt.Errorf("directory %q is not a configured department", e.Name())
		}

		files, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			doc, err := docprep.ParseFile(filepath.Join(root, e.Name(), f.Name()), dept)
			if err != nil {
				if errors.Is(err, docprep.ErrUnsupportedFormat) {
					continue
				}
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// roleDepartments derives the role → readable-departments mapping the
// tagger needs from the RBAC definition.
func roleDepartments(rbacCfg *rbac.Config) map[string][]string {
	out := make(map[string][]string, len(rbacCfg.Roles))
	for role := range rbacCfg.Roles {
		engine := rbac.NewEngine(rbacCfg, []string{role})
		out[role] = engine.AccessibleDepartments()
	}
	return out
}
