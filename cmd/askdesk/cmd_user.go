package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"askdesk/internal/auth"
)

var (
	userName     string
	userRoles    []string
	userPassword string
)

// userCmd groups account management
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage service accounts",
}

// userAddCmd creates an account
var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		password := userPassword
		if password == "" {
			fmt.Print("Password: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			password = string(raw)
		}

		store, err := auth.OpenStore(cfg.Auth.UserDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.CreateUser(cmd.Context(), userName, password, userRoles); err != nil {
			return err
		}
		fmt.Printf("Created user %s with roles [%s]\n", userName, strings.Join(userRoles, ", "))
		return nil
	},
}

// userDeactivateCmd disables an account without deleting its audit trail
var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := auth.OpenStore(cfg.Auth.UserDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetActive(cmd.Context(), userName, false); err != nil {
			return err
		}
		fmt.Printf("Deactivated user %s\n", userName)
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userName, "username", "", "account username (case-sensitive)")
	userAddCmd.Flags().StringSliceVar(&userRoles, "roles", nil, "comma-separated role names")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "password (prompted when omitted)")
	userAddCmd.MarkFlagRequired("username")

	userDeactivateCmd.Flags().StringVar(&userName, "username", "", "account username")
	userDeactivateCmd.MarkFlagRequired("username")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userDeactivateCmd)
}
