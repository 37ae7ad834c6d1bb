package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"teamsync/internal/auth"
	"teamsync/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := sqlite.Open(cfg.DBPath, logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		logger.Info("schema up to date", "db_path", cfg.DBPath)
		return nil
	},
}

var tokenEmail string

// tokenCmd mints an access token for an existing account. Useful for
// scripting against the API without going through /user/login.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an access token for an existing user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		store, err := sqlite.Open(cfg.DBPath, logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		user, err := store.GetUserByEmail(ctx, tokenEmail)
		if err != nil {
			return err
		}
		if user.IsBlocked() {
			return fmt.Errorf("user %s is blocked", user.Email)
		}

		token, err := auth.NewTokenManager(auth.TokenConfig{
			SecretKey: cfg.Auth.JWTSecret,
			TTL:       cfg.Auth.TokenTTL,
			Issuer:    cfg.Auth.Issuer,
		}).Issue(user)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email of the account")
	_ = tokenCmd.MarkFlagRequired("email")
}
