package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hookrelay/internal/platform/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
	tokenScopes  []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if tokenTTL > 0 {
			cfg.Auth.TokenTTL = tokenTTL
		}

		token, err := auth.NewTokenService(cfg.Auth).GenerateToken(tokenSubject, tokenScopes...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "relayctl", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "grant only these scopes (read, write); default all")
}
