package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/httpapi"
)

var tokenFlags struct {
	user   string
	ttl    time.Duration
	secret string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long:  `token signs a bearer token for the narration API with JWT_SECRET (or --secret).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret := tokenFlags.secret
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		if secret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		tok, err := httpapi.IssueToken(secret, tokenFlags.user, tokenFlags.ttl)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.user, "user", "", "user id placed in the token (required)")
	f.DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "token lifetime")
	f.StringVar(&tokenFlags.secret, "secret", "", "signing secret, defaults to JWT_SECRET")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
