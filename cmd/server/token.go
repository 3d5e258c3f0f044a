package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "consentledger/internal/jwt_token"
)

// tokenCommand mints bearer tokens for local testing.
func tokenCommand() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := commonRun()
			if err != nil {
				return err
			}
			if !cfg.IsDevelopment() {
				return errors.New("token minting is only available in development")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
			token, err := svc.GenerateAccessToken(subject, roles, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
