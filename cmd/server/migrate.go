package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := commonRun()
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errors.New("migrate requires postgres.url")
			}
			app, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.migrate(cmd.Context())
		},
	}
}
