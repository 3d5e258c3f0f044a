package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"consentledger/internal/platform/httpserver"
	"consentledger/pkg/platform/audit/outbox"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the audit outbox publisher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context())
		},
	}
}

func serveRun(ctx context.Context) error {
	cfg, log, err := commonRun()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Postgres.MigrateOnStart {
		if err := app.migrate(ctx); err != nil {
			return err
		}
	}

	srv := httpserver.New(cfg.HTTP, app.router())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.HTTP, log)
	})

	if app.producer != nil {
		if cfg.Kafka.ProvisionTopic {
			if err := app.producer.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
				return err
			}
		}
		worker := outbox.NewWorker(app.auditPostgres, app.producer, log,
			outbox.WithInterval(cfg.Kafka.PublishInterval),
			outbox.WithBatchSize(cfg.Kafka.BatchSize),
		)
		g.Go(func() error {
			log.InfoContext(gctx, "audit outbox publisher started", "topic", cfg.Kafka.Topic)
			return worker.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", programName, err)
	}
	log.Info("shutdown complete")
	return nil
}
