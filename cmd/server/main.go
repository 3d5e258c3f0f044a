// Command consentd serves the consent ledger over HTTP.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"consentledger/internal/platform/config"
	"consentledger/internal/platform/logger"
)

const programName = "consentd"

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

// commonRun loads the configuration and sets up the process-wide logger.
func commonRun() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if globalFlags.debug {
		cfg.Log.Level = "debug"
	}
	log := logger.New(os.Stdout, cfg.Log)
	slog.SetDefault(log)

	_, err = maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		log.Info(fmt.Sprintf(format, v...), "component", programName)
	}))
	if err != nil {
		return nil, nil, fmt.Errorf("set GOMAXPROCS: %w", err)
	}
	return cfg, log, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Consent ledger service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(tokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
