package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/configs"
	"github.com/songzhibin97/quantaguard/internal/data/storage"
	"github.com/songzhibin97/quantaguard/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "quantaguard",
	Short: "Risk-gated autonomous portfolio agent",
	Long: `quantaguard runs a periodic decision loop: it composes portfolio and market
state, asks a language model for one trading action, gates it through six risk
rules, executes it and records everything. A position monitor enforces stop-losses
between cycles.`,
	SilenceUsage: true,
}

func execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configs.DefaultPath, "config file")
	rootCmd.AddCommand(runCmd, decisionsCmd, riskCmd)
}

// bootstrap loads config and logger. Both failures abort the command.
func bootstrap() (*configs.Config, *zap.Logger, error) {
	cfg, err := configs.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStorage(ctx context.Context, cfg *configs.Config) (*storage.Storage, error) {
	store, err := storage.Open(ctx, storage.Dialect(cfg.Database.Driver), cfg.Database.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return store, nil
}
