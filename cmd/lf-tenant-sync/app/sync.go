package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/launchfold/tenant-sync-server/internal/config"
	"github.com/launchfold/tenant-sync-server/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass and exit",
	Long: `Run a single full reconciliation pass and exit. Useful for
cron-driven setups and for verifying configuration without starting the
server. Requires the postgres store backend; the in-memory store has
nothing to reconcile across process boundaries.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().String("tenant", "", "Reconcile a single tenant instead of all")

	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	logger := slog.Default()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	tenantID, err := cmd.Flags().GetString("tenant")
	if err != nil {
		return fmt.Errorf("failed to get tenant flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Store.Backend != config.StoreBackendPostgres {
		return fmt.Errorf("one-shot sync requires the postgres store backend")
	}

	eng, _, closeStore, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var result engine.Result
	if tenantID != "" {
		result = eng.SyncTenant(ctx, tenantID)
	} else {
		result = eng.SyncAllTenants(ctx)
	}

	logger.Info("reconciliation pass finished",
		"success", result.Success,
		"message", result.Message,
		"created", result.Summary.Created,
		"updated", result.Summary.Updated,
		"skipped", result.Summary.Skipped,
		"deleted", result.Summary.Deleted,
		"errors", result.Summary.Errors)

	if !result.Success {
		return fmt.Errorf("reconciliation pass failed: %s", result.Message)
	}
	return nil
}
