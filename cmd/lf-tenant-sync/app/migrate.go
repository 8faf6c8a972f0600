package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/launchfold/tenant-sync-server/internal/config"
	"github.com/launchfold/tenant-sync-server/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up', 'down' or 'status' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

func init() {
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func newMigrator(cmd *cobra.Command) (*postgres.Migrator, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Store.Backend != config.StoreBackendPostgres || cfg.Store.Postgres == nil {
		return nil, fmt.Errorf("migrations require the postgres store backend")
	}

	return postgres.NewMigrator(cfg.Store.Postgres, slog.Default())
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
The database connection parameters are read from the config file.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := newMigrator(cmd)
		if err != nil {
			return err
		}
		return m.Up(context.Background())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent database migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := newMigrator(cmd)
		if err != nil {
			return err
		}
		return m.Down(context.Background())
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the migration status of the database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := newMigrator(cmd)
		if err != nil {
			return err
		}
		return m.Status(context.Background())
	},
}
