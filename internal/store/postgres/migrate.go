package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"

	"github.com/launchfold/tenant-sync-server/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies schema migrations with goose
type Migrator struct {
	cfg    *config.PostgresConfig
	logger *slog.Logger
}

// NewMigrator constructs a Migrator for the configured database
func NewMigrator(cfg *config.PostgresConfig, logger *slog.Logger) (*Migrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres configuration is required")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	goose.SetBaseFS(migrationsFS)
	return &Migrator{cfg: cfg, logger: logger}, nil
}

func (m *Migrator) withDB(fn func(db *sql.DB) error) error {
	connString, err := m.cfg.GetConnectionString()
	if err != nil {
		return err
	}
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

// Up applies all pending migrations
func (m *Migrator) Up(ctx context.Context) error {
	return m.withDB(func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		m.logger.Info("database migrations applied")
		return nil
	})
}

// Down rolls back the most recent migration
func (m *Migrator) Down(ctx context.Context) error {
	return m.withDB(func(db *sql.DB) error {
		if err := goose.DownContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		m.logger.Info("database migration rolled back")
		return nil
	})
}

// Status prints the migration status to the goose logger
func (m *Migrator) Status(ctx context.Context) error {
	return m.withDB(func(db *sql.DB) error {
		if err := goose.StatusContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("failed to report migration status: %w", err)
		}
		return nil
	})
}
