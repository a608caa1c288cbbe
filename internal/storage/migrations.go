package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration represents a single schema migration with version and implementation
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// MigrationManager applies schema migrations to the SQL backends. The DDL
// sticks to types both DuckDB and SQLite understand.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a new migration manager instance
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: allMigrations(),
	}
}

// Latest returns the highest known schema version
func (m *MigrationManager) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// MigrateToLatest runs all pending migrations
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at BIGINT NOT NULL
		)`
	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	if applied > 0 {
		m.logger.Info("schema migrated", "from_version", current, "to_version", m.Latest(), "applied", applied)
	}
	return nil
}

// CurrentVersion returns the highest applied migration version
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	query := "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"
	if err := m.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func (m *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	insertQuery := "INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"
	if _, err := tx.ExecContext(ctx, insertQuery, migration.Version, migration.Description, start.Unix()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Debug("migration applied",
		"version", migration.Version,
		"description", migration.Description,
		"duration", time.Since(start))
	return nil
}

func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create trade log tables",
			Up:          migrationV1Up,
		},
		{
			Version:     2,
			Description: "index trades by market and position",
			Up:          migrationV2Up,
		},
	}
}

func migrationV1Up(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trade_logs (
			market VARCHAR PRIMARY KEY,
			trade_count BIGINT NOT NULL,
			saved_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			market VARCHAR NOT NULL,
			seq BIGINT NOT NULL,
			time DOUBLE NOT NULL,
			global_trade_id BIGINT NOT NULL,
			trade_id BIGINT NOT NULL,
			type VARCHAR NOT NULL,
			amount DOUBLE NOT NULL,
			total DOUBLE NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func migrationV2Up(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_trades_market_seq ON trades (market, seq)")
	return err
}
