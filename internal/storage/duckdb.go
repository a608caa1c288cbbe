package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/models"
	"github.com/marcboeker/go-duckdb/v2"
)

// DuckDBStore implements TradeLogStore on DuckDB. Saves delete the market's
// rows and bulk-load the new log through the Appender API inside a single
// transaction.
type DuckDBStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewDuckDBStore opens a DuckDB database.
// The dbPath can be ":memory:" for in-memory database or a file path for persistent storage.
func NewDuckDBStore(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer connection; an in-memory database also lives on it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "duckdb_store"),
	}, nil
}

// Initialize applies pending schema migrations
func (d *DuckDBStore) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return NewStorageError("initialize", "", "", fmt.Errorf("database connection is closed"))
	}

	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)
	if err := NewMigrationManager(d.db, d.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", "", "", err)
	}
	return nil
}

// Save replaces the stored log of market
func (d *DuckDBStore) Save(ctx context.Context, market string, trades []models.Trade) error {
	if err := validateMarket(market); err != nil {
		return NewStorageError("save", market, "", err)
	}

	start := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return NewStorageError("save", market, "", fmt.Errorf("database connection is closed"))
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return NewStorageError("save", market, "", fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return NewStorageError("save", market, "BEGIN TRANSACTION", err)
	}
	if err := d.replace(ctx, conn, market, trades); err != nil {
		if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
			d.logger.Warn("rollback failed", "market", market, "error", rbErr)
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return NewStorageError("save", market, "COMMIT", err)
	}

	d.logger.Debug("saved trade log",
		"market", market,
		"trades", len(trades),
		"duration", time.Since(start))
	return nil
}

func (d *DuckDBStore) replace(ctx context.Context, conn *sql.Conn, market string, trades []models.Trade) error {
	for _, q := range []string{deleteTradesQuery, deleteLogQuery} {
		if _, err := conn.ExecContext(ctx, q, market); err != nil {
			return NewStorageError("save", market, q, err)
		}
	}
	if _, err := conn.ExecContext(ctx, insertLogQuery, market, len(trades), time.Now().Unix()); err != nil {
		return NewStorageError("save", market, insertLogQuery, err)
	}
	if len(trades) == 0 {
		return nil
	}

	var driverConn *duckdb.Conn
	err := conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return NewStorageError("save", market, "", fmt.Errorf("failed to get DuckDB connection: %w", err))
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", "trades")
	if err != nil {
		return NewStorageError("save", market, "", fmt.Errorf("failed to create appender: %w", err))
	}
	defer appender.Close()

	for i, t := range trades {
		if err := appender.AppendRow(
			market,
			int64(i),
			t.Time,
			t.GlobalTradeID,
			t.TradeID,
			string(t.Type),
			t.Amount,
			t.Total,
		); err != nil {
			return NewStorageError("save", market, "", fmt.Errorf("failed to append trade %d: %w", t.GlobalTradeID, err))
		}
	}

	if err := appender.Flush(); err != nil {
		return NewStorageError("save", market, "", fmt.Errorf("failed to flush appender: %w", err))
	}
	return nil
}

// Load reads the stored log of market
func (d *DuckDBStore) Load(ctx context.Context, market string) ([]models.Trade, error) {
	if err := validateMarket(market); err != nil {
		return nil, NewStorageError("load", market, "", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, NewStorageError("load", market, "", fmt.Errorf("database connection is closed"))
	}
	return loadTrades(ctx, d.db, market)
}

// Markets lists markets with a stored log
func (d *DuckDBStore) Markets(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, NewStorageError("markets", "", "", fmt.Errorf("database connection is closed"))
	}
	return listMarkets(ctx, d.db)
}

// HealthCheck performs a lightweight query to verify database connectivity
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()

	if db == nil {
		return NewStorageError("health_check", "", "", fmt.Errorf("database health check failed: database connection is closed"))
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// Close gracefully shuts down the DuckDB connection
func (d *DuckDBStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.logger.Info("closing DuckDB storage")
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
		}
		d.db = nil
	}
	return nil
}

// Compile-time interface compliance check
var (
	_ TradeLogStore = (*DuckDBStore)(nil)
	_ TradeLogStore = (*SQLiteStore)(nil)
	_ TradeLogStore = (*FileStore)(nil)
	_ TradeLogStore = (*MemoryStore)(nil)
)
