package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements TradeLogStore on SQLite in WAL mode, so readers
// such as the HTTP API do not block the collector's writes.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("open sqlite: %w", err))
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, NewStorageError("open", "", "PRAGMA journal_mode=WAL", fmt.Errorf("set WAL mode: %w", err))
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "sqlite_store"),
	}, nil
}

// Initialize applies pending schema migrations
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return NewStorageError("initialize", "", "", fmt.Errorf("database connection is closed"))
	}

	s.logger.Info("initializing SQLite storage", "db_path", s.dbPath)
	if err := NewMigrationManager(s.db, s.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", "", "", err)
	}
	return nil
}

// Save replaces the stored log of market in one transaction
func (s *SQLiteStore) Save(ctx context.Context, market string, trades []models.Trade) error {
	if err := validateMarket(market); err != nil {
		return NewStorageError("save", market, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return NewStorageError("save", market, "", fmt.Errorf("database connection is closed"))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("save", market, "", fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback()

	for _, q := range []string{deleteTradesQuery, deleteLogQuery} {
		if _, err := tx.ExecContext(ctx, q, market); err != nil {
			return NewStorageError("save", market, q, err)
		}
	}
	if _, err := tx.ExecContext(ctx, insertLogQuery, market, len(trades), time.Now().Unix()); err != nil {
		return NewStorageError("save", market, insertLogQuery, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertTradeQuery)
	if err != nil {
		return NewStorageError("save", market, insertTradeQuery, err)
	}
	defer stmt.Close()

	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, market, i, t.Time, t.GlobalTradeID, t.TradeID, string(t.Type), t.Amount, t.Total); err != nil {
			return NewStorageError("save", market, insertTradeQuery, fmt.Errorf("trade %d: %w", t.GlobalTradeID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("save", market, "", fmt.Errorf("failed to commit: %w", err))
	}

	s.logger.Debug("saved trade log", "market", market, "trades", len(trades))
	return nil
}

// Load reads the stored log of market
func (s *SQLiteStore) Load(ctx context.Context, market string) ([]models.Trade, error) {
	if err := validateMarket(market); err != nil {
		return nil, NewStorageError("load", market, "", err)
	}
	if s.closed() {
		return nil, NewStorageError("load", market, "", fmt.Errorf("database connection is closed"))
	}

	// a snapshot transaction keeps the count and the rows consistent
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewStorageError("load", market, "", err)
	}
	defer tx.Rollback()

	return loadTrades(ctx, tx, market)
}

// Markets lists markets with a stored log
func (s *SQLiteStore) Markets(ctx context.Context) ([]string, error) {
	if s.closed() {
		return nil, NewStorageError("markets", "", "", fmt.Errorf("database connection is closed"))
	}
	return listMarkets(ctx, s.db)
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.closed() {
		return NewStorageError("health_check", "", "", fmt.Errorf("database connection is closed"))
	}
	if err := s.db.PingContext(ctx); err != nil {
		return NewStorageError("health_check", "", "", fmt.Errorf("database health check failed: %w", err))
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return NewStorageError("close", "", "", err)
	}
	return nil
}

func (s *SQLiteStore) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db == nil
}
