// Package storage persists trade logs. Each market's log is stored and
// restored verbatim as an ordered list of trades keyed by market identifier.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/johnayoung/go-trade-tape/internal/config"
	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/models"
)

// ErrNotFound is returned by Load when nothing was ever saved for a market.
// Callers treat it as an empty log.
var ErrNotFound = errors.New("trade log not found")

// TradeLogStore saves and loads whole trade logs.
type TradeLogStore interface {
	// Initialize prepares the backend. Idempotent.
	Initialize(ctx context.Context) error

	// Save replaces the stored log of market with trades. From the caller's
	// view the replacement is atomic: a concurrent or later Load sees either
	// the previous log or the new one.
	Save(ctx context.Context, market string, trades []models.Trade) error

	// Load returns the stored log of market in order. It returns ErrNotFound
	// for unknown markets and an error wrapping ErrCorruptPersistedState for
	// data that cannot be decoded.
	Load(ctx context.Context, market string) ([]models.Trade, error)

	// Markets lists the markets with a stored log
	Markets(ctx context.Context) ([]string, error)

	HealthChecker

	// Close releases the backend. The store must not be used afterwards.
	Close() error
}

// HealthChecker provides health monitoring for storage backends
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// New creates the store selected by cfg.Type
func New(cfg config.StorageConfig, logger *slog.Logger) (TradeLogStore, error) {
	switch cfg.Type {
	case "file":
		return NewFileStore(cfg.Directory, logger), nil
	case "memory":
		return NewMemoryStore(), nil
	case "duckdb":
		return NewDuckDBStore(cfg.DatabaseURL, logger)
	case "sqlite":
		return NewSQLiteStore(cfg.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// StorageError represents errors that occur during storage operations
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "save", "load")
	Operation string
	// Market is the market whose log was involved, if any
	Market string
	// Query is the SQL statement or file path involved (may be empty)
	Query string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Market != "" {
		return fmt.Sprintf("storage operation %s for market %s failed: %v", e.Operation, e.Market, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details
func NewStorageError(operation, market, query string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Market:    market,
		Query:     query,
		Err:       err,
	}
}

// newCorruptError marks a load failure as corrupt persisted state
func newCorruptError(market, query string, err error) *StorageError {
	return NewStorageError("load", market, query,
		fmt.Errorf("%w: %v", apperrors.ErrCorruptPersistedState, err))
}

// checkLoaded validates decoded records the way a trade log expects them
func checkLoaded(market string, trades []models.Trade) error {
	for i, t := range trades {
		if err := t.Validate(); err != nil {
			return newCorruptError(market, "", fmt.Errorf("record %d: %w", i, err))
		}
		if i > 0 && t.Time < trades[i-1].Time {
			return newCorruptError(market, "", fmt.Errorf("record %d is out of order", i))
		}
	}
	return nil
}

func validateMarket(market string) error {
	if _, err := models.ParseMarket(market); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidMarket, err)
	}
	return nil
}
