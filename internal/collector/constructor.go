package collector

import (
	"fmt"
	"log/slog"

	"github.com/johnayoung/go-trade-tape/internal/config"
	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/exchange"
	"github.com/johnayoung/go-trade-tape/internal/history"
	"github.com/johnayoung/go-trade-tape/internal/storage"
)

// NewFromConfig builds a collector from the application configuration
func NewFromConfig(cfg *config.AppConfig, fetcher exchange.TradeHistoryFetcher, store storage.TradeLogStore, logger *slog.Logger) (*Collector, error) {
	c := &Config{
		WorkerCount:   cfg.Collector.WorkerCount,
		MaxRounds:     cfg.Collector.MaxRounds,
		RateLimit:     float64(cfg.Exchange.RateLimit),
		MemoryLimitMB: DefaultMemoryLimitMB,
		History:       history.OptionsFromConfig(cfg.History, cfg.Analysis),
		Logger:        logger,
	}
	if err := ValidateConfig(c); err != nil {
		return nil, fmt.Errorf("invalid collector configuration: %w", err)
	}
	classifier := apperrors.NewErrorClassifier(cfg.ErrorHandling, logger)
	return New(fetcher, store, classifier, c), nil
}

// RequestFromConfig builds the default sync request
func RequestFromConfig(cfg config.CollectorConfig) SyncRequest {
	return SyncRequest{
		MinDuration: config.Seconds(cfg.MinDuration),
		MaxRounds:   cfg.MaxRounds,
	}
}

// ValidateConfig checks collector settings
func ValidateConfig(config *Config) error {
	if config.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", config.WorkerCount)
	}
	if config.WorkerCount > 50 {
		return fmt.Errorf("worker count too high, maximum 50, got %d", config.WorkerCount)
	}
	if config.MaxRounds <= 0 {
		return fmt.Errorf("max rounds must be positive, got %d", config.MaxRounds)
	}
	if config.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %g", config.RateLimit)
	}
	if config.RateLimit > 100 {
		return fmt.Errorf("rate limit too high, maximum 100, got %g", config.RateLimit)
	}
	if config.MemoryLimitMB < 0 {
		return fmt.Errorf("memory limit cannot be negative, got %d", config.MemoryLimitMB)
	}
	return nil
}

// CollectorBuilder assembles a collector step by step
type CollectorBuilder struct {
	fetcher    exchange.TradeHistoryFetcher
	store      storage.TradeLogStore
	classifier *apperrors.ErrorClassifier
	config     *Config
}

// NewBuilder creates a builder with the default configuration
func NewBuilder() *CollectorBuilder {
	return &CollectorBuilder{config: DefaultConfig()}
}

// WithFetcher sets the trade source
func (b *CollectorBuilder) WithFetcher(fetcher exchange.TradeHistoryFetcher) *CollectorBuilder {
	b.fetcher = fetcher
	return b
}

// WithStorage sets the trade log store
func (b *CollectorBuilder) WithStorage(store storage.TradeLogStore) *CollectorBuilder {
	b.store = store
	return b
}

// WithClassifier sets the error classifier used for retries and circuit breaking
func (b *CollectorBuilder) WithClassifier(classifier *apperrors.ErrorClassifier) *CollectorBuilder {
	b.classifier = classifier
	return b
}

// WithHistoryOptions sets the options every market history is built with
func (b *CollectorBuilder) WithHistoryOptions(opts history.Options) *CollectorBuilder {
	b.config.History = opts
	return b
}

// WithLogger sets the logger
func (b *CollectorBuilder) WithLogger(logger *slog.Logger) *CollectorBuilder {
	b.config.Logger = logger
	return b
}

// WithWorkerCount sets the number of workers
func (b *CollectorBuilder) WithWorkerCount(count int) *CollectorBuilder {
	b.config.WorkerCount = count
	return b
}

// WithMaxRounds sets the default round cap per sync
func (b *CollectorBuilder) WithMaxRounds(rounds int) *CollectorBuilder {
	b.config.MaxRounds = rounds
	return b
}

// WithRateLimit sets the number of syncs started per second
func (b *CollectorBuilder) WithRateLimit(limit float64) *CollectorBuilder {
	b.config.RateLimit = limit
	return b
}

// Build validates the configuration and creates the collector
func (b *CollectorBuilder) Build() (*Collector, error) {
	if b.fetcher == nil {
		return nil, fmt.Errorf("trade source is required")
	}
	if err := ValidateConfig(b.config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return New(b.fetcher, b.store, b.classifier, b.config), nil
}
