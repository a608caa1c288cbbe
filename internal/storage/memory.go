package storage

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/johnayoung/go-trade-tape/internal/models"
)

// MemoryStore keeps trade logs in process memory. Used by tests and by
// runs that do not need to survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	logs   map[string][]models.Trade
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs: make(map[string][]models.Trade),
	}
}

// Initialize is a no-op for memory storage
func (m *MemoryStore) Initialize(ctx context.Context) error {
	return nil
}

// Save stores a copy of trades for market
func (m *MemoryStore) Save(ctx context.Context, market string, trades []models.Trade) error {
	if ctx.Err() != nil {
		return NewStorageError("save", market, "", ctx.Err())
	}
	if err := validateMarket(market); err != nil {
		return NewStorageError("save", market, "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("save", market, "", errors.New("storage is closed"))
	}

	stored := slices.Clone(trades)
	if stored == nil {
		stored = []models.Trade{}
	}
	m.logs[market] = stored
	return nil
}

// Load returns a copy of the trades stored for market
func (m *MemoryStore) Load(ctx context.Context, market string) ([]models.Trade, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("load", market, "", ctx.Err())
	}
	if err := validateMarket(market); err != nil {
		return nil, NewStorageError("load", market, "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("load", market, "", errors.New("storage is closed"))
	}

	trades, ok := m.logs[market]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(trades), nil
}

// Markets lists the stored markets in order
func (m *MemoryStore) Markets(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	markets := make([]string, 0, len(m.logs))
	for market := range m.logs {
		markets = append(markets, market)
	}
	sort.Strings(markets)
	return markets, nil
}

// HealthCheck fails once the store is closed
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return NewStorageError("health_check", "", "", errors.New("storage is closed"))
	}
	return nil
}

// Close marks the store closed and drops its contents
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.logs = nil
	return nil
}
