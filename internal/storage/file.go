package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/johnayoung/go-trade-tape/internal/models"
)

const (
	filePrefix = "trade_history-"
	fileSuffix = ".json"
)

// FileStore keeps one JSON document per market in a directory. Saves write a
// temporary file and rename it over the previous document.
type FileStore struct {
	mu     sync.RWMutex
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "file_store"),
	}
}

// Path returns the document path for market
func (s *FileStore) Path(market string) string {
	return filepath.Join(s.dir, filePrefix+market+fileSuffix)
}

// Initialize creates the storage directory
func (s *FileStore) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return NewStorageError("initialize", "", s.dir, err)
	}
	return nil
}

// Save writes trades for market atomically
func (s *FileStore) Save(ctx context.Context, market string, trades []models.Trade) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("save", market, "", err)
	}
	if err := validateMarket(market); err != nil {
		return NewStorageError("save", market, "", err)
	}
	if trades == nil {
		trades = []models.Trade{}
	}

	data, err := json.Marshal(trades)
	if err != nil {
		return NewStorageError("save", market, "", fmt.Errorf("failed to encode trades: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(market)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return NewStorageError("save", market, s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+filePrefix+market+"-*.tmp")
	if err != nil {
		return NewStorageError("save", market, path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return NewStorageError("save", market, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return NewStorageError("save", market, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return NewStorageError("save", market, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return NewStorageError("save", market, path, err)
	}
	committed = true

	s.logger.Debug("saved trade log", "market", market, "trades", len(trades), "path", path)
	return nil
}

// Load reads the trades stored for market
func (s *FileStore) Load(ctx context.Context, market string) ([]models.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("load", market, "", err)
	}
	if err := validateMarket(market); err != nil {
		return nil, NewStorageError("load", market, "", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.Path(market)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewStorageError("load", market, path, err)
	}

	var trades []models.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, newCorruptError(market, path, err)
	}
	if err := checkLoaded(market, trades); err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	return trades, nil
}

// Markets lists markets that have a document in the directory
func (s *FileStore) Markets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, NewStorageError("markets", "", s.dir, err)
	}

	markets := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		market := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if validateMarket(market) == nil {
			markets = append(markets, market)
		}
	}
	sort.Strings(markets)
	return markets, nil
}

// HealthCheck verifies the directory is reachable
func (s *FileStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return NewStorageError("health_check", "", s.dir, err)
	}
	if !info.IsDir() {
		return NewStorageError("health_check", "", s.dir, fmt.Errorf("%s is not a directory", s.dir))
	}
	return nil
}

// Close is a no-op; documents are closed after every operation
func (s *FileStore) Close() error {
	return nil
}
