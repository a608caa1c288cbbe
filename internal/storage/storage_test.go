package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/johnayoung/go-trade-tape/internal/config"
	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrades(n int, start float64) []models.Trade {
	trades := make([]models.Trade, n)
	for i := range trades {
		tradeType := models.TradeTypeBuy
		if i%2 == 1 {
			tradeType = models.TradeTypeSell
		}
		trades[i] = models.Trade{
			Time:          start + float64(i*7),
			GlobalTradeID: int64(1000 + i),
			TradeID:       int64(i + 1),
			Type:          tradeType,
			Amount:        0.5 + float64(i)/10,
			Total:         0.025 + float64(i)/1000,
		}
	}
	return trades
}

type backend struct {
	name string
	open func(t *testing.T) TradeLogStore
}

func backends() []backend {
	logger := slog.Default()
	return []backend{
		{"memory", func(t *testing.T) TradeLogStore { return NewMemoryStore() }},
		{"file", func(t *testing.T) TradeLogStore { return NewFileStore(t.TempDir(), logger) }},
		{"duckdb", func(t *testing.T) TradeLogStore {
			s, err := NewDuckDBStore(":memory:", logger)
			require.NoError(t, err)
			return s
		}},
		{"sqlite", func(t *testing.T) TradeLogStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"), logger)
			require.NoError(t, err)
			return s
		}},
	}
}

func openStore(t *testing.T, b backend) TradeLogStore {
	t.Helper()
	store := b.open(t)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Run("load unknown market", func(t *testing.T) {
				store := openStore(t, b)
				_, err := store.Load(ctx, "BTC_ETH")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("round trip preserves order and fields", func(t *testing.T) {
				store := openStore(t, b)
				trades := testTrades(25, 1_700_000_000)
				require.NoError(t, store.Save(ctx, "BTC_ETH", trades))

				loaded, err := store.Load(ctx, "BTC_ETH")
				require.NoError(t, err)
				assert.Equal(t, trades, loaded)
			})

			t.Run("save replaces the previous log", func(t *testing.T) {
				store := openStore(t, b)
				require.NoError(t, store.Save(ctx, "BTC_ETH", testTrades(10, 100)))
				replacement := testTrades(3, 500)
				require.NoError(t, store.Save(ctx, "BTC_ETH", replacement))

				loaded, err := store.Load(ctx, "BTC_ETH")
				require.NoError(t, err)
				assert.Equal(t, replacement, loaded)
			})

			t.Run("empty log is distinct from missing", func(t *testing.T) {
				store := openStore(t, b)
				require.NoError(t, store.Save(ctx, "USDT_BTC", nil))

				loaded, err := store.Load(ctx, "USDT_BTC")
				require.NoError(t, err)
				assert.Empty(t, loaded)
			})

			t.Run("markets are isolated and listed", func(t *testing.T) {
				store := openStore(t, b)
				require.NoError(t, store.Save(ctx, "USDT_BTC", testTrades(2, 10)))
				require.NoError(t, store.Save(ctx, "BTC_ETH", testTrades(4, 10)))

				markets, err := store.Markets(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"BTC_ETH", "USDT_BTC"}, markets)

				loaded, err := store.Load(ctx, "USDT_BTC")
				require.NoError(t, err)
				assert.Len(t, loaded, 2)
			})

			t.Run("invalid market", func(t *testing.T) {
				store := openStore(t, b)
				err := store.Save(ctx, "btc-eth", testTrades(1, 0))
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrInvalidMarket)
			})

			t.Run("health check", func(t *testing.T) {
				store := openStore(t, b)
				assert.NoError(t, store.HealthCheck(ctx))
			})
		})
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, nil)
	require.NoError(t, store.Initialize(ctx))

	cases := map[string]string{
		"not json":       "{not json",
		"wrong shape":    `{"time": 1}`,
		"bad trade type": `[{"time": 1, "globalTradeID": 1, "type": "hold", "amount": 1, "total": 1}]`,
		"out of order": `[{"time": 5, "globalTradeID": 1, "type": "buy", "amount": 1, "total": 1},
			{"time": 4, "globalTradeID": 2, "type": "buy", "amount": 1, "total": 1}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(store.Path("BTC_ETH"), []byte(body), 0o644))

			_, err := store.Load(ctx, "BTC_ETH")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrCorruptPersistedState)

			var storageErr *StorageError
			assert.ErrorAs(t, err, &storageErr)
		})
	}
}

func TestFileStoreWritesAtomically(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, nil)
	require.NoError(t, store.Initialize(ctx))

	require.NoError(t, store.Save(ctx, "BTC_ETH", testTrades(5, 0)))
	require.NoError(t, store.Save(ctx, "BTC_ETH", testTrades(6, 0)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
	assert.Equal(t, "trade_history-BTC_ETH.json", entries[0].Name())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	trades := testTrades(2, 0)
	require.NoError(t, store.Save(ctx, "BTC_ETH", trades))

	trades[0].Amount = 99
	loaded, err := store.Load(ctx, "BTC_ETH")
	require.NoError(t, err)
	assert.NotEqual(t, 99.0, loaded[0].Amount)

	loaded[1].Amount = 42
	again, err := store.Load(ctx, "BTC_ETH")
	require.NoError(t, err)
	assert.NotEqual(t, 42.0, again[1].Amount)
}

func TestClosedStores(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		if b.name == "file" {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			store := b.open(t)
			require.NoError(t, store.Initialize(ctx))
			require.NoError(t, store.Close())

			assert.Error(t, store.HealthCheck(ctx))
			assert.Error(t, store.Save(ctx, "BTC_ETH", testTrades(1, 0)))
		})
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "m.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Initialize(ctx))

	manager := NewMigrationManager(store.db, nil)
	version, err := manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, manager.Latest(), version)
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		want    any
		wantErr bool
	}{
		{"file", config.StorageConfig{Type: "file", Directory: dir}, &FileStore{}, false},
		{"memory", config.StorageConfig{Type: "memory"}, &MemoryStore{}, false},
		{"duckdb", config.StorageConfig{Type: "duckdb", DatabaseURL: ":memory:"}, &DuckDBStore{}, false},
		{"sqlite", config.StorageConfig{Type: "sqlite", DatabaseURL: filepath.Join(dir, "s.db")}, &SQLiteStore{}, false},
		{"unknown", config.StorageConfig{Type: "postgres"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.want, store)
		})
	}
}
