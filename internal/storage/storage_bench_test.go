package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func benchBackends(b *testing.B) map[string]TradeLogStore {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores := map[string]TradeLogStore{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(b.TempDir(), logger),
	}
	if s, err := NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"), logger); err == nil {
		stores["sqlite"] = s
	}
	if s, err := NewDuckDBStore(":memory:", logger); err == nil {
		stores["duckdb"] = s
	}
	return stores
}

// BenchmarkSave measures a full rewrite of a day-sized log
func BenchmarkSave(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}
	ctx := context.Background()
	trades := testTrades(10000, 1.5e9)

	for name, store := range benchBackends(b) {
		b.Run(name, func(b *testing.B) {
			if err := store.Initialize(ctx); err != nil {
				b.Fatalf("Initialize failed: %v", err)
			}
			defer store.Close()

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := store.Save(ctx, "BTC_ETH", trades); err != nil {
					b.Fatalf("Save failed: %v", err)
				}
			}
			b.ReportMetric(float64(b.N*len(trades))/b.Elapsed().Seconds(), "trades/sec")
		})
	}
}

func BenchmarkLoad(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}
	ctx := context.Background()
	trades := testTrades(10000, 1.5e9)

	for name, store := range benchBackends(b) {
		b.Run(name, func(b *testing.B) {
			if err := store.Initialize(ctx); err != nil {
				b.Fatalf("Initialize failed: %v", err)
			}
			defer store.Close()
			if err := store.Save(ctx, "BTC_ETH", trades); err != nil {
				b.Fatalf("Save failed: %v", err)
			}

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				loaded, err := store.Load(ctx, "BTC_ETH")
				if err != nil || len(loaded) != len(trades) {
					b.Fatalf("Load returned %d trades: %v", len(loaded), err)
				}
			}
		})
	}
}
