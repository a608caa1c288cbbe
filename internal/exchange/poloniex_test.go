package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/config"
	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Newest first, the way the API returns them
const tradeHistoryBody = `[
	{"globalTradeID": 394127364, "tradeID": 13536352, "date": "2018-10-16 17:03:50", "type": "buy",
	 "rate": "0.03117266", "amount": "0.00000010", "total": "0.00000000"},
	{"globalTradeID": 394127363, "tradeID": 13536351, "date": "2018-10-16 17:03:50", "type": "buy",
	 "rate": "0.03117300", "amount": "2.00000000", "total": "0.06234600", "orderNumber": 1234},
	{"globalTradeID": 394127362, "tradeID": 13536350, "date": "2018-10-16 17:03:49", "type": "sell",
	 "rate": "0.03117266", "amount": "0.50000000", "total": "0.01558633"}
]`

const tickerBody = `{
	"BTC_ETH": {"id": 148, "last": "0.03117266", "lowestAsk": "0.03119", "highestBid": "0.03117",
	            "percentChange": "-0.0123", "baseVolume": "120.5", "quoteVolume": "3865.2",
	            "isFrozen": "0", "high24hr": "0.0315", "low24hr": "0.0309"},
	"BTC_XMR": {"id": 114, "last": "0.0151", "isFrozen": "1"}
}`

func fastRetry(attempts int) config.RetryPolicyConfig {
	return config.RetryPolicyConfig{
		MaxAttempts:     attempts,
		InitialDelay:    "1ms",
		MaxDelay:        "2ms",
		BackoffStrategy: "fixed",
	}
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc, policy CachePolicy, cacheDir string) *PoloniexAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewPoloniexAdapter(PoloniexOptions{
		BaseURL:           server.URL,
		RequestsPerSecond: 1000,
		Timeout:           2 * time.Second,
		CachePolicy:       policy,
		CacheDir:          cacheDir,
		RetryPolicy:       fastRetry(3),
	}, nil)
}

func TestGetTradeHistory(t *testing.T) {
	var query atomic.Value
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query())
		w.Write([]byte(tradeHistoryBody))
	}, CacheNever, "")

	trades, err := adapter.GetTradeHistory(context.Background(), "BTC", "ETH", 1539700000, 1539710000)
	require.NoError(t, err)

	q := query.Load().(url.Values)
	assert.Equal(t, []string{"returnTradeHistory"}, q["command"])
	assert.Equal(t, []string{"BTC_ETH"}, q["currencyPair"])
	assert.Equal(t, []string{"1539700000"}, q["start"])
	assert.Equal(t, []string{"1539710000"}, q["end"])

	require.Len(t, trades, 2, "dust is filtered")
	assert.Equal(t, models.Trade{
		Time:          1539709429,
		GlobalTradeID: 394127362,
		TradeID:       13536350,
		Type:          models.TradeTypeSell,
		Amount:        0.5,
		Total:         0.01558633,
	}, trades[0])
	assert.Equal(t, int64(394127363), trades[1].GlobalTradeID)
	assert.Equal(t, 1539709430.0, trades[1].Time)
}

func TestGetTradeHistoryEmpty(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}, CacheNever, "")

	trades, err := adapter.GetTradeHistory(context.Background(), "BTC", "ETH", 0, 100)
	require.NoError(t, err)
	assert.NotNil(t, trades)
	assert.Empty(t, trades)
}

func TestGetTradeHistoryAPIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"error": "Invalid currency pair."}`))
	}, CacheNever, "")

	_, err := adapter.GetTradeHistory(context.Background(), "BTC", "NOPE", 0, 100)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid currency pair.", apiErr.Message)
	assert.NotErrorIs(t, err, apperrors.ErrTransientFetch)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetTradeHistoryServerErrorIsTransient(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, CacheNever, "")

	_, err := adapter.GetTradeHistory(context.Background(), "BTC", "ETH", 0, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransientFetch)
	assert.True(t, apperrors.IsRetryable(err))

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusBadGateway, serverErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load(), "retried up to the policy limit")
}

func TestGetTradeHistoryRecoversAfterRetry(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(tradeHistoryBody))
	}, CacheNever, "")

	trades, err := adapter.GetTradeHistory(context.Background(), "BTC", "ETH", 0, 1539710000)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetTradeHistoryMalformedField(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"globalTradeID": 1, "date": "yesterday", "type": "buy", "amount": "1", "total": "1"}]`))
	}, CacheNever, "")

	_, err := adapter.GetTradeHistory(context.Background(), "BTC", "ETH", 0, 100)
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "date", fieldErr.Field)
}

func TestGetTradeHistoryTimeout(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, CacheNever, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := adapter.GetTradeHistory(ctx, "BTC", "ETH", 0, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransientFetch)
}

func TestCachePolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("allow falls back to the cache", func(t *testing.T) {
		dir := t.TempDir()
		var healthy atomic.Bool
		healthy.Store(true)
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			if !healthy.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(tradeHistoryBody))
		}, CacheAllow, dir)

		live, err := adapter.GetTradeHistory(ctx, "BTC", "ETH", 0, 1539710000)
		require.NoError(t, err)

		healthy.Store(false)
		cached, err := adapter.GetTradeHistory(ctx, "BTC", "ETH", 0, 1539710000)
		require.NoError(t, err)
		assert.Equal(t, live, cached)

		_, err = adapter.GetTradeHistory(ctx, "BTC", "ETH", 0, 1)
		assert.ErrorIs(t, err, apperrors.ErrTransientFetch, "a cache miss is still a server error")
	})

	t.Run("never does not write a cache", func(t *testing.T) {
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, CacheNever, "")

		_, err := adapter.GetTradeHistory(ctx, "BTC", "ETH", 0, 100)
		assert.ErrorIs(t, err, apperrors.ErrTransientFetch)
	})

	t.Run("force never touches the network", func(t *testing.T) {
		dir := t.TempDir()
		var calls atomic.Int32
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}, CacheForce, dir)

		_, err := adapter.GetTradeHistory(ctx, "BTC", "ETH", 0, 100)
		assert.ErrorIs(t, err, apperrors.ErrTransientFetch)

		cache := NewFileCache(dir)
		params := map[string][]string{
			"command":      {"returnTradeHistory"},
			"currencyPair": {"BTC_ETH"},
			"start":        {"0"},
			"end":          {"100"},
		}
		require.NoError(t, cache.Put(cache.Key(params), []byte(tradeHistoryBody)))

		trades, err := adapter.GetTradeHistory(ctx, "BTC", "ETH", 0, 100)
		require.NoError(t, err)
		assert.Len(t, trades, 2)
		assert.Equal(t, int32(0), calls.Load())
	})
}

func TestGetMarkets(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "returnTicker", r.URL.Query().Get("command"))
		w.Write([]byte(tickerBody))
	}, CacheNever, "")

	markets, err := adapter.GetMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)

	assert.Equal(t, "BTC_ETH", markets[0].Market)
	assert.Equal(t, "Bitcoin/Ethereum", markets[0].Name)
	assert.Equal(t, 0.03117266, markets[0].Last)
	assert.Equal(t, -0.0123, markets[0].PercentChange)
	assert.False(t, markets[0].Frozen)

	assert.Equal(t, "BTC_XMR", markets[1].Market)
	assert.True(t, markets[1].Frozen)
}

func TestHealthCheck(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tickerBody))
	}, CacheNever, "")
	assert.NoError(t, adapter.HealthCheck(context.Background()))

	down := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, CacheNever, "")
	assert.Error(t, down.HealthCheck(context.Background()))
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Exchange
	adapter, err := NewFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, CacheNever, adapter.CachePolicy())

	cfg.CachePolicy = "sometimes"
	_, err = NewFromConfig(cfg, nil)
	assert.Error(t, err)

	cfg.CachePolicy = "never"
	cfg.Type = "kraken"
	_, err = NewFromConfig(cfg, nil)
	assert.Error(t, err)
}
