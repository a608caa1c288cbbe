package exchange

import (
	"encoding/json"
	"testing"

	"github.com/johnayoung/go-trade-tape/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawObject(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return raw
}

func TestDecodeTrade(t *testing.T) {
	t.Run("numbers as strings or numbers", func(t *testing.T) {
		trade, err := decodeTrade(rawObject(t, `{"globalTradeID": "42", "tradeID": 7,
			"date": "1970-01-01 00:01:40", "type": "buy", "amount": 2, "total": "3.5", "fee": "0.1"}`))
		require.NoError(t, err)
		assert.Equal(t, models.Trade{
			Time: 100, GlobalTradeID: 42, TradeID: 7, Type: models.TradeTypeBuy, Amount: 2, Total: 3.5,
		}, trade)
	})

	t.Run("total derived from rate", func(t *testing.T) {
		trade, err := decodeTrade(rawObject(t, `{"globalTradeID": 1, "date": "1970-01-01 00:00:01",
			"type": "sell", "amount": "0.5", "rate": "0.25"}`))
		require.NoError(t, err)
		assert.Equal(t, 0.125, trade.Total)
	})

	t.Run("null values are skipped", func(t *testing.T) {
		trade, err := decodeTrade(rawObject(t, `{"globalTradeID": 1, "tradeID": null,
			"date": "1970-01-01 00:00:01", "type": "sell", "amount": "1", "total": "1"}`))
		require.NoError(t, err)
		assert.Zero(t, trade.TradeID)
	})

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad date", `{"globalTradeID": 1, "date": "2018/10/16", "type": "buy", "amount": "1", "total": "1"}`, "date"},
		{"bad type", `{"globalTradeID": 1, "date": "2018-10-16 00:00:00", "type": "hold", "amount": "1", "total": "1"}`, "type"},
		{"bad id", `{"globalTradeID": "x1", "date": "2018-10-16 00:00:00", "type": "buy", "amount": "1", "total": "1"}`, "globalTradeID"},
		{"bad amount", `{"globalTradeID": 1, "date": "2018-10-16 00:00:00", "type": "buy", "amount": "lots", "total": "1"}`, "amount"},
		{"object value", `{"globalTradeID": 1, "date": "2018-10-16 00:00:00", "type": "buy", "amount": {}, "total": "1"}`, "amount"},
		{"missing id", `{"date": "2018-10-16 00:00:00", "type": "buy", "amount": "1", "total": "1"}`, "globalTradeID"},
		{"missing total and rate", `{"globalTradeID": 1, "date": "2018-10-16 00:00:00", "type": "buy", "amount": "1"}`, "total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeTrade(rawObject(t, tt.body))
			var fieldErr *FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.field, fieldErr.Field)
		})
	}
}

func TestDecodeTradesRejectsNonArray(t *testing.T) {
	_, err := decodeTrades([]byte(`{"BTC_ETH": []}`))
	assert.Error(t, err)
}

func TestBodyError(t *testing.T) {
	assert.Nil(t, bodyError("op", []byte(`[]`)))
	assert.Nil(t, bodyError("op", []byte(`{"BTC_ETH": {}}`)))

	apiErr := bodyError("op", []byte(` {"error": "Please do not make more than 6 API calls per second."}`))
	require.NotNil(t, apiErr)
	assert.Contains(t, apiErr.Error(), "6 API calls")
}

func TestParseCachePolicy(t *testing.T) {
	for in, want := range map[string]CachePolicy{
		"":       CacheNever,
		"never":  CacheNever,
		"ALLOW":  CacheAllow,
		" force": CacheForce,
	} {
		got, err := ParseCachePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCachePolicy("sometimes")
	assert.Error(t, err)
}

func TestFileCache(t *testing.T) {
	cache := NewFileCache(t.TempDir())
	params := map[string][]string{"command": {"returnTicker"}}
	key := cache.Key(params)

	_, err := cache.Get(key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Put(key, []byte("one")))
	require.NoError(t, cache.Put(key, []byte("two")))
	body, err := cache.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "two", string(body))

	other := cache.Key(map[string][]string{"command": {"returnTradeHistory"}})
	assert.NotEqual(t, key, other)
}
