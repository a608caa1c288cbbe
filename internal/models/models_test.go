package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeRateAndTimestamp(t *testing.T) {
	trade := Trade{Time: 1500000000.5, Amount: 2, Total: 0.1, Type: TradeTypeBuy, GlobalTradeID: 7}

	assert.InDelta(t, 0.05, trade.Rate(), 1e-12)
	assert.Equal(t, time.Date(2017, 7, 14, 2, 40, 0, 500000000, time.UTC), trade.Timestamp())
	assert.Zero(t, Trade{}.Rate())
}

func TestTradeValidate(t *testing.T) {
	valid := Trade{Time: 10, Amount: 1, Total: 2, Type: TradeTypeSell}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		trade Trade
		field string
	}{
		{"negative time", Trade{Time: -1, Amount: 1, Total: 1, Type: TradeTypeBuy}, "time"},
		{"bad type", Trade{Time: 1, Amount: 1, Total: 1, Type: "margin"}, "type"},
		{"zero amount", Trade{Time: 1, Amount: 0, Total: 1, Type: TradeTypeBuy}, "amount"},
		{"negative total", Trade{Time: 1, Amount: 1, Total: -3, Type: TradeTypeBuy}, "total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trade.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestFilterDust(t *testing.T) {
	trades := []Trade{
		{GlobalTradeID: 1, Amount: 1, Total: 1},
		{GlobalTradeID: 2, Amount: Epsilon, Total: 1},
		{GlobalTradeID: 3, Amount: 1, Total: 0.0000005},
		{GlobalTradeID: 4, Amount: 0.00001, Total: 0.00001},
	}

	kept := FilterDust(trades)
	require.Len(t, kept, 2)
	assert.Equal(t, int64(1), kept[0].GlobalTradeID)
	assert.Equal(t, int64(4), kept[1].GlobalTradeID)
	assert.Len(t, trades, 4, "input untouched")
}

func TestSummarizeRate(t *testing.T) {
	summary, ok := SummarizeRate([]Trade{
		{Amount: 1, Total: 10},
		{Amount: 3, Total: 36},
	})
	require.True(t, ok)
	assert.InDelta(t, 11.5, summary.Rate, 1e-12)
	assert.Equal(t, 10.0, summary.Min)
	assert.Equal(t, 12.0, summary.Max)
	assert.Equal(t, 2, summary.Trades)

	_, ok = SummarizeRate(nil)
	assert.False(t, ok)
}

func TestParseMarket(t *testing.T) {
	m, err := ParseMarket("BTC_ETH")
	require.NoError(t, err)
	assert.Equal(t, "BTC", m.Base())
	assert.Equal(t, "ETH", m.Quote())
	assert.Equal(t, "BTC_ETH", m.String())
	assert.Equal(t, "Bitcoin/Ethereum", m.FriendlyName())

	m, err = ParseMarket("USDT_ZZZ")
	require.NoError(t, err)
	assert.Equal(t, "USDTether/unknown(ZZZ)", m.FriendlyName())

	for _, bad := range []string{"", "BTC", "BTC_", "_ETH", "BTC_ETH_XMR", "btc_eth", "BTC-ETH", "BTC_E H"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseMarket(bad)
			var merr *MarketError
			assert.ErrorAs(t, err, &merr)
		})
	}

	assert.Panics(t, func() { MustParseMarket("nope") })
	assert.True(t, Market{}.IsZero())
}

func TestBucketAccumulates(t *testing.T) {
	var b Bucket
	b.Add(Trade{Type: TradeTypeBuy, Amount: 1, Total: 10})
	b.Add(Trade{Type: TradeTypeSell, Amount: 1, Total: 14})
	b.Add(Trade{Type: TradeTypeBuy, Amount: 2, Total: 16})

	assert.Equal(t, 26.0, b.TotalBuy)
	assert.Equal(t, 3.0, b.AmountBuy)
	assert.Equal(t, 14.0, b.TotalSell)
	assert.Equal(t, 1.0, b.AmountSell)
	assert.Equal(t, 4.0, b.Amount())
	assert.Equal(t, 40.0, b.Total())
	assert.Equal(t, 10.0, b.Rate())
	assert.Equal(t, 10.0, b.Open)
	assert.Equal(t, 14.0, b.High)
	assert.Equal(t, 8.0, b.Low)
	assert.Equal(t, 8.0, b.Close)
	assert.Equal(t, 3, b.Count)

	assert.Zero(t, Bucket{}.Rate())
}
