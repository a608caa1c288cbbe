package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/models"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of trade dates, always UTC
const DateLayout = "2006-01-02 15:04:05"

// fieldParser decodes one wire value into the record being built
type fieldParser[T any] func(value string, rec *T) error

// schema maps wire field names to parsers. Fields not in the schema are ignored.
type schema[T any] map[string]fieldParser[T]

// decode applies s to a raw JSON object
func (s schema[T]) decode(raw map[string]json.RawMessage) (T, error) {
	var rec T
	for name, value := range raw {
		parse, ok := s[name]
		if !ok {
			continue
		}
		text, isNull, err := scalar(value)
		if err != nil {
			return rec, &FieldError{Field: name, Value: string(value), Err: err}
		}
		if isNull {
			continue
		}
		if err := parse(text, &rec); err != nil {
			return rec, &FieldError{Field: name, Value: text, Err: err}
		}
	}
	return rec, nil
}

// scalar turns a JSON string, number or boolean into its text form
func scalar(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return "", true, nil
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, false, nil
	case raw[0] == '{' || raw[0] == '[':
		return "", false, errors.New("expected a scalar value")
	default:
		return string(raw), false, nil
	}
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func parseFloat(s string) (float64, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// wireTrade is a returnTradeHistory entry as decoded from the wire
type wireTrade struct {
	date          time.Time
	hasDate       bool
	tradeType     models.TradeType
	tradeID       int64
	globalTradeID int64
	hasGlobalID   bool
	rate          decimal.Decimal
	amount        decimal.Decimal
	total         decimal.Decimal
	hasRate       bool
	hasAmount     bool
	hasTotal      bool
}

var tradeSchema = schema[wireTrade]{
	"date": func(v string, t *wireTrade) error {
		d, err := time.ParseInLocation(DateLayout, v, time.UTC)
		if err != nil {
			return err
		}
		t.date, t.hasDate = d, true
		return nil
	},
	"type": func(v string, t *wireTrade) error {
		tt := models.TradeType(v)
		if !tt.Valid() {
			return errors.New("want buy or sell")
		}
		t.tradeType = tt
		return nil
	},
	"tradeID": func(v string, t *wireTrade) error {
		id, err := parseInt(v)
		t.tradeID = id
		return err
	},
	"globalTradeID": func(v string, t *wireTrade) error {
		id, err := parseInt(v)
		t.globalTradeID, t.hasGlobalID = id, err == nil
		return err
	},
	"rate": func(v string, t *wireTrade) error {
		d, err := parseDecimal(v)
		t.rate, t.hasRate = d, err == nil
		return err
	},
	"amount": func(v string, t *wireTrade) error {
		d, err := parseDecimal(v)
		t.amount, t.hasAmount = d, err == nil
		return err
	},
	"total": func(v string, t *wireTrade) error {
		d, err := parseDecimal(v)
		t.total, t.hasTotal = d, err == nil
		return err
	},
}

// decodeTrade converts one raw trade object into a Trade. A missing total is
// derived from amount * rate.
func decodeTrade(raw map[string]json.RawMessage) (models.Trade, error) {
	w, err := tradeSchema.decode(raw)
	if err != nil {
		return models.Trade{}, err
	}

	missing := func(field string) error {
		return &FieldError{Field: field, Err: errors.New("missing")}
	}
	switch {
	case !w.hasDate:
		return models.Trade{}, missing("date")
	case w.tradeType == "":
		return models.Trade{}, missing("type")
	case !w.hasGlobalID:
		return models.Trade{}, missing("globalTradeID")
	case !w.hasAmount:
		return models.Trade{}, missing("amount")
	case !w.hasTotal && !w.hasRate:
		return models.Trade{}, missing("total")
	}

	total := w.total
	if !w.hasTotal {
		total = w.amount.Mul(w.rate)
	}
	amount, _ := w.amount.Float64()
	totalF, _ := total.Float64()

	return models.Trade{
		Time:          float64(w.date.Unix()),
		GlobalTradeID: w.globalTradeID,
		TradeID:       w.tradeID,
		Type:          w.tradeType,
		Amount:        amount,
		Total:         totalF,
	}, nil
}

// decodeTrades decodes a returnTradeHistory body
func decodeTrades(body []byte) ([]models.Trade, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse trade history response: %w", err)
	}

	trades := make([]models.Trade, 0, len(raw))
	for i, r := range raw {
		t, err := decodeTrade(r)
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", i, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

var tickerSchema = schema[MarketInfo]{
	"last":          floatField(func(m *MarketInfo) *float64 { return &m.Last }),
	"lowestAsk":     floatField(func(m *MarketInfo) *float64 { return &m.LowestAsk }),
	"highestBid":    floatField(func(m *MarketInfo) *float64 { return &m.HighestBid }),
	"percentChange": floatField(func(m *MarketInfo) *float64 { return &m.PercentChange }),
	"baseVolume":    floatField(func(m *MarketInfo) *float64 { return &m.BaseVolume }),
	"quoteVolume":   floatField(func(m *MarketInfo) *float64 { return &m.QuoteVolume }),
	"high24hr":      floatField(func(m *MarketInfo) *float64 { return &m.High24h }),
	"low24hr":       floatField(func(m *MarketInfo) *float64 { return &m.Low24h }),
	"isFrozen": func(v string, m *MarketInfo) error {
		m.Frozen = v != "0"
		return nil
	},
}

func floatField(dst func(*MarketInfo) *float64) fieldParser[MarketInfo] {
	return func(v string, m *MarketInfo) error {
		f, err := parseFloat(v)
		if err != nil {
			return err
		}
		*dst(m) = f
		return nil
	}
}

// decodeTicker decodes a returnTicker body keyed by market
func decodeTicker(body []byte) ([]MarketInfo, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ticker response: %w", err)
	}

	markets := make([]MarketInfo, 0, len(raw))
	for name, fields := range raw {
		info, err := tickerSchema.decode(fields)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", name, err)
		}
		info.Market = name
		if m, err := models.ParseMarket(name); err == nil {
			info.Name = m.FriendlyName()
		}
		markets = append(markets, info)
	}
	return markets, nil
}
