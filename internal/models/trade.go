// Package models provides the data structures shared across the trade tape:
// trades, markets and the buckets derived from them.
package models

import (
	"fmt"
	"math"
	"time"
)

// Epsilon is the dust threshold. Trades whose amount or total do not exceed it
// are dropped at ingestion.
const Epsilon = 1e-6

// TradeType is the taker side of a trade
type TradeType string

const (
	TradeTypeBuy  TradeType = "buy"
	TradeTypeSell TradeType = "sell"
)

// Valid reports whether t is buy or sell
func (t TradeType) Valid() bool {
	return t == TradeTypeBuy || t == TradeTypeSell
}

// Trade represents one executed trade on a market.
// Time is seconds since the Unix epoch; Total is denominated in the quote currency.
type Trade struct {
	Time          float64   `json:"time" db:"time"`
	GlobalTradeID int64     `json:"globalTradeID" db:"global_trade_id"`
	TradeID       int64     `json:"tradeID,omitempty" db:"trade_id"`
	Type          TradeType `json:"type" db:"type"`
	Amount        float64   `json:"amount" db:"amount"`
	Total         float64   `json:"total" db:"total"`
}

// ValidationError represents a trade validation error with specific field context
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Rate returns the unit price, total / amount
func (t Trade) Rate() float64 {
	if t.Amount == 0 {
		return 0
	}
	return t.Total / t.Amount
}

// Timestamp returns the trade time in UTC
func (t Trade) Timestamp() time.Time {
	sec, frac := math.Modf(t.Time)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// IsDust reports whether the trade is too small to enter a log
func (t Trade) IsDust() bool {
	return t.Amount <= Epsilon || t.Total <= Epsilon
}

// Validate checks the fields a trade log relies on
func (t Trade) Validate() error {
	if t.Time < 0 || math.IsNaN(t.Time) || math.IsInf(t.Time, 0) {
		return &ValidationError{Field: "time", Message: fmt.Sprintf("invalid time %v", t.Time)}
	}
	if !t.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown trade type %q", t.Type)}
	}
	if !(t.Amount > 0) || math.IsInf(t.Amount, 0) {
		return &ValidationError{Field: "amount", Message: "amount must be greater than 0"}
	}
	if !(t.Total > 0) || math.IsInf(t.Total, 0) {
		return &ValidationError{Field: "total", Message: "total must be greater than 0"}
	}
	return nil
}

// FilterDust returns trades without dust entries. The input is not modified.
func FilterDust(trades []Trade) []Trade {
	out := make([]Trade, 0, len(trades))
	for _, t := range trades {
		if !t.IsDust() {
			out = append(out, t)
		}
	}
	return out
}

// RateSummary is the volume-weighted rate over a run of trades
type RateSummary struct {
	Rate   float64 `json:"rate"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Trades int     `json:"trades"`
}

// SummarizeRate computes sum(total)/sum(amount) and the rate range of trades.
// ok is false when trades is empty or carries no volume.
func SummarizeRate(trades []Trade) (RateSummary, bool) {
	if len(trades) == 0 {
		return RateSummary{}, false
	}

	var total, amount float64
	summary := RateSummary{Min: math.Inf(1), Max: math.Inf(-1), Trades: len(trades)}
	for _, t := range trades {
		total += t.Total
		amount += t.Amount
		r := t.Rate()
		summary.Min = math.Min(summary.Min, r)
		summary.Max = math.Max(summary.Max, r)
	}
	if amount == 0 {
		return RateSummary{}, false
	}
	summary.Rate = total / amount
	return summary, true
}
