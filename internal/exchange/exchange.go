// Package exchange defines the trade source contract and its Poloniex
// implementation.
//
// A source returns the trades of a market inside a time window, ascending by
// time and with dust already removed. I/O failures surface as *ServerError,
// which callers treat as transient: back off and retry, never drop local data.
package exchange

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/models"
)

// TradeHistoryFetcher retrieves executed trades for a market.
type TradeHistoryFetcher interface {
	// GetTradeHistory returns the trades of base_quote between start and end,
	// in seconds since epoch, bounds included as the source reports them.
	// Results are sorted ascending by time (ties by GlobalTradeID) and carry no
	// dust. Zero results is an empty slice, not an error. Start 0 asks for as
	// much history as the source will give.
	GetTradeHistory(ctx context.Context, base, quote string, start, end float64) ([]models.Trade, error)
}

// MarketLister lists the markets a source offers.
type MarketLister interface {
	GetMarkets(ctx context.Context) ([]MarketInfo, error)
}

// HealthChecker provides health monitoring capabilities for exchange connections.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TradeSource combines all source capabilities
type TradeSource interface {
	TradeHistoryFetcher
	MarketLister
	HealthChecker
}

// MarketInfo is a ticker entry for one market
type MarketInfo struct {
	Market        string  `json:"market"`
	Name          string  `json:"name"`
	Last          float64 `json:"last"`
	LowestAsk     float64 `json:"lowest_ask"`
	HighestBid    float64 `json:"highest_bid"`
	PercentChange float64 `json:"percent_change"`
	BaseVolume    float64 `json:"base_volume"`
	QuoteVolume   float64 `json:"quote_volume"`
	High24h       float64 `json:"high_24h"`
	Low24h        float64 `json:"low_24h"`
	Frozen        bool    `json:"frozen"`
}

// CachePolicy controls how a source uses its response cache
type CachePolicy string

const (
	// CacheNever always goes to the network
	CacheNever CachePolicy = "never"
	// CacheAllow goes to the network, stores successful responses and falls
	// back to the cache when the network fails
	CacheAllow CachePolicy = "allow"
	// CacheForce serves from the cache only
	CacheForce CachePolicy = "force"
)

// ParseCachePolicy parses a policy name, case-insensitively
func ParseCachePolicy(s string) (CachePolicy, error) {
	switch p := CachePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case CacheNever, CacheAllow, CacheForce:
		return p, nil
	case "":
		return CacheNever, nil
	default:
		return "", fmt.Errorf("unknown cache policy %q (want never, allow or force)", s)
	}
}

// ServerError is an I/O failure or timeout talking to the source. It matches
// errors.ErrTransientFetch under errors.Is.
type ServerError struct {
	// Op is the source command that failed
	Op string
	// StatusCode is the HTTP status, 0 when no response arrived
	StatusCode int
	Err        error
}

func (e *ServerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("server error during %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("server error during %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the transient sentinel and the cause
func (e *ServerError) Unwrap() []error {
	return []error{apperrors.ErrTransientFetch, e.Err}
}

// APIError is an error reported by the source in a response body. Retrying
// the same request will not help.
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s rejected by source: %s", e.Op, e.Message)
}

// FieldError reports a wire field that could not be decoded
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: cannot decode %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
