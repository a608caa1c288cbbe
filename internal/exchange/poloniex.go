package exchange

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-trade-tape/internal/config"
	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/models"
	"golang.org/x/time/rate"
)

const (
	// Poloniex public API base URL
	poloniexBaseURL = "https://poloniex.com/public"

	commandTradeHistory = "returnTradeHistory"
	commandTicker       = "returnTicker"

	defaultRequestsPerSecond = 6
	defaultRequestTimeout    = 15 * time.Second
	healthCheckTimeout       = 5 * time.Second
	userAgent                = "go-trade-tape/1.0"
)

// PoloniexOptions configures a PoloniexAdapter
type PoloniexOptions struct {
	BaseURL           string
	RequestsPerSecond int
	Timeout           time.Duration
	CachePolicy       CachePolicy
	CacheDir          string
	RetryPolicy       config.RetryPolicyConfig
	// HTTPClient overrides the default client; Timeout is ignored when set
	HTTPClient *http.Client
}

// PoloniexAdapter implements TradeSource against the Poloniex public REST API.
type PoloniexAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	policy      CachePolicy
	cache       *FileCache
	retry       config.RetryPolicyConfig
	logger      *slog.Logger
}

// NewPoloniexAdapter creates an adapter. The cache policy is fixed for the
// adapter's lifetime.
func NewPoloniexAdapter(opts PoloniexOptions, logger *slog.Logger) *PoloniexAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = poloniexBaseURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	if opts.CachePolicy == "" {
		opts.CachePolicy = CacheNever
	}
	if opts.RetryPolicy.MaxAttempts <= 0 {
		opts.RetryPolicy.MaxAttempts = 1
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var cache *FileCache
	if opts.CachePolicy != CacheNever {
		cache = NewFileCache(opts.CacheDir)
	}

	return &PoloniexAdapter{
		httpClient:  client,
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		baseURL:     strings.TrimRight(opts.BaseURL, "?"),
		policy:      opts.CachePolicy,
		cache:       cache,
		retry:       opts.RetryPolicy,
		logger:      logger.With("component", "poloniex"),
	}
}

// NewFromConfig creates the source selected by cfg.Type
func NewFromConfig(cfg config.ExchangeConfig, logger *slog.Logger) (*PoloniexAdapter, error) {
	if cfg.Type != "" && cfg.Type != "poloniex" {
		return nil, fmt.Errorf("unsupported exchange type: %s", cfg.Type)
	}
	policy, err := ParseCachePolicy(cfg.CachePolicy)
	if err != nil {
		return nil, err
	}
	return NewPoloniexAdapter(PoloniexOptions{
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RateLimit,
		Timeout:           config.Duration(cfg.Timeout),
		CachePolicy:       policy,
		CacheDir:          cfg.CacheDir,
		RetryPolicy:       cfg.RetryPolicy,
	}, logger), nil
}

// CachePolicy returns the policy the adapter was built with
func (p *PoloniexAdapter) CachePolicy() CachePolicy {
	return p.policy
}

// GetTradeHistory implements TradeHistoryFetcher
func (p *PoloniexAdapter) GetTradeHistory(ctx context.Context, base, quote string, start, end float64) ([]models.Trade, error) {
	if base == "" || quote == "" {
		return nil, fmt.Errorf("%w: base and quote are required", apperrors.ErrInvalidMarket)
	}
	if end < start {
		return nil, fmt.Errorf("invalid window: end %.0f before start %.0f", end, start)
	}
	if start < 0 {
		start = 0
	}

	params := url.Values{}
	params.Set("command", commandTradeHistory)
	params.Set("currencyPair", base+"_"+quote)
	params.Set("start", strconv.FormatInt(int64(start), 10))
	params.Set("end", strconv.FormatInt(int64(end), 10))

	body, err := p.fetch(ctx, commandTradeHistory, params)
	if err != nil {
		return nil, err
	}

	trades, err := decodeTrades(body)
	if err != nil {
		return nil, err
	}

	fetched := len(trades)
	trades = models.FilterDust(trades)
	slices.SortStableFunc(trades, func(a, b models.Trade) int {
		if c := cmp.Compare(a.Time, b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.GlobalTradeID, b.GlobalTradeID)
	})

	p.logger.Debug("fetched trade history",
		"market", base+"_"+quote,
		"start", int64(start),
		"end", int64(end),
		"trades", len(trades),
		"dust", fetched-len(trades))

	return trades, nil
}

// GetMarkets implements MarketLister using the ticker
func (p *PoloniexAdapter) GetMarkets(ctx context.Context) ([]MarketInfo, error) {
	params := url.Values{}
	params.Set("command", commandTicker)

	body, err := p.fetch(ctx, commandTicker, params)
	if err != nil {
		return nil, err
	}

	markets, err := decodeTicker(body)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(markets, func(a, b MarketInfo) int {
		return strings.Compare(a.Market, b.Market)
	})
	return markets, nil
}

// HealthCheck performs a single ticker request without retries or cache
func (p *PoloniexAdapter) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("command", commandTicker)
	if _, err := p.do(healthCtx, commandTicker, params); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	p.logger.Debug("health check passed")
	return nil
}

// fetch applies the cache policy around a live request
func (p *PoloniexAdapter) fetch(ctx context.Context, op string, params url.Values) ([]byte, error) {
	if p.policy == CacheForce {
		body, err := p.cache.Get(p.cache.Key(params))
		if err != nil {
			return nil, &ServerError{Op: op, Err: fmt.Errorf("cache only: %w", err)}
		}
		return body, nil
	}

	body, err := p.fetchWithRetry(ctx, op, params)
	if err == nil {
		if p.policy == CacheAllow {
			if cerr := p.cache.Put(p.cache.Key(params), body); cerr != nil {
				p.logger.Warn("failed to cache response", "command", op, "error", cerr)
			}
		}
		return body, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) || p.policy != CacheAllow {
		return nil, err
	}

	cached, cerr := p.cache.Get(p.cache.Key(params))
	if cerr != nil {
		return nil, err
	}
	p.logger.Warn("using cached response", "command", op, "params", params.Encode(), "error", err)
	return cached, nil
}

func (p *PoloniexAdapter) fetchWithRetry(ctx context.Context, op string, params url.Values) ([]byte, error) {
	var body []byte

	operation := func() error {
		b, err := p.do(ctx, op, params)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("request failed, retrying", "command", op, "retry_in", wait, "error", err)
	}

	strategy := backoff.WithContext(apperrors.NewBackOff(p.retry), ctx)
	if err := backoff.RetryNotify(operation, strategy, notify); err != nil {
		var (
			serverErr *ServerError
			apiErr    *APIError
		)
		if errors.As(err, &serverErr) || errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, &ServerError{Op: op, Err: err}
	}
	return body, nil
}

// do sends one request and returns the body, a *ServerError or an *APIError
func (p *PoloniexAdapter) do(ctx context.Context, op string, params url.Values) ([]byte, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, &ServerError{Op: op, Err: fmt.Errorf("rate limit wait failed: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &APIError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ServerError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServerError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &ServerError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode >= 400:
		if apiErr := bodyError(op, body); apiErr != nil {
			return nil, apiErr
		}
		return nil, &APIError{Op: op, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body))}
	}

	if apiErr := bodyError(op, body); apiErr != nil {
		return nil, apiErr
	}
	return body, nil
}

// bodyError extracts an {"error": "..."} reply
func bodyError(op string, body []byte) *APIError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var reply struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &reply); err != nil || reply.Error == nil {
		return nil
	}
	return &APIError{Op: op, Message: *reply.Error}
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// Compile-time interface compliance check
var _ TradeSource = (*PoloniexAdapter)(nil)
