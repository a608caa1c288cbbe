// Package history is the single-writer handle of one market's trade tape. It
// runs the fetch planner against the trade source, merges and trims the log,
// persists it, and derives buckets, smoothed rates and signals from it.
//
// Every method takes the handle's lock, so two fetch rounds for the same
// market never overlap. Different markets use different handles.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/bucket"
	"github.com/johnayoung/go-trade-tape/internal/config"
	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/exchange"
	"github.com/johnayoung/go-trade-tape/internal/indicators"
	"github.com/johnayoung/go-trade-tape/internal/logger"
	"github.com/johnayoung/go-trade-tape/internal/models"
	"github.com/johnayoung/go-trade-tape/internal/planner"
	"github.com/johnayoung/go-trade-tape/internal/signal"
	"github.com/johnayoung/go-trade-tape/internal/storage"
	"github.com/johnayoung/go-trade-tape/internal/tradelog"
)

// ErrEmptyLog is returned by queries that need at least one trade
var ErrEmptyLog = errors.New("trade log is empty")

// RateWindow is the number of most recent trades CurrentRate looks at
const RateWindow = 20

const (
	defaultFetchTimeout = 30 * time.Second
	defaultEMAFactor    = 0.005
	defaultPlotCut      = 50
)

// Options configure a History
type Options struct {
	Planner      *planner.Planner
	FetchTimeout time.Duration
	// FlushTrailingBucket makes RateBuckets include the open trailing slot
	FlushTrailingBucket bool
	// Now overrides the wall clock
	Now func() time.Time
}

// OptionsFromConfig builds Options from the history and analysis sections
func OptionsFromConfig(h config.HistoryConfig, a config.AnalysisConfig) Options {
	return Options{
		Planner:             planner.FromConfig(h),
		FetchTimeout:        config.Duration(h.FetchTimeout),
		FlushTrailingBucket: a.FlushTrailingBucket,
	}
}

// Round describes one FetchRound
type Round struct {
	Plan planner.Plan
	// Fetched is the number of trades the source returned
	Fetched int
	Merge   tradelog.MergeOutcome
	// Reset is set when a discontiguous batch replaced the log
	Reset   bool
	Trimmed int
	Elapsed time.Duration
	// Before and After bound the log around the round
	Before planner.LogState
	After  planner.LogState
}

// Changed reports whether the round moved the log. A backfill that the
// retention trim drops again leaves the bounds as they were and is no change.
func (r Round) Changed() bool {
	return r.Reset || r.Before != r.After
}

// History is the trade tape of one market
type History struct {
	mu           sync.Mutex
	market       models.Market
	log          *tradelog.Log
	fetcher      exchange.TradeHistoryFetcher
	store        storage.TradeLogStore
	planner      *planner.Planner
	fetchTimeout time.Duration
	flushBucket  bool
	now          func() time.Time
	logger       *slog.Logger
}

// New creates an empty history for market. store may be nil when the
// history is never saved or loaded.
func New(market models.Market, fetcher exchange.TradeHistoryFetcher, store storage.TradeLogStore, opts Options, log *slog.Logger) *History {
	if log == nil {
		log = slog.Default()
	}
	if opts.Planner == nil {
		opts.Planner = planner.New()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := log.With("component", "history", "market", market.String())
	return &History{
		market:       market,
		log:          tradelog.New(market.String(), l),
		fetcher:      fetcher,
		store:        store,
		planner:      opts.Planner,
		fetchTimeout: opts.FetchTimeout,
		flushBucket:  opts.FlushTrailingBucket,
		now:          opts.Now,
		logger:       l,
	}
}

// Market returns the market the history tracks
func (h *History) Market() models.Market { return h.market }

// String summarises the log, e.g. "BTC_ETH: 1200 trades over 23.9h"
func (h *History) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("%s: %d trades over %.1fh", h.market, h.log.Count(), h.log.Duration()/3600)
}

// Count returns the number of trades
func (h *History) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.Count()
}

// Duration returns the covered time span in seconds
func (h *History) Duration() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.Duration()
}

// FirstTime returns the time of the oldest trade, 0 when empty
func (h *History) FirstTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.FirstTime()
}

// LastTime returns the time of the newest trade, 0 when empty
func (h *History) LastTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.LastTime()
}

// LastRate returns the rate of the newest trade, 0 when empty
func (h *History) LastRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.LastRate()
}

// Data returns a copy of the trades
func (h *History) Data() []models.Trade {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.Snapshot()
}

// Tail returns a copy of the last n trades
func (h *History) Tail(n int) []models.Trade {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.Tail(n)
}

// Plan returns what the next fetch round would do, without doing it
func (h *History) Plan(opts planner.Options) planner.Plan {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plan(opts)
}

func (h *History) plan(opts planner.Options) planner.Plan {
	return h.planner.Plan(h.state(), nowSeconds(h.now()), opts)
}

func (h *History) state() planner.LogState {
	return planner.LogState{
		Count:     h.log.Count(),
		FirstTime: h.log.FirstTime(),
		LastTime:  h.log.LastTime(),
	}
}

// FetchNext runs one planning round and reports whether a fetch happened.
// It returns false once the log is satisfied.
func (h *History) FetchNext(ctx context.Context, opts planner.Options) (bool, error) {
	round, err := h.FetchRound(ctx, opts)
	return round.Plan.Fetch() && err == nil, err
}

// FetchRound plans, fetches, merges and trims once.
//
// A batch that leaves a strict gap against the log replaces the log, unless
// opts.Unbounded is set, in which case the error is returned and the log is
// kept. Fetch failures are returned as they are and never touch the log.
func (h *History) FetchRound(ctx context.Context, opts planner.Options) (Round, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	log := logger.FromContext(ctx, h.logger)

	before := h.state()
	round := Round{Plan: h.plan(opts), Before: before, After: before}
	if round.Plan.BigGap {
		log.Warn("trade log head is far behind",
			"last_trade", h.log.LastTime(),
			"gap_hours", (nowSeconds(h.now())-h.log.LastTime())/3600)
	}
	if !round.Plan.Fetch() {
		return round, nil
	}

	window := round.Plan.Window
	fetchCtx, cancel := context.WithTimeout(ctx, h.fetchTimeout)
	batch, err := h.fetcher.GetTradeHistory(fetchCtx, h.market.Base(), h.market.Quote(), window.Start, window.End)
	cancel()
	if err != nil {
		return round, fmt.Errorf("fetch %s %s: %w", h.market, window, err)
	}
	batch = models.FilterDust(batch)
	round.Fetched = len(batch)

	outcome, err := h.log.Merge(batch)
	var gapErr *tradelog.DiscontiguityError
	switch {
	case errors.As(err, &gapErr):
		if opts.Unbounded {
			return round, err
		}
		log.Warn("fetched batch does not connect to the trade log, replacing it",
			"gap_hours", gapErr.Gap/3600,
			"state", round.Plan.State,
			"window", window.String(),
			"dropped", h.log.Count(),
			"adopted", len(batch))
		if err := h.log.Replace(batch); err != nil {
			return round, err
		}
		round.Reset = true
	case err != nil:
		return round, fmt.Errorf("merge %s: %w", h.market, err)
	default:
		round.Merge = outcome
	}

	if !opts.Unbounded {
		round.Trimmed = h.log.Trim(h.planner.Retention)
	}
	round.After = h.state()

	round.Elapsed = time.Since(start)
	log.Debug("fetch round complete",
		"state", round.Plan.State,
		"window", window.String(),
		"fetched", round.Fetched,
		"merge", round.Merge.Kind,
		"added", round.Merge.Added,
		"trimmed", round.Trimmed,
		"count", h.log.Count())
	return round, nil
}

// Save persists the log
func (h *History) Save(ctx context.Context) error {
	if h.store == nil {
		return errors.New("history has no store")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Save(ctx, h.market.String(), h.log.Snapshot())
}

// Load replaces the log with the persisted one. Nothing persisted yields an
// empty log. On any other failure the log is left as it was.
func (h *History) Load(ctx context.Context) error {
	if h.store == nil {
		return errors.New("history has no store")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	trades, err := h.store.Load(ctx, h.market.String())
	if errors.Is(err, storage.ErrNotFound) {
		h.log.Clear()
		return nil
	}
	if err != nil {
		return err
	}
	if err := h.log.Replace(trades); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrCorruptPersistedState, err)
	}
	h.logger.Debug("loaded trade log", "count", h.log.Count())
	return nil
}

// CurrentRate summarises the last RateWindow trades
func (h *History) CurrentRate() (models.RateSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	summary, ok := models.SummarizeRate(h.log.Tail(RateWindow))
	if !ok {
		return models.RateSummary{}, fmt.Errorf("%s: %w", h.market, ErrEmptyLog)
	}
	return summary, nil
}

// RateBuckets aggregates the log into slots of size seconds. The open
// trailing slot is included only when the history was built with
// FlushTrailingBucket.
func (h *History) RateBuckets(size float64) ([]models.Bucket, error) {
	return h.Buckets(size, h.flushBucket)
}

// Buckets aggregates the log, choosing the trailing-slot behavior explicitly
func (h *History) Buckets(size float64, trailing bool) ([]models.Bucket, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if trailing {
		return bucket.BucketizeWithTrailing(h.log.Snapshot(), size)
	}
	return bucket.Bucketize(h.log.Snapshot(), size)
}

// PlotData returns trade times and the volume-weighted EMA of the rate, with
// the first cut points dropped. A non-positive factor or a negative cut uses
// the default; cut 0 keeps every point.
func (h *History) PlotData(emaFactor float64, cut int) (times, vema []float64, err error) {
	if emaFactor <= 0 {
		emaFactor = defaultEMAFactor
	}
	if cut < 0 {
		cut = defaultPlotCut
	}

	trades := h.Data()
	if len(trades) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", h.market, ErrEmptyLog)
	}
	times = make([]float64, len(trades))
	totals := make([]float64, len(trades))
	amounts := make([]float64, len(trades))
	for i, t := range trades {
		times[i] = t.Time
		totals[i] = t.Total
		amounts[i] = t.Amount
	}

	vema, err = indicators.VEMA(totals, amounts, emaFactor)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", h.market, err)
	}

	if cut > len(vema) {
		cut = len(vema)
	}
	return times[cut:], vema[cut:], nil
}

// TimedSignal is a signal placed at its bucket
type TimedSignal struct {
	Time float64     `json:"time"`
	Kind signal.Kind `json:"kind"`
	Rate float64     `json:"rate"`
}

// SignalReport is the outcome of Signals
type SignalReport struct {
	Market  string             `json:"market"`
	Buckets int                `json:"buckets"`
	Signals []TimedSignal      `json:"signals"`
	Trips   []signal.RoundTrip `json:"trips"`
	Summary signal.Summary     `json:"summary"`
}

// Signals buckets the log, smooths the bucket rates with three SMAs and runs
// the crossover generator over them. A trailing unmatched buy is dropped.
func (h *History) Signals(bucketSize float64, fast, medium, slow int) (SignalReport, error) {
	if h.Count() == 0 {
		return SignalReport{}, fmt.Errorf("%s: %w", h.market, ErrEmptyLog)
	}
	buckets, err := h.RateBuckets(bucketSize)
	if err != nil {
		return SignalReport{}, err
	}
	rates := bucket.Rates(buckets)
	starts := bucket.Starts(buckets)

	var smoothed [3][]float64
	for i, window := range []int{fast, medium, slow} {
		if smoothed[i], err = indicators.SMA(rates, window); err != nil {
			return SignalReport{}, err
		}
	}
	aligned := indicators.TrimToShortest(smoothed[0], smoothed[1], smoothed[2])
	n := len(aligned[0])
	rates = rates[len(rates)-n:]
	starts = starts[len(starts)-n:]

	signals, err := signal.Generate(aligned[0], aligned[1], aligned[2])
	if err != nil {
		return SignalReport{}, err
	}
	signals = signal.Finalize(signals)

	trips, err := signal.RoundTrips(signals, rates)
	if err != nil {
		return SignalReport{}, err
	}

	report := SignalReport{
		Market:  h.market.String(),
		Buckets: len(buckets),
		Signals: make([]TimedSignal, len(signals)),
		Trips:   trips,
		Summary: signal.Summarize(trips),
	}
	for i, s := range signals {
		report.Signals[i] = TimedSignal{Time: starts[s.Index], Kind: s.Kind, Rate: rates[s.Index]}
	}
	return report, nil
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
