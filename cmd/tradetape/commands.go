package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/api"
	"github.com/johnayoung/go-trade-tape/internal/collector"
	"github.com/johnayoung/go-trade-tape/internal/config"
	"github.com/johnayoung/go-trade-tape/internal/history"
)

// handleFetch handles the 'fetch' command: one sync of one market
func (cli *CLI) handleFetch(ctx context.Context, args []string) error {
	flags, err := parseFetchFlags(args)
	if err != nil {
		return err
	}

	req := collector.RequestFromConfig(cli.config.Collector)
	if flags.MinDuration != "" {
		req.MinDuration = config.Seconds(flags.MinDuration)
	}
	if flags.MaxRounds > 0 {
		req.MaxRounds = flags.MaxRounds
	}
	req.OnlyOld = flags.OnlyOld
	req.Unbounded = flags.Unbounded

	if _, err := cli.collector.Subscribe(flags.Market); err != nil {
		return err
	}

	cli.logger.Info("starting fetch",
		"market", flags.Market,
		"min_hours", req.MinDuration/3600,
		"only_old", req.OnlyOld,
		"unbounded", req.Unbounded)

	result, err := cli.collector.Sync(ctx, flags.Market, req)
	printSyncResult(result)
	return err
}

// openHistory opens the market, syncing it first when --refresh was given
func (cli *CLI) openHistory(ctx context.Context, flags *AnalysisFlags) (*history.History, error) {
	h, err := cli.collector.Open(ctx, flags.Market)
	if err != nil {
		return nil, err
	}
	if flags.Refresh {
		result, err := cli.collector.Sync(ctx, flags.Market, collector.RequestFromConfig(cli.config.Collector))
		if err != nil {
			return nil, fmt.Errorf("refresh %s: %w", flags.Market, err)
		}
		cli.logger.Debug("refreshed", "market", result.Market, "added", result.Added, "count", result.Count)
	}
	if h.Count() == 0 {
		cli.logger.Warn("no trades stored, run fetch first or pass --refresh", "market", flags.Market)
	}
	return h, nil
}

func (cli *CLI) bucketSize(flags *AnalysisFlags) float64 {
	if flags.Size != "" {
		return config.Seconds(flags.Size)
	}
	return config.Seconds(cli.config.Analysis.BucketSize)
}

// handleRate handles the 'rate' command
func (cli *CLI) handleRate(ctx context.Context, args []string) error {
	flags, err := parseAnalysisFlags(args)
	if err != nil {
		return err
	}
	h, err := cli.openHistory(ctx, flags)
	if err != nil {
		return err
	}
	summary, err := h.CurrentRate()
	if err != nil {
		return err
	}
	return outputRate(flags.Format, h.Market().String(), summary)
}

// handleBuckets handles the 'buckets' command
func (cli *CLI) handleBuckets(ctx context.Context, args []string) error {
	flags, err := parseAnalysisFlags(args)
	if err != nil {
		return err
	}
	h, err := cli.openHistory(ctx, flags)
	if err != nil {
		return err
	}
	trailing := flags.Trailing || cli.config.Analysis.FlushTrailingBucket
	buckets, err := h.Buckets(cli.bucketSize(flags), trailing)
	if err != nil {
		return err
	}
	return outputBuckets(flags.Format, buckets)
}

// handlePlot handles the 'plot' command: the smoothed rate series
func (cli *CLI) handlePlot(ctx context.Context, args []string) error {
	flags, err := parseAnalysisFlags(args)
	if err != nil {
		return err
	}
	h, err := cli.openHistory(ctx, flags)
	if err != nil {
		return err
	}

	factor := flags.EMA
	if factor == 0 {
		factor = cli.config.Analysis.EMAFactor
	}
	cut := flags.Cut
	if cut < 0 {
		cut = cli.config.Analysis.PlotCut
	}
	times, vema, err := h.PlotData(factor, cut)
	if err != nil {
		return err
	}
	return outputSeries(flags.Format, times, vema)
}

// handleSignals handles the 'signals' command
func (cli *CLI) handleSignals(ctx context.Context, args []string) error {
	flags, err := parseAnalysisFlags(args)
	if err != nil {
		return err
	}
	h, err := cli.openHistory(ctx, flags)
	if err != nil {
		return err
	}

	pick := func(flag, def int) int {
		if flag > 0 {
			return flag
		}
		return def
	}
	a := cli.config.Analysis
	report, err := h.Signals(cli.bucketSize(flags),
		pick(flags.Fast, a.FastWindow),
		pick(flags.Medium, a.MediumWindow),
		pick(flags.Slow, a.SlowWindow))
	if err != nil {
		return err
	}
	return outputSignals(flags.Format, report)
}

// handleMarkets handles the 'markets' command: stored logs, or the source's
// ticker with --remote
func (cli *CLI) handleMarkets(ctx context.Context, args []string) error {
	flags, err := parseMarketsFlags(args)
	if err != nil {
		return err
	}

	if flags.Remote {
		markets, err := cli.exchange.GetMarkets(ctx)
		if err != nil {
			return fmt.Errorf("list source markets: %w", err)
		}
		return outputMarketInfo(flags.Format, markets)
	}

	names, err := cli.storage.Markets(ctx)
	if err != nil {
		return fmt.Errorf("list stored markets: %w", err)
	}
	summaries := make([]api.MarketSummary, 0, len(names))
	for _, name := range names {
		h, err := cli.collector.Open(ctx, name)
		if err != nil {
			cli.logger.Warn("skipping unreadable market", "market", name, "error", err)
			continue
		}
		summaries = append(summaries, api.MarketSummary{
			Market:    h.Market().String(),
			Name:      h.Market().FriendlyName(),
			Trades:    h.Count(),
			FirstTime: h.FirstTime(),
			LastTime:  h.LastTime(),
			Duration:  h.Duration(),
			LastRate:  h.LastRate(),
		})
	}
	return outputMarkets(flags.Format, summaries)
}

func (cli *CLI) newScheduler(flags *DaemonFlags) (*collector.Scheduler, error) {
	cfg := cli.config.Scheduler
	if len(flags.Markets) > 0 {
		cfg.Markets = flags.Markets
	}
	if flags.Cron != "" {
		cfg.Cron = flags.Cron
	}
	s, err := collector.NewScheduler(cli.collector, cfg, collector.RequestFromConfig(cli.config.Collector), cli.logger)
	if err != nil {
		return nil, usagef("%v", err)
	}
	return s, nil
}

func (cli *CLI) gracefulTimeout() time.Duration {
	if d := config.Duration(cli.config.Collector.GracefulTimeout); d > 0 {
		return d
	}
	return 30 * time.Second
}

// handleSchedule handles the 'schedule' command: periodic syncs until interrupted
func (cli *CLI) handleSchedule(ctx context.Context, args []string) error {
	flags, err := parseDaemonFlags(args)
	if err != nil {
		return err
	}
	s, err := cli.newScheduler(flags)
	if err != nil {
		return err
	}

	if err := cli.collector.Start(ctx); err != nil {
		return err
	}
	if flags.RunNow {
		if err := s.RunNow(ctx); err != nil {
			cli.logger.Warn("initial sync failed", "error", err)
		}
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	stats := s.Stats()
	fmt.Printf("Scheduling %d markets with spec %q, next run %s\n", len(stats.Markets), stats.Spec, stats.NextRun.Format(time.RFC3339))
	fmt.Println("Press Ctrl+C to stop gracefully")

	<-ctx.Done()
	return cli.shutdown(s, nil)
}

// handleServe handles the 'serve' command: the HTTP API, optionally with the scheduler
func (cli *CLI) handleServe(ctx context.Context, args []string) error {
	flags, err := parseDaemonFlags(args)
	if err != nil {
		return err
	}
	port := cli.config.API.Port
	if flags.Port != 0 {
		port = flags.Port
	}

	var s *collector.Scheduler
	if flags.Schedule || cli.config.Scheduler.Enabled {
		if s, err = cli.newScheduler(flags); err != nil {
			return err
		}
	}

	if err := cli.collector.Start(ctx); err != nil {
		return err
	}
	markets := flags.Markets
	if len(markets) == 0 {
		markets = cli.config.Scheduler.Markets
	}
	for _, m := range markets {
		if _, err := cli.collector.Open(ctx, m); err != nil {
			cli.logger.Warn("could not open market", "market", m, "error", err)
		}
	}

	handler := api.NewAPIHandler(api.FromCollector(cli.collector), api.DefaultsFromConfig(cli.config), cli.logger)
	srv, err := handler.NewServer(port)
	if err != nil {
		return usagef("%v", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	if s != nil {
		if err := s.Start(ctx); err != nil {
			return errors.Join(err, cli.shutdown(nil, srv))
		}
	}

	select {
	case <-ctx.Done():
		return cli.shutdown(s, srv)
	case err := <-serveErr:
		return errors.Join(err, cli.shutdown(s, nil))
	}
}

// shutdown stops the scheduler, server and collector within the graceful timeout
func (cli *CLI) shutdown(s *collector.Scheduler, srv *api.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), cli.gracefulTimeout())
	defer cancel()

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Shutdown(ctx))
	}
	if s != nil && s.Stats().Running {
		errs = append(errs, s.Stop(ctx))
	}
	errs = append(errs, cli.collector.Stop(ctx))
	cli.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
