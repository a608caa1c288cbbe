// Package api serves read-only views of the collected trade tapes over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnayoung/go-trade-tape/internal/collector"
	"github.com/johnayoung/go-trade-tape/internal/config"
	"github.com/johnayoung/go-trade-tape/internal/history"
	"github.com/johnayoung/go-trade-tape/internal/models"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultTradeLimit   = 100
	MaxTradeLimit       = 5000
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// MarketView is the part of a market history the API reads
type MarketView interface {
	Market() models.Market
	Count() int
	Duration() float64
	FirstTime() float64
	LastTime() float64
	LastRate() float64
	Tail(n int) []models.Trade
	Buckets(size float64, trailing bool) ([]models.Bucket, error)
	PlotData(emaFactor float64, cut int) (times, vema []float64, err error)
	Signals(bucketSize float64, fast, medium, slow int) (history.SignalReport, error)
	CurrentRate() (models.RateSummary, error)
}

// HistoryProvider exposes the subscribed markets and collector status
type HistoryProvider interface {
	Markets() []string
	Lookup(market string) (MarketView, error)
	GetMetrics() *collector.Metrics
	CheckHealth(ctx context.Context) collector.HealthStatus
}

type collectorProvider struct {
	*collector.Collector
}

// FromCollector adapts a collector to HistoryProvider
func FromCollector(c *collector.Collector) HistoryProvider {
	return collectorProvider{c}
}

func (p collectorProvider) Lookup(market string) (MarketView, error) {
	h, err := p.History(market)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Defaults are the analysis parameters used when a request omits them
type Defaults struct {
	BucketSize     float64
	EMAFactor      float64
	PlotCut        int
	FastWindow     int
	MediumWindow   int
	SlowWindow     int
	RequestTimeout time.Duration
}

// DefaultsFromConfig reads the analysis and API sections
func DefaultsFromConfig(cfg *config.AppConfig) Defaults {
	d := Defaults{
		BucketSize:     config.Seconds(cfg.Analysis.BucketSize),
		EMAFactor:      cfg.Analysis.EMAFactor,
		PlotCut:        cfg.Analysis.PlotCut,
		FastWindow:     cfg.Analysis.FastWindow,
		MediumWindow:   cfg.Analysis.MediumWindow,
		SlowWindow:     cfg.Analysis.SlowWindow,
		RequestTimeout: config.Duration(cfg.API.RequestTimeout),
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = DefaultTimeout
	}
	return d
}

// APIHandler serves the HTTP endpoints
type APIHandler struct {
	provider HistoryProvider
	defaults Defaults
	logger   *slog.Logger
}

// NewAPIHandler creates a handler. A zero timeout falls back to DefaultTimeout.
func NewAPIHandler(provider HistoryProvider, defaults Defaults, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.RequestTimeout <= 0 {
		defaults.RequestTimeout = DefaultTimeout
	}
	return &APIHandler{
		provider: provider,
		defaults: defaults,
		logger:   logger.With("component", "api"),
	}
}

// SetupRoutes builds the gin engine
func (h *APIHandler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.logger))
	router.Use(gin.Recovery())
	router.Use(timeoutMiddleware(h.defaults.RequestTimeout))

	router.GET("/health", h.healthCheck)
	router.GET("/metrics", h.getMetrics)

	markets := router.Group("/markets")
	{
		markets.GET("", h.listMarkets)
		markets.GET("/:market", h.getMarket)
		markets.GET("/:market/trades", h.getTrades)
		markets.GET("/:market/rate", h.getRate)
		markets.GET("/:market/buckets", h.getBuckets)
		markets.GET("/:market/plot", h.getPlot)
		markets.GET("/:market/signals", h.getSignals)
	}

	return router
}

// Server wraps an http.Server around the routes
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer prepares a server on port
func (h *APIHandler) NewServer(port int) (*Server, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           h.SetupRoutes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: h.logger,
	}, nil
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting API server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping API server")
	return s.srv.Shutdown(ctx)
}
