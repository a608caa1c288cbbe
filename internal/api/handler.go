package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnayoung/go-trade-tape/internal/bucket"
	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/history"
	"github.com/johnayoung/go-trade-tape/internal/indicators"
	"github.com/johnayoung/go-trade-tape/internal/logger"
	"github.com/johnayoung/go-trade-tape/internal/models"
)

// MarketSummary describes one subscribed market
type MarketSummary struct {
	Market    string  `json:"market"`
	Name      string  `json:"name"`
	Trades    int     `json:"trades"`
	FirstTime float64 `json:"first_time,omitempty"`
	LastTime  float64 `json:"last_time,omitempty"`
	Duration  float64 `json:"duration"`
	LastRate  float64 `json:"last_rate,omitempty"`
}

// PlotResponse is the smoothed rate series
type PlotResponse struct {
	Market string    `json:"market"`
	Times  []float64 `json:"times"`
	VEMA   []float64 `json:"vema"`
}

func summarize(v MarketView) MarketSummary {
	return MarketSummary{
		Market:    v.Market().String(),
		Name:      v.Market().FriendlyName(),
		Trades:    v.Count(),
		FirstTime: v.FirstTime(),
		LastTime:  v.LastTime(),
		Duration:  v.Duration(),
		LastRate:  v.LastRate(),
	}
}

func (h *APIHandler) healthCheck(c *gin.Context) {
	status := h.provider.CheckHealth(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *APIHandler) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.provider.GetMetrics())
}

func (h *APIHandler) listMarkets(c *gin.Context) {
	names := h.provider.Markets()
	out := make([]MarketSummary, 0, len(names))
	for _, name := range names {
		v, err := h.provider.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, summarize(v))
	}
	c.JSON(http.StatusOK, gin.H{"markets": out, "count": len(out)})
}

// lookup resolves the :market path parameter, writing the error response on failure
func (h *APIHandler) lookup(c *gin.Context) (MarketView, bool) {
	m, err := parseMarket(c.Param("market"))
	if err != nil {
		h.handleError(c, err)
		return nil, false
	}
	c.Request = c.Request.WithContext(logger.WithMarket(c.Request.Context(), m.String()))
	v, err := h.provider.Lookup(m.String())
	if err != nil {
		h.handleError(c, err)
		return nil, false
	}
	return v, true
}

func (h *APIHandler) getMarket(c *gin.Context) {
	v, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarize(v))
}

func (h *APIHandler) getTrades(c *gin.Context) {
	limit, err := parseInt("limit", c.Query("limit"), DefaultTradeLimit, 1, MaxTradeLimit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	v, ok := h.lookup(c)
	if !ok {
		return
	}
	trades := v.Tail(limit)
	if trades == nil {
		trades = []models.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"market": v.Market().String(), "trades": trades, "count": len(trades)})
}

func (h *APIHandler) getRate(c *gin.Context) {
	v, ok := h.lookup(c)
	if !ok {
		return
	}
	summary, err := v.CurrentRate()
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": v.Market().String(), "rate": summary})
}

func (h *APIHandler) getBuckets(c *gin.Context) {
	size, err := parseSeconds("size", c.Query("size"), h.defaults.BucketSize)
	if err != nil {
		h.handleError(c, err)
		return
	}
	trailing, err := parseBool("trailing", c.Query("trailing"), false)
	if err != nil {
		h.handleError(c, err)
		return
	}
	v, ok := h.lookup(c)
	if !ok {
		return
	}
	buckets, err := v.Buckets(size, trailing)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if buckets == nil {
		buckets = []models.Bucket{}
	}
	c.JSON(http.StatusOK, gin.H{"market": v.Market().String(), "size": size, "buckets": buckets, "count": len(buckets)})
}

func (h *APIHandler) getPlot(c *gin.Context) {
	factor, err := parseFloat("ema", c.Query("ema"), h.defaults.EMAFactor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	cut, err := parseInt("cut", c.Query("cut"), h.defaults.PlotCut, 0, math.MaxInt32)
	if err != nil {
		h.handleError(c, err)
		return
	}
	v, ok := h.lookup(c)
	if !ok {
		return
	}
	times, vema, err := v.PlotData(factor, cut)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if times == nil {
		times, vema = []float64{}, []float64{}
	}
	c.JSON(http.StatusOK, PlotResponse{Market: v.Market().String(), Times: times, VEMA: vema})
}

func (h *APIHandler) getSignals(c *gin.Context) {
	size, err := parseSeconds("size", c.Query("size"), h.defaults.BucketSize)
	if err != nil {
		h.handleError(c, err)
		return
	}
	var windows [3]int
	for i, p := range []struct {
		name string
		def  int
	}{
		{"fast", h.defaults.FastWindow},
		{"medium", h.defaults.MediumWindow},
		{"slow", h.defaults.SlowWindow},
	} {
		if windows[i], err = parseInt(p.name, c.Query(p.name), p.def, 1, math.MaxInt32); err != nil {
			h.handleError(c, err)
			return
		}
	}
	v, ok := h.lookup(c)
	if !ok {
		return
	}
	report, err := v.Signals(size, windows[0], windows[1], windows[2])
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidParam),
		errors.Is(err, apperrors.ErrInvalidMarket),
		errors.Is(err, bucket.ErrInvalidSize),
		errors.Is(err, indicators.ErrInvalidWindow),
		errors.Is(err, indicators.ErrInvalidAlpha):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrMarketNotSubscribed):
		return http.StatusNotFound
	case errors.Is(err, history.ErrEmptyLog),
		errors.Is(err, apperrors.ErrDegenerateSmoothing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) handleError(c *gin.Context, err error) {
	status := statusFor(err)
	requestID := getRequestID(c)

	log := logger.FromContext(c.Request.Context(), h.logger)
	attrs := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", attrs...)
	} else {
		log.Debug("request rejected", attrs...)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":      err.Error(),
		"request_id": requestID,
		"timestamp":  time.Now().UTC(),
	})
}
