package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/models"
)

// errInvalidParam marks malformed query parameters
var errInvalidParam = errors.New("invalid parameter")

func paramError(name, value, reason string) error {
	return fmt.Errorf("%w: %s=%q %s", errInvalidParam, name, value, reason)
}

// parseMarket accepts lower-case input and normalizes it to BASE_QUOTE
func parseMarket(raw string) (models.Market, error) {
	clean := strings.ToUpper(strings.TrimSpace(raw))
	m, err := models.ParseMarket(clean)
	if err != nil {
		return models.Market{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidMarket, err)
	}
	return m, nil
}

// parseSeconds accepts a Go duration ("5m") or a plain number of seconds
func parseSeconds(name, raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	var secs float64
	if d, err := time.ParseDuration(raw); err == nil {
		secs = d.Seconds()
	} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
		secs = f
	} else {
		return 0, paramError(name, raw, "is not a duration")
	}
	if secs <= 0 {
		return 0, paramError(name, raw, "must be positive")
	}
	return secs, nil
}

func parseInt(name, raw string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, paramError(name, raw, "is not an integer")
	}
	if n < min || n > max {
		return 0, paramError(name, raw, fmt.Sprintf("must be between %d and %d", min, max))
	}
	return n, nil
}

func parseFloat(name, raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, paramError(name, raw, "is not a number")
	}
	return f, nil
}

func parseBool(name, raw string, def bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, paramError(name, raw, "is not a boolean")
	}
	return b, nil
}
