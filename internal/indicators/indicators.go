// Package indicators implements the moving averages used over trade and bucket series.
package indicators

import (
	"errors"
	"fmt"
	"math"

	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
)

// ErrInvalidWindow is returned for non-positive SMA windows
var ErrInvalidWindow = errors.New("window must be positive")

// ErrInvalidAlpha is returned for smoothing factors outside (0, 1]
var ErrInvalidAlpha = errors.New("alpha must be in (0, 1]")

// SMA computes the simple moving average of series over a trailing window.
// The result has len(series)-window+1 points and is empty when the series is
// shorter than the window. Sums come from a prefix array so the cost is O(n).
func SMA(series []float64, window int) ([]float64, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	if len(series) < window {
		return []float64{}, nil
	}

	prefix := make([]float64, len(series)+1)
	for i, v := range series {
		prefix[i+1] = prefix[i] + v
	}

	w := float64(window)
	out := make([]float64, len(series)-window+1)
	for i := range out {
		out[i] = (prefix[i+window] - prefix[i]) / w
	}
	return out, nil
}

// EMA computes the exponential moving average, seeded with the first value.
// The result has the same length as series.
func EMA(series []float64, alpha float64) ([]float64, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, ErrInvalidAlpha
	}
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out, nil
	}

	n := series[0]
	for i, v := range series {
		n = alpha*v + (1-alpha)*n
		out[i] = n
	}
	return out, nil
}

// VEMA computes the volume-weighted exponential moving average
// EMA(totals)[i] / EMA(amounts)[i]. A zero smoothed amount, or any non-finite
// ratio, fails with ErrDegenerateSmoothing instead of propagating Inf or NaN.
func VEMA(totals, amounts []float64, alpha float64) ([]float64, error) {
	if len(totals) != len(amounts) {
		return nil, fmt.Errorf("vema: totals and amounts differ in length (%d != %d)", len(totals), len(amounts))
	}

	smoothTotals, err := EMA(totals, alpha)
	if err != nil {
		return nil, err
	}
	smoothAmounts, err := EMA(amounts, alpha)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(totals))
	for i := range out {
		if smoothAmounts[i] == 0 {
			return nil, fmt.Errorf("vema: smoothed amount is zero at index %d: %w", i, apperrors.ErrDegenerateSmoothing)
		}
		r := smoothTotals[i] / smoothAmounts[i]
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("vema: non-finite rate at index %d: %w", i, apperrors.ErrDegenerateSmoothing)
		}
		out[i] = r
	}
	return out, nil
}

// Trim right-aligns every series to length by dropping values from the front.
// Series already shorter than length are returned unchanged.
func Trim(length int, series ...[]float64) [][]float64 {
	if length < 0 {
		length = 0
	}
	out := make([][]float64, len(series))
	for i, s := range series {
		if len(s) > length {
			s = s[len(s)-length:]
		}
		out[i] = s
	}
	return out
}

// TrimToShortest right-aligns every series to the shortest one
func TrimToShortest(series ...[]float64) [][]float64 {
	if len(series) == 0 {
		return nil
	}
	shortest := len(series[0])
	for _, s := range series[1:] {
		if len(s) < shortest {
			shortest = len(s)
		}
	}
	return Trim(shortest, series...)
}
