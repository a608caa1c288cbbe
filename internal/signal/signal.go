// Package signal turns three moving averages of bucket rates into alternating
// buy and sell crossover signals.
package signal

import (
	"errors"
	"fmt"
)

// Kind is the direction of a signal
type Kind string

const (
	Buy  Kind = "buy"
	Sell Kind = "sell"
)

// ErrLengthMismatch is returned when the input series differ in length
var ErrLengthMismatch = errors.New("series lengths differ")

// Signal marks a crossover at Index of the input series
type Signal struct {
	Index int  `json:"index"`
	Kind  Kind `json:"kind"`
}

// Generate scans fast, medium and slow for crossovers. A buy fires at i when
// fast crosses from below to at-or-above medium while above slow; a sell fires
// on the symmetric cross below medium while below slow. Signals alternate and
// the first one is always a buy.
func Generate(fast, medium, slow []float64) ([]Signal, error) {
	if len(fast) != len(medium) || len(fast) != len(slow) {
		return nil, fmt.Errorf("%w: fast=%d medium=%d slow=%d", ErrLengthMismatch, len(fast), len(medium), len(slow))
	}

	signals := []Signal{}
	next := Buy
	for i := 1; i < len(fast); i++ {
		switch next {
		case Buy:
			if fast[i-1] < medium[i-1] && fast[i] >= medium[i] && fast[i] > slow[i] {
				signals = append(signals, Signal{Index: i, Kind: Buy})
				next = Sell
			}
		case Sell:
			if fast[i-1] >= medium[i-1] && fast[i] < medium[i] && fast[i] < slow[i] {
				signals = append(signals, Signal{Index: i, Kind: Sell})
				next = Buy
			}
		}
	}
	return signals, nil
}

// Finalize drops a trailing buy that has no closing sell
func Finalize(signals []Signal) []Signal {
	if n := len(signals); n > 0 && signals[n-1].Kind == Buy {
		return signals[:n-1]
	}
	return signals
}

// RoundTrip is one closed position
type RoundTrip struct {
	Buy       int     `json:"buy"`
	Sell      int     `json:"sell"`
	EntryRate float64 `json:"entry_rate"`
	ExitRate  float64 `json:"exit_rate"`
	// Return is ExitRate/EntryRate - 1
	Return float64 `json:"return"`
}

// RoundTrips pairs each buy with the following sell and prices both legs from
// rates, indexed like the series the signals came from. An unmatched trailing
// buy is ignored.
func RoundTrips(signals []Signal, rates []float64) ([]RoundTrip, error) {
	trips := []RoundTrip{}
	for i := 0; i+1 < len(signals); i += 2 {
		buy, sell := signals[i], signals[i+1]
		if buy.Kind != Buy || sell.Kind != Sell {
			return nil, fmt.Errorf("signals %d and %d do not form a buy/sell pair", i, i+1)
		}
		if buy.Index < 0 || sell.Index >= len(rates) {
			return nil, fmt.Errorf("signal index out of range for %d rates", len(rates))
		}

		trip := RoundTrip{
			Buy:       buy.Index,
			Sell:      sell.Index,
			EntryRate: rates[buy.Index],
			ExitRate:  rates[sell.Index],
		}
		if trip.EntryRate != 0 {
			trip.Return = trip.ExitRate/trip.EntryRate - 1
		}
		trips = append(trips, trip)
	}
	return trips, nil
}

// Summary aggregates round trips
type Summary struct {
	Trips int `json:"trips"`
	Wins  int `json:"wins"`
	// Compound is the product of (1+Return) over all trips, minus one
	Compound float64 `json:"compound"`
}

// Summarize aggregates trips
func Summarize(trips []RoundTrip) Summary {
	s := Summary{Trips: len(trips)}
	growth := 1.0
	for _, t := range trips {
		if t.Return > 0 {
			s.Wins++
		}
		growth *= 1 + t.Return
	}
	s.Compound = growth - 1
	return s
}
