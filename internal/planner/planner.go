// Package planner decides the next time window to fetch for a trade log.
// It is pure: it looks at the log's bounds and the current time and returns
// a plan, leaving the fetch and the merge to the caller.
package planner

import (
	"fmt"

	"github.com/johnayoung/go-trade-tape/internal/config"
)

// State is the planner state for one planning call
type State string

const (
	StateEmpty     State = "empty"
	StateStaleHead State = "stale_head"
	StateBackfill  State = "backfill"
	StateSatisfied State = "satisfied"
)

// Default planning parameters in seconds
const (
	DefaultStep            = 3600
	DefaultRetention       = 24 * 3600
	DefaultUpdateThreshold = 60
	DefaultLookAhead       = 60
	DefaultBigGap          = 6 * 3600
)

// LogState is the part of a trade log the planner looks at
type LogState struct {
	Count     int
	FirstTime float64
	LastTime  float64
}

// Options are the caller's per-call requests
type Options struct {
	// OnlyOld suppresses head refreshes and only backfills
	OnlyOld bool
	// Unbounded backfills past the retention window down to the start of history
	Unbounded bool
}

// Window is a half-open request range [Start, End) in seconds since epoch.
// Start 0 is the full-history sentinel.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (w Window) String() string {
	return fmt.Sprintf("[%.0f, %.0f)", w.Start, w.End)
}

// Plan is the outcome of a planning call
type Plan struct {
	State  State  `json:"state"`
	Window Window `json:"window"`
	// BigGap flags a head older than the big-gap threshold. Diagnostic only.
	BigGap bool `json:"big_gap"`
}

// Fetch reports whether the plan asks for a fetch
func (p Plan) Fetch() bool {
	return p.State != StateSatisfied
}

// Planner holds the planning parameters, all in seconds
type Planner struct {
	Step            float64
	Retention       float64
	UpdateThreshold float64
	LookAhead       float64
	BigGap          float64
}

// New creates a planner with the default parameters
func New() *Planner {
	return &Planner{
		Step:            DefaultStep,
		Retention:       DefaultRetention,
		UpdateThreshold: DefaultUpdateThreshold,
		LookAhead:       DefaultLookAhead,
		BigGap:          DefaultBigGap,
	}
}

// FromConfig creates a planner from the history configuration. Unset or
// unparsable values keep their defaults.
func FromConfig(cfg config.HistoryConfig) *Planner {
	p := New()
	set := func(dst *float64, s string) {
		if v := config.Seconds(s); v > 0 {
			*dst = v
		}
	}
	set(&p.Step, cfg.StepSize)
	set(&p.Retention, cfg.Retention)
	set(&p.UpdateThreshold, cfg.UpdateThreshold)
	set(&p.LookAhead, cfg.LookAhead)
	set(&p.BigGap, cfg.BigGapWarning)
	return p
}

// Plan evaluates the state machine against now. States are checked in order
// EMPTY, STALE_HEAD, BACKFILL, SATISFIED.
func (p *Planner) Plan(state LogState, now float64, opts Options) Plan {
	if state.Count == 0 {
		start := now - p.Step
		if opts.Unbounded {
			start = 0
		}
		return Plan{
			State:  StateEmpty,
			Window: Window{Start: start, End: now + p.LookAhead},
		}
	}

	bigGap := now-state.LastTime > p.BigGap

	if !opts.OnlyOld && now-state.LastTime > p.UpdateThreshold {
		return Plan{
			State:  StateStaleHead,
			Window: Window{Start: state.LastTime, End: now + p.LookAhead},
			BigGap: bigGap,
		}
	}

	if now-state.FirstTime < p.Retention || opts.Unbounded {
		start := state.FirstTime - p.Step
		if opts.Unbounded || start < 0 {
			start = 0
		}
		return Plan{
			State:  StateBackfill,
			Window: Window{Start: start, End: state.FirstTime},
			BigGap: bigGap,
		}
	}

	return Plan{State: StateSatisfied, BigGap: bigGap}
}
