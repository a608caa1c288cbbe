package planner

import (
	"testing"

	"github.com/johnayoung/go-trade-tape/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestPlan(t *testing.T) {
	p := New()

	tests := []struct {
		name  string
		state LogState
		now   float64
		opts  Options
		want  Plan
	}{
		{
			name: "empty log fetches one step back with look-ahead",
			now:  1000,
			want: Plan{State: StateEmpty, Window: Window{Start: -2600, End: 1060}},
		},
		{
			name: "empty log unbounded starts at sentinel",
			now:  1000,
			opts: Options{Unbounded: true},
			want: Plan{State: StateEmpty, Window: Window{Start: 0, End: 1060}},
		},
		{
			name:  "stale head refreshes from last trade",
			state: LogState{Count: 10, FirstTime: 10_000, LastTime: 19_000},
			now:   20_000,
			want:  Plan{State: StateStaleHead, Window: Window{Start: 19_000, End: 20_060}},
		},
		{
			name:  "only old skips a stale head",
			state: LogState{Count: 10, FirstTime: 10_000, LastTime: 19_000},
			now:   20_000,
			opts:  Options{OnlyOld: true},
			want:  Plan{State: StateBackfill, Window: Window{Start: 6_400, End: 10_000}},
		},
		{
			name:  "fresh head and short history backfills",
			state: LogState{Count: 10, FirstTime: 10_000, LastTime: 19_970},
			now:   20_000,
			want:  Plan{State: StateBackfill, Window: Window{Start: 6_400, End: 10_000}},
		},
		{
			name:  "unbounded backfill ignores retention",
			state: LogState{Count: 10, FirstTime: 10_000, LastTime: 99_990},
			now:   100_000,
			opts:  Options{Unbounded: true},
			want:  Plan{State: StateBackfill, Window: Window{Start: 0, End: 10_000}},
		},
		{
			name:  "retention covered is satisfied",
			state: LogState{Count: 10, FirstTime: 10_000, LastTime: 99_990},
			now:   100_000,
			want:  Plan{State: StateSatisfied},
		},
		{
			name:  "head exactly at threshold is fresh",
			state: LogState{Count: 1, FirstTime: 0, LastTime: 99_940},
			now:   100_000,
			want:  Plan{State: StateSatisfied},
		},
		{
			name:  "big gap is flagged on a stale head",
			state: LogState{Count: 3, FirstTime: 0, LastTime: 100},
			now:   100 + 6*3600 + 1,
			want: Plan{
				State:  StateStaleHead,
				Window: Window{Start: 100, End: 100 + 6*3600 + 1 + 60},
				BigGap: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Plan(tt.state, tt.now, tt.opts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.State != StateSatisfied, got.Fetch())
		})
	}
}

func TestPlanBackfillClampsAtZero(t *testing.T) {
	p := New()
	got := p.Plan(LogState{Count: 1, FirstTime: 100, LastTime: 100}, 120, Options{})
	assert.Equal(t, StateBackfill, got.State)
	assert.Equal(t, Window{Start: 0, End: 100}, got.Window)
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.HistoryConfig{
		StepSize:        "30m",
		Retention:       "48h",
		UpdateThreshold: "2m",
		LookAhead:       "",
		BigGapWarning:   "nonsense",
	})

	assert.Equal(t, 1800.0, p.Step)
	assert.Equal(t, 48*3600.0, p.Retention)
	assert.Equal(t, 120.0, p.UpdateThreshold)
	assert.Equal(t, float64(DefaultLookAhead), p.LookAhead)
	assert.Equal(t, float64(DefaultBigGap), p.BigGap)
}
