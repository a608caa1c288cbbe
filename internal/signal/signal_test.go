package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCrossover(t *testing.T) {
	fast := []float64{1, 2, 3, 2, 1}
	medium := []float64{2, 2, 2, 2, 2}
	slow := []float64{1.5, 1.5, 1.5, 1.5, 1.5}

	signals, err := Generate(fast, medium, slow)
	require.NoError(t, err)
	assert.Equal(t, []Signal{{Index: 1, Kind: Buy}, {Index: 4, Kind: Sell}}, Finalize(signals))
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name               string
		fast, medium, slow []float64
		want               []Signal
	}{
		{
			name:   "cross above medium but below slow is no buy",
			fast:   []float64{1, 2},
			medium: []float64{2, 2},
			slow:   []float64{3, 3},
			want:   []Signal{},
		},
		{
			name:   "sell before any buy is ignored",
			fast:   []float64{3, 1, 3},
			medium: []float64{2, 2, 2},
			slow:   []float64{2.5, 2.5, 2.5},
			want:   []Signal{{Index: 2, Kind: Buy}},
		},
		{
			name:   "signals alternate",
			fast:   []float64{1, 3, 1, 3, 1},
			medium: []float64{2, 2, 2, 2, 2},
			slow:   []float64{2, 2, 2, 2, 2},
			want: []Signal{
				{Index: 1, Kind: Buy},
				{Index: 2, Kind: Sell},
				{Index: 3, Kind: Buy},
				{Index: 4, Kind: Sell},
			},
		},
		{
			name: "empty input",
			want: []Signal{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Generate(tt.fast, tt.medium, tt.slow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateLengthMismatch(t *testing.T) {
	_, err := Generate([]float64{1, 2}, []float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestFinalize(t *testing.T) {
	open := []Signal{{Index: 1, Kind: Buy}, {Index: 3, Kind: Sell}, {Index: 5, Kind: Buy}}
	assert.Equal(t, open[:2], Finalize(open))
	assert.Equal(t, open[:2], Finalize(open[:2]))
	assert.Empty(t, Finalize(nil))
}

func TestRoundTrips(t *testing.T) {
	signals := []Signal{{Index: 0, Kind: Buy}, {Index: 2, Kind: Sell}, {Index: 3, Kind: Buy}}
	rates := []float64{10, 11, 12, 8}

	trips, err := RoundTrips(signals, rates)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, 10.0, trips[0].EntryRate)
	assert.Equal(t, 12.0, trips[0].ExitRate)
	assert.InDelta(t, 0.2, trips[0].Return, 1e-12)

	summary := Summarize(trips)
	assert.Equal(t, 1, summary.Trips)
	assert.Equal(t, 1, summary.Wins)
	assert.InDelta(t, 0.2, summary.Compound, 1e-12)

	_, err = RoundTrips([]Signal{{Index: 0, Kind: Sell}, {Index: 1, Kind: Buy}}, rates)
	assert.Error(t, err)

	_, err = RoundTrips([]Signal{{Index: 0, Kind: Buy}, {Index: 9, Kind: Sell}}, rates)
	assert.Error(t, err)
}
