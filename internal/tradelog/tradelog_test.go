package tradelog

import (
	"bytes"
	"log/slog"
	"math/rand"
	"testing"

	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trades(times []float64, ids []int64) []models.Trade {
	out := make([]models.Trade, len(times))
	for i := range times {
		out[i] = models.Trade{
			Time:          times[i],
			GlobalTradeID: ids[i],
			Type:          models.TradeTypeBuy,
			Amount:        1,
			Total:         0.05,
		}
	}
	return out
}

func timesOf(records []models.Trade) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Time
	}
	return out
}

func idsOf(records []models.Trade) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.GlobalTradeID
	}
	return out
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return New("BTC_ETH", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func TestEmptyLogAccessors(t *testing.T) {
	l := newTestLog(t)

	assert.Equal(t, 0, l.Count())
	assert.Zero(t, l.FirstTime())
	assert.Zero(t, l.LastTime())
	assert.Zero(t, l.Duration())
	assert.Empty(t, l.Snapshot())
	assert.Empty(t, l.Tail(5))
	assert.Equal(t, 0, l.Trim(10))
	assert.Equal(t, "BTC_ETH", l.Market())
}

func TestMergeAdoptsIntoEmptyLog(t *testing.T) {
	l := newTestLog(t)
	batch := trades([]float64{100, 200}, []int64{1, 2})

	outcome, err := l.Merge(batch)
	require.NoError(t, err)
	assert.Equal(t, MergeOutcome{Kind: MergeAdopted, Added: 2}, outcome)
	assert.Equal(t, batch, l.Snapshot())

	batch[0].Time = 999
	assert.Equal(t, 100.0, l.FirstTime(), "log owns its copy")
}

func TestMergeEmptyBatchWarns(t *testing.T) {
	var buf bytes.Buffer
	l := New("BTC_ETH", slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, l.Replace(trades([]float64{1}, []int64{1})))

	outcome, err := l.Merge(nil)
	require.NoError(t, err)
	assert.Equal(t, MergeNoop, outcome.Kind)
	assert.Equal(t, 1, l.Count())
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "empty trade batch")
}

func TestMergeOverlappingBatch(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Merge(trades([]float64{100, 200, 300}, []int64{1, 2, 3}))
	require.NoError(t, err)

	outcome, err := l.Merge(trades([]float64{200, 300, 400}, []int64{2, 3, 4}))
	require.NoError(t, err)

	assert.Equal(t, MergeOutcome{Kind: MergeSpliced, Added: 1}, outcome)
	assert.Equal(t, []float64{100, 200, 300, 400}, timesOf(l.Snapshot()))
	assert.Equal(t, []int64{1, 2, 3, 4}, idsOf(l.Snapshot()))
}

func TestMergeOlderBatchPrepends(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Replace(trades([]float64{200, 300, 400}, []int64{2, 3, 4})))

	outcome, err := l.Merge(trades([]float64{50, 100, 200}, []int64{0, 1, 2}))
	require.NoError(t, err)

	assert.Equal(t, MergeSpliced, outcome.Kind)
	assert.Equal(t, 2, outcome.Added)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, idsOf(l.Snapshot()))
}

func TestMergeRejectsStrictGap(t *testing.T) {
	existing := trades([]float64{100, 200, 300}, []int64{1, 2, 3})

	tests := []struct {
		name  string
		batch []models.Trade
		gap   float64
	}{
		{"batch after log", trades([]float64{301, 400}, []int64{4, 5}), 1},
		{"batch before log", trades([]float64{10, 40}, []int64{-2, -1}), 60},
		{"far future", trades([]float64{36300}, []int64{9}), 36000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLog(t)
			require.NoError(t, l.Replace(existing))

			_, err := l.Merge(tt.batch)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrDiscontiguousRanges)

			var derr *DiscontiguityError
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, tt.gap, derr.Gap)
			assert.Equal(t, existing, l.Snapshot(), "records unchanged")
		})
	}
}

func TestMergeStrictGapPropertyRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		l := newTestLog(t)
		base := rng.Float64() * 1e6
		n := 1 + rng.Intn(20)
		times := make([]float64, n)
		ids := make([]int64, n)
		for j := range times {
			times[j] = base + float64(j*10)
			ids[j] = int64(1000 + j)
		}
		existing := trades(times, ids)
		require.NoError(t, l.Replace(existing))

		gap := 0.5 + rng.Float64()*1e5
		var batch []models.Trade
		if rng.Intn(2) == 0 {
			start := existing[n-1].Time + gap
			batch = trades([]float64{start, start + 1}, []int64{5000, 5001})
		} else {
			end := existing[0].Time - gap
			batch = trades([]float64{end - 1, end}, []int64{1, 2})
		}

		_, err := l.Merge(batch)
		require.ErrorIs(t, err, apperrors.ErrDiscontiguousRanges)
		require.Equal(t, existing, l.Snapshot())
	}
}

func TestMergeTouchingBatchesMatchesDedupedConcatenation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 200; i++ {
		// build one ascending tape, then cut it into A and B that touch at one timestamp
		n := 4 + rng.Intn(30)
		tape := make([]models.Trade, n)
		tm := float64(rng.Intn(1000))
		for j := range tape {
			if j > 0 && rng.Intn(3) != 0 {
				tm += float64(1 + rng.Intn(5))
			}
			tape[j] = models.Trade{Time: tm, GlobalTradeID: int64(j + 1), Type: models.TradeTypeSell, Amount: 1, Total: 1}
		}

		split := 1 + rng.Intn(n-1)
		a := tape[:split]
		// B starts at A's last timestamp, optionally re-sending some of A's tail
		start := split
		for start > 0 && tape[start-1].Time == a[len(a)-1].Time && rng.Intn(2) == 0 {
			start--
		}
		b := tape[start:]
		if b[0].Time != a[len(a)-1].Time {
			// make them touch: B begins with the last record of A
			b = tape[split-1:]
		}

		l := newTestLog(t)
		_, err := l.Merge(a)
		require.NoError(t, err)
		_, err = l.Merge(b)
		require.NoError(t, err)

		reference := newTestLog(t)
		_, err = reference.Merge(dedupe(append(append([]models.Trade{}, a...), b...)))
		require.NoError(t, err)

		require.Equal(t, reference.Snapshot(), l.Snapshot(), "iteration %d", i)
		require.Equal(t, tape, l.Snapshot())
	}
}

func dedupe(records []models.Trade) []models.Trade {
	seen := make(map[int64]bool)
	var out []models.Trade
	for _, r := range records {
		if !seen[r.GlobalTradeID] {
			seen[r.GlobalTradeID] = true
			out = append(out, r)
		}
	}
	return out
}

func TestMergeAnchorNotFound(t *testing.T) {
	t.Run("touching without shared ids", func(t *testing.T) {
		l := newTestLog(t)
		require.NoError(t, l.Replace(trades([]float64{1, 2, 3}, []int64{1, 2, 3})))

		outcome, err := l.Merge(trades([]float64{3, 4}, []int64{4, 5}))
		require.NoError(t, err)
		assert.Equal(t, MergeAdjacent, outcome.Kind)
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, idsOf(l.Snapshot()))
	})

	t.Run("overlap with renumbered ids keeps earlier side through the boundary second", func(t *testing.T) {
		l := newTestLog(t)
		require.NoError(t, l.Replace(trades([]float64{10, 20, 30, 40}, []int64{1, 2, 3, 4})))

		outcome, err := l.Merge(trades([]float64{30, 40, 50}, []int64{103, 104, 105}))
		require.NoError(t, err)
		assert.Equal(t, MergeAdjacent, outcome.Kind)
		assert.Equal(t, []float64{10, 20, 30, 30, 40, 50}, timesOf(l.Snapshot()))
		assert.Equal(t, []int64{1, 2, 3, 103, 104, 105}, idsOf(l.Snapshot()))
	})

	t.Run("same-second trades not carried by the later side survive", func(t *testing.T) {
		l := newTestLog(t)
		require.NoError(t, l.Replace(trades([]float64{5, 5, 5}, []int64{7, 8, 9})))

		outcome, err := l.Merge(trades([]float64{5, 5, 6}, []int64{20, 9, 21}))
		require.NoError(t, err)
		assert.Equal(t, MergeAdjacent, outcome.Kind)
		assert.Equal(t, []int64{7, 8, 20, 9, 21}, idsOf(l.Snapshot()))
	})
}

func TestMergeContainedBatchLeavesLogUnchanged(t *testing.T) {
	l := newTestLog(t)
	existing := trades([]float64{100, 200, 300, 400}, []int64{1, 2, 3, 4})
	require.NoError(t, l.Replace(existing))

	outcome, err := l.Merge(trades([]float64{200, 300}, []int64{2, 3}))
	require.NoError(t, err)
	assert.Equal(t, MergeOutcome{Kind: MergeContained}, outcome)
	assert.Equal(t, existing, l.Snapshot())
}

func TestMergeSupersetBatchReplacesLog(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Replace(trades([]float64{200, 300}, []int64{2, 3})))

	batch := trades([]float64{100, 200, 300, 400}, []int64{1, 2, 3, 4})
	outcome, err := l.Merge(batch)
	require.NoError(t, err)
	assert.Equal(t, MergeOutcome{Kind: MergeSuperset, Added: 2}, outcome)
	assert.Equal(t, batch, l.Snapshot())
}

func TestMergeRejectsUnsortedBatch(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Merge(trades([]float64{2, 1}, []int64{2, 1}))
	assert.ErrorIs(t, err, ErrUnsortedBatch)
	assert.Equal(t, 0, l.Count())

	assert.ErrorIs(t, l.Replace(trades([]float64{2, 1}, []int64{2, 1})), ErrUnsortedBatch)
}

func TestIndexTracksSplices(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Replace(trades([]float64{1, 2, 3}, []int64{1, 2, 3})))
	_, err := l.Merge(trades([]float64{3, 4}, []int64{3, 4}))
	require.NoError(t, err)

	assert.True(t, l.Contains(4))
	assert.True(t, l.Contains(1))

	l.Trim(1)
	assert.False(t, l.Contains(1))
	assert.True(t, l.Contains(3))

	l.Clear()
	assert.False(t, l.Contains(3))
	assert.Equal(t, 0, l.Count())
}

// assertIndexed checks the id index against a rebuild from the records
func assertIndexed(t *testing.T, l *Log) {
	t.Helper()
	require.Len(t, l.index, len(l.records))
	for i, r := range l.records {
		pos, ok := l.position(r.GlobalTradeID)
		require.True(t, ok, "id %d", r.GlobalTradeID)
		require.Equal(t, i, pos, "id %d", r.GlobalTradeID)
	}
}

func TestIndexStaysConsistentWithoutRebuild(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Replace(trades([]float64{100, 110, 120, 130}, []int64{10, 11, 12, 13})))

	steps := []struct {
		name  string
		apply func() error
		ids   []int64
	}{
		{"backfill splice", func() error {
			_, err := l.Merge(trades([]float64{80, 90, 100}, []int64{8, 9, 10}))
			return err
		}, []int64{8, 9, 10, 11, 12, 13}},
		{"head splice", func() error {
			_, err := l.Merge(trades([]float64{120, 130, 140, 150}, []int64{12, 13, 14, 15}))
			return err
		}, []int64{8, 9, 10, 11, 12, 13, 14, 15}},
		{"trim", func() error {
			l.Trim(45)
			return nil
		}, []int64{11, 12, 13, 14, 15}},
		{"backfill adjacent", func() error {
			_, err := l.Merge(trades([]float64{95, 105, 110}, []int64{6, 7, 111}))
			return err
		}, []int64{6, 7, 111, 11, 12, 13, 14, 15}},
		{"head adjacent", func() error {
			_, err := l.Merge(trades([]float64{150, 160}, []int64{216, 217}))
			return err
		}, []int64{6, 7, 111, 11, 12, 13, 14, 15, 216, 217}},
		{"trim again", func() error {
			l.Trim(20)
			return nil
		}, []int64{14, 15, 216, 217}},
	}
	for _, step := range steps {
		require.NoError(t, step.apply(), step.name)
		assert.Equal(t, step.ids, idsOf(l.Snapshot()), step.name)
		assertIndexed(t, l)
	}
}

func TestTrimLongLog(t *testing.T) {
	l := newTestLog(t)
	n := 100001
	times := make([]float64, n)
	ids := make([]int64, n)
	for i := range times {
		times[i] = float64(i)
		ids[i] = int64(i + 1)
	}
	require.NoError(t, l.Replace(trades(times, ids)))

	dropped := l.Trim(50000)
	assert.Equal(t, 50000, dropped)
	assert.GreaterOrEqual(t, l.FirstTime(), 50000.0)
	assert.Equal(t, 100000.0, l.LastTime())
	assert.Equal(t, 50000.0, l.Duration())
}

func TestTrimBoundaryIsExact(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Replace(trades([]float64{0, 10, 10, 20, 30}, []int64{1, 2, 3, 4, 5})))

	// 30-10 == 20 is within the limit, so both records at 10 stay
	assert.Equal(t, 1, l.Trim(20))
	assert.Equal(t, []int64{2, 3, 4, 5}, idsOf(l.Snapshot()))

	assert.Equal(t, 2, l.Trim(19.999))
	assert.Equal(t, []int64{4, 5}, idsOf(l.Snapshot()))

	assert.Equal(t, 1, l.Trim(0))
	assert.Equal(t, []int64{5}, idsOf(l.Snapshot()))
}

func TestTrimIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 100; i++ {
		n := 1 + rng.Intn(200)
		times := make([]float64, n)
		ids := make([]int64, n)
		tm := 0.0
		for j := range times {
			tm += float64(rng.Intn(100))
			times[j] = tm
			ids[j] = int64(j)
		}
		l := newTestLog(t)
		require.NoError(t, l.Replace(trades(times, ids)))

		d := float64(rng.Intn(5000))
		l.Trim(d)
		once := l.Snapshot()
		assert.Equal(t, 0, l.Trim(d))
		assert.Equal(t, once, l.Snapshot())
		if l.Count() > 1 {
			assert.LessOrEqual(t, l.LastTime()-l.FirstTime(), d)
		}
	}
}

func TestTail(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Replace(trades([]float64{1, 2, 3}, []int64{1, 2, 3})))

	assert.Equal(t, []int64{2, 3}, idsOf(l.Tail(2)))
	assert.Equal(t, []int64{1, 2, 3}, idsOf(l.Tail(20)))
	assert.InDelta(t, 0.05, l.LastRate(), 1e-12)

	l.Clear()
	assert.Zero(t, l.LastRate())
}
