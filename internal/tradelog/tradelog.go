// Package tradelog holds the ordered trade records of one market and the
// algorithms that keep them consistent: contiguity-checked merging of fetched
// batches and duration-based trimming.
//
// A Log is not safe for concurrent use; the history package serialises access.
package tradelog

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
	"github.com/johnayoung/go-trade-tape/internal/models"
)

// ErrUnsortedBatch is returned when a batch is not ascending by time
var ErrUnsortedBatch = errors.New("batch is not sorted by time")

// MergeKind says which branch a merge took
type MergeKind string

const (
	MergeNoop      MergeKind = "noop"      // empty batch
	MergeAdopted   MergeKind = "adopted"   // log was empty
	MergeSpliced   MergeKind = "spliced"   // joined at the anchor trade
	MergeAdjacent  MergeKind = "adjacent"  // anchor not found, joined by time
	MergeContained MergeKind = "contained" // batch inside the log, nothing to add

	// MergeSuperset means the batch covers the log on both ends. The whole
	// batch is adopted; an anchor splice would drop its records newer than the log.
	MergeSuperset MergeKind = "superset"
)

// MergeOutcome describes the effect of a merge
type MergeOutcome struct {
	Kind MergeKind
	// Added is the net change in record count; trimmed overlap can make it negative
	Added int
}

// DiscontiguityError reports a strict time gap between a batch and the log
type DiscontiguityError struct {
	// Gap is the hole between the two ranges in seconds
	Gap float64
	// BatchFirst and BatchLast bound the rejected batch
	BatchFirst, BatchLast float64
	// LogFirst and LogLast bound the existing records
	LogFirst, LogLast float64
}

func (e *DiscontiguityError) Error() string {
	return fmt.Sprintf("batch [%.0f, %.0f] and log [%.0f, %.0f] are %.2fh apart",
		e.BatchFirst, e.BatchLast, e.LogFirst, e.LogLast, e.Gap/3600)
}

func (e *DiscontiguityError) Unwrap() error {
	return apperrors.ErrDiscontiguousRanges
}

// Log is the ordered trade tape of one market. Records are non-decreasing by
// time and unique by GlobalTradeID.
type Log struct {
	market  string
	logger  *slog.Logger
	records []models.Trade
	// index maps GlobalTradeID to base+position in records, so trims and
	// prepends shift every position without touching the map
	index map[int64]int
	base  int
}

// New creates an empty log
func New(market string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		market: market,
		logger: logger.With("market", market),
		index:  make(map[int64]int),
	}
}

// Market returns the market identifier the log was created for
func (l *Log) Market() string { return l.market }

// Count returns the number of records
func (l *Log) Count() int { return len(l.records) }

// FirstTime returns the time of the oldest record, 0 when empty
func (l *Log) FirstTime() float64 {
	if len(l.records) == 0 {
		return 0
	}
	return l.records[0].Time
}

// LastTime returns the time of the newest record, 0 when empty
func (l *Log) LastTime() float64 {
	if len(l.records) == 0 {
		return 0
	}
	return l.records[len(l.records)-1].Time
}

// Duration returns LastTime - FirstTime, 0 when empty
func (l *Log) Duration() float64 {
	if len(l.records) == 0 {
		return 0
	}
	return l.LastTime() - l.FirstTime()
}

// Snapshot returns a copy of the records
func (l *Log) Snapshot() []models.Trade {
	return slices.Clone(l.records)
}

// Tail returns a copy of the last n records
func (l *Log) Tail(n int) []models.Trade {
	if n > len(l.records) {
		n = len(l.records)
	}
	if n <= 0 {
		return []models.Trade{}
	}
	return slices.Clone(l.records[len(l.records)-n:])
}

// LastRate is the rate of the newest trade, 0 when empty
func (l *Log) LastRate() float64 {
	if len(l.records) == 0 {
		return 0
	}
	return l.records[len(l.records)-1].Rate()
}

// Contains reports whether a trade with the given id is in the log
func (l *Log) Contains(globalTradeID int64) bool {
	_, ok := l.index[globalTradeID]
	return ok
}

func (l *Log) position(globalTradeID int64) (int, bool) {
	p, ok := l.index[globalTradeID]
	return p - l.base, ok
}

// Replace adopts batch wholesale as the new records
func (l *Log) Replace(batch []models.Trade) error {
	if err := checkSorted(batch); err != nil {
		return err
	}
	l.setRecords(slices.Clone(batch))
	return nil
}

// Clear empties the log
func (l *Log) Clear() {
	l.setRecords(nil)
}

// Merge folds a time-ordered batch into the log.
//
// An empty batch is a no-op. An empty log adopts the batch. Otherwise the two
// ranges must overlap or touch; a strict gap in either direction fails with a
// *DiscontiguityError (wrapping ErrDiscontiguousRanges) and leaves the records
// untouched. Overlapping ranges are joined by keeping the side that starts
// earlier up to the first trade of the other side and appending the other side.
func (l *Log) Merge(batch []models.Trade) (MergeOutcome, error) {
	if len(batch) == 0 {
		l.logger.Warn("ignoring empty trade batch")
		return MergeOutcome{Kind: MergeNoop}, nil
	}
	if err := checkSorted(batch); err != nil {
		return MergeOutcome{}, err
	}

	if len(l.records) == 0 {
		l.setRecords(slices.Clone(batch))
		return MergeOutcome{Kind: MergeAdopted, Added: len(batch)}, nil
	}

	batchFirst, batchLast := batch[0].Time, batch[len(batch)-1].Time
	logFirst, logLast := l.FirstTime(), l.LastTime()

	if batchLast < logFirst || logLast < batchFirst {
		gap := logFirst - batchLast
		if logLast < batchFirst {
			gap = batchFirst - logLast
		}
		return MergeOutcome{}, &DiscontiguityError{
			Gap:        gap,
			BatchFirst: batchFirst,
			BatchLast:  batchLast,
			LogFirst:   logFirst,
			LogLast:    logLast,
		}
	}

	before := len(l.records)

	// A batch that starts no earlier and ends strictly earlier than the log
	// would truncate the newer records if spliced.
	if batchFirst >= logFirst && batchLast < logLast {
		return MergeOutcome{Kind: MergeContained}, nil
	}
	if batchFirst < logFirst && batchLast > logLast {
		l.setRecords(slices.Clone(batch))
		return MergeOutcome{Kind: MergeSuperset, Added: len(l.records) - before}, nil
	}

	kind := MergeSpliced
	if batchFirst < logFirst {
		// backfill: keep the batch up to the log's first trade
		var head []models.Trade
		if cut := slices.IndexFunc(batch, func(t models.Trade) bool {
			return t.GlobalTradeID == l.records[0].GlobalTradeID
		}); cut >= 0 {
			head = batch[:cut]
		} else {
			kind = MergeAdjacent
			head = adjacentHead(batch, l.records)
		}
		l.prepend(head)
	} else {
		if cut, found := l.position(batch[0].GlobalTradeID); found {
			l.truncate(cut)
		} else {
			kind = MergeAdjacent
			head := adjacentHead(l.records, batch)
			older := sort.Search(len(l.records), func(i int) bool {
				return l.records[i].Time >= batchFirst
			})
			l.truncate(older)
			l.append(head[older:])
		}
		l.append(batch)
	}

	return MergeOutcome{Kind: kind, Added: len(l.records) - before}, nil
}

// adjacentHead keeps the records of earlier that precede later's first trade:
// everything strictly older, plus same-second trades later does not carry.
func adjacentHead(earlier, later []models.Trade) []models.Trade {
	boundary := later[0].Time
	laterIDs := make(map[int64]struct{})
	for _, t := range later {
		if t.Time > boundary {
			break
		}
		laterIDs[t.GlobalTradeID] = struct{}{}
	}

	head := make([]models.Trade, 0, len(earlier))
	for _, t := range earlier {
		if t.Time < boundary {
			head = append(head, t)
			continue
		}
		if t.Time > boundary {
			break
		}
		if _, dup := laterIDs[t.GlobalTradeID]; !dup {
			head = append(head, t)
		}
	}
	return head
}

// Trim drops the oldest records so that LastTime-FirstTime does not exceed
// maxDuration, and returns the number dropped. The cut point is found by
// binary search: the smallest i with last-records[i].Time <= maxDuration.
func (l *Log) Trim(maxDuration float64) int {
	n := len(l.records)
	if n == 0 {
		return 0
	}

	last := l.records[n-1].Time
	i := sort.Search(n, func(i int) bool {
		return last-l.records[i].Time <= maxDuration
	})
	if i == 0 {
		return 0
	}

	for j := 0; j < i; j++ {
		l.unindex(j)
	}
	l.records = l.records[i:]
	l.base += i
	return i
}

func (l *Log) setRecords(records []models.Trade) {
	l.records = records
	l.base = 0
	l.index = buildIndex(records)
}

// truncate drops records[k:]
func (l *Log) truncate(k int) {
	for i := k; i < len(l.records); i++ {
		l.unindex(i)
	}
	l.records = l.records[:k]
}

func (l *Log) append(trades []models.Trade) {
	for _, t := range trades {
		if _, seen := l.index[t.GlobalTradeID]; !seen {
			l.index[t.GlobalTradeID] = l.base + len(l.records)
		}
		l.records = append(l.records, t)
	}
}

func (l *Log) prepend(trades []models.Trade) {
	if len(trades) == 0 {
		return
	}
	l.base -= len(trades)
	for j := len(trades) - 1; j >= 0; j-- {
		l.index[trades[j].GlobalTradeID] = l.base + j
	}
	l.records = append(slices.Clone(trades), l.records...)
}

func (l *Log) unindex(i int) {
	id := l.records[i].GlobalTradeID
	if l.index[id] == l.base+i {
		delete(l.index, id)
	}
}

func buildIndex(records []models.Trade) map[int64]int {
	index := make(map[int64]int, len(records))
	for i, t := range records {
		if _, seen := index[t.GlobalTradeID]; !seen {
			index[t.GlobalTradeID] = i
		}
	}
	return index
}

func checkSorted(batch []models.Trade) error {
	for i := 1; i < len(batch); i++ {
		if batch[i].Time < batch[i-1].Time {
			return fmt.Errorf("%w: record %d at %.0f precedes record %d at %.0f",
				ErrUnsortedBatch, i, batch[i].Time, i-1, batch[i-1].Time)
		}
	}
	return nil
}
