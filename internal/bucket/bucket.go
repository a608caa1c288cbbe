// Package bucket aggregates time-ordered trades into fixed-width time slots.
//
// A slot is emitted only once a trade from a later slot arrives, so the last
// open slot of a run is never emitted by Push or Bucketize. Callers that need
// the trailing partial slot call FlushTrailingBucket or BucketizeWithTrailing.
package bucket

import (
	"errors"
	"math"

	"github.com/johnayoung/go-trade-tape/internal/models"
)

// DefaultSize is the default slot width in seconds
const DefaultSize = 300

// ErrInvalidSize is returned for non-positive slot widths
var ErrInvalidSize = errors.New("bucket size must be positive")

// noSlot marks an accumulator that has not seen a trade yet. Slot indexes of
// real trades are never this small, so slot 0 stays a real slot.
const noSlot = math.MinInt64

// Accumulator is the streaming bucketizer
type Accumulator struct {
	size    float64
	slot    int64
	current models.Bucket
}

// NewAccumulator creates an accumulator for slots of size seconds
func NewAccumulator(size float64) (*Accumulator, error) {
	if !(size > 0) {
		return nil, ErrInvalidSize
	}
	return &Accumulator{size: size, slot: noSlot}, nil
}

// Slot returns the slot index of a timestamp
func (a *Accumulator) Slot(t float64) int64 {
	return int64(math.Floor(t / a.size))
}

// Push adds a trade. When the trade opens a new slot the previous slot is
// returned with ok set. The first trade opens its slot silently.
func (a *Accumulator) Push(t models.Trade) (models.Bucket, bool) {
	slot := a.Slot(t.Time)

	var (
		emitted models.Bucket
		ok      bool
	)
	if slot != a.slot {
		if a.slot != noSlot {
			emitted, ok = a.current, true
		}
		a.slot = slot
		a.current = models.Bucket{Start: float64(slot) * a.size}
	}

	a.current.Add(t)
	return emitted, ok
}

// FlushTrailingBucket returns the open slot, if any, and resets the accumulator
func (a *Accumulator) FlushTrailingBucket() (models.Bucket, bool) {
	if a.slot == noSlot {
		return models.Bucket{}, false
	}
	b := a.current
	a.slot = noSlot
	a.current = models.Bucket{}
	return b, true
}

// Bucketize aggregates records in one pass. The last open slot is not emitted.
func Bucketize(records []models.Trade, size float64) ([]models.Bucket, error) {
	acc, err := NewAccumulator(size)
	if err != nil {
		return nil, err
	}

	buckets := []models.Bucket{}
	for _, t := range records {
		if b, ok := acc.Push(t); ok {
			buckets = append(buckets, b)
		}
	}
	return buckets, nil
}

// BucketizeWithTrailing is Bucketize followed by a flush of the open slot
func BucketizeWithTrailing(records []models.Trade, size float64) ([]models.Bucket, error) {
	acc, err := NewAccumulator(size)
	if err != nil {
		return nil, err
	}

	buckets := []models.Bucket{}
	for _, t := range records {
		if b, ok := acc.Push(t); ok {
			buckets = append(buckets, b)
		}
	}
	if b, ok := acc.FlushTrailingBucket(); ok {
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// Rates returns the volume-weighted rate of each bucket
func Rates(buckets []models.Bucket) []float64 {
	rates := make([]float64, len(buckets))
	for i, b := range buckets {
		rates[i] = b.Rate()
	}
	return rates
}

// Starts returns the start time of each bucket
func Starts(buckets []models.Bucket) []float64 {
	starts := make([]float64, len(buckets))
	for i, b := range buckets {
		starts[i] = b.Start
	}
	return starts
}
