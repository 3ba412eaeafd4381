package probe

import (
	"fmt"

	"github.com/mrzor/latstat/internal/correlate"
)

// Pending is what Duration keeps between a start and its end.
type Pending[M any] struct {
	Start uint64
	Meta  M
}

// Completion describes a matched start/end pair.
type Completion[M any] struct {
	Start uint64
	End   uint64
	Meta  M
}

// Elapsed returns End-Start in nanoseconds. A timestamp going backwards yields zero.
func (c Completion[M]) Elapsed() uint64 {
	if c.End < c.Start {
		return 0
	}
	return c.End - c.Start
}

// Duration measures the time between paired start and end hooks.
type Duration[K comparable, M any] struct {
	store *correlate.Store[K, Pending[M]]
}

// NewDuration creates a Duration backed by a correlation table of the given capacity.
func NewDuration[K comparable, M any](capacity int, hash correlate.HashFunc[K]) (*Duration[K, M], error) {
	store, err := correlate.NewStore[K, Pending[M]](capacity, hash)
	if err != nil {
		return nil, fmt.Errorf("creating duration table: %w", err)
	}
	return &Duration[K, M]{store: store}, nil
}

// Start records the beginning of the operation identified by key.
func (d *Duration[K, M]) Start(key K, ts uint64, meta M) {
	d.store.Begin(key, Pending[M]{Start: ts, Meta: meta})
}

// End completes the operation identified by key. A failed operation is
// discarded. The boolean is false when nothing should be recorded.
func (d *Duration[K, M]) End(key K, ts uint64, failed bool) (Completion[M], bool) {
	if failed {
		d.store.Discard(key)
		return Completion[M]{}, false
	}
	p, ok := d.store.End(key)
	if !ok {
		return Completion[M]{}, false
	}
	return Completion[M]{Start: p.Start, End: ts, Meta: p.Meta}, true
}

// Discard drops the pending start for key.
func (d *Duration[K, M]) Discard(key K) bool {
	return d.store.Discard(key)
}

// Stats returns the correlation table counters.
func (d *Duration[K, M]) Stats() correlate.Stats {
	return d.store.Stats()
}
