package probe

import (
	"fmt"

	"github.com/mrzor/latstat/internal/aggregate"
)

// Counters adds byte or event counts to a closed set of classes, one table per
// execution unit.
type Counters[C comparable] struct {
	agg *aggregate.Store[C]
}

// NewCounters creates counters for the given number of units. capacity bounds
// the number of distinct classes per unit.
func NewCounters[C comparable](units, capacity int) (*Counters[C], error) {
	agg, err := aggregate.NewStore[C](units, capacity)
	if err != nil {
		return nil, fmt.Errorf("creating counters: %w", err)
	}
	return &Counters[C]{agg: agg}, nil
}

// Add counts one event of class c carrying n bytes.
func (c *Counters[C]) Add(unit int, class C, n uint64) bool {
	return c.agg.Record(unit, class, aggregate.Delta{Count: 1, Bytes: n})
}

// Snapshot returns the current totals without resetting them.
func (c *Counters[C]) Snapshot() map[C]aggregate.Bucket {
	return c.agg.MergeAll()
}

// Collect returns the totals since the last Collect and resets them.
func (c *Counters[C]) Collect() map[C]aggregate.Bucket {
	return c.agg.Collect()
}

// Stats returns the underlying store counters.
func (c *Counters[C]) Stats() aggregate.Stats {
	return c.agg.Stats()
}
