package probe

import (
	"fmt"

	"github.com/mrzor/latstat/internal/aggregate"
	"github.com/mrzor/latstat/internal/correlate"
)

// State is one of the three mutually exclusive states time is attributed to.
type State uint8

const (
	Running State = iota
	Sleeping
	Blocked
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// taskUninterruptible is the scheduler state bit for uninterruptible (disk) sleep.
const taskUninterruptible = 0x2

// ClassifyState maps a raw scheduler state to a State. Zero is runnable; the
// uninterruptible bit means blocked on I/O; anything else is sleeping.
func ClassifyState(raw uint64) State {
	switch {
	case raw == 0:
		return Running
	case raw&taskUninterruptible != 0:
		return Blocked
	default:
		return Sleeping
	}
}

type mark struct {
	ts    uint64
	state uint64
}

// TimeInState accumulates, per actor, the time spent running, sleeping and
// blocked. Time is attributed when the actor is switched back in, using the
// state it was recorded in when it was switched out.
type TimeInState[A comparable] struct {
	marks *correlate.Store[A, mark]
	agg   *aggregate.Store[A]
}

// NewTimeInState creates the switch-out table with room for tableCapacity
// actors and per-unit accumulators of bucketCapacity actors each.
func NewTimeInState[A comparable](units, tableCapacity, bucketCapacity int, hash correlate.HashFunc[A]) (*TimeInState[A], error) {
	marks, err := correlate.NewStore[A, mark](tableCapacity, hash)
	if err != nil {
		return nil, fmt.Errorf("creating switch table: %w", err)
	}
	agg, err := aggregate.NewStore[A](units, bucketCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating state accumulators: %w", err)
	}
	return &TimeInState[A]{marks: marks, agg: agg}, nil
}

// Switch handles a transition on unit at ts where prev leaves in prevState and
// next comes in. It returns the time attributed to next, and false when next
// had no recorded switch-out.
func (t *TimeInState[A]) Switch(unit int, ts uint64, prev A, prevState uint64, next A) (uint64, bool) {
	t.marks.Begin(prev, mark{ts: ts, state: prevState})

	m, ok := t.marks.End(next)
	if !ok {
		return 0, false
	}
	delta := elapsed(m.ts, ts)

	var d aggregate.Delta
	switch ClassifyState(m.state) {
	case Running:
		d.Running = delta
	case Blocked:
		d.Blocked = delta
	default:
		d.Sleeping = delta
	}
	t.agg.Record(unit, next, d)
	return delta, true
}

// Snapshot returns the per-actor totals without resetting them.
func (t *TimeInState[A]) Snapshot() map[A]aggregate.Bucket {
	return t.agg.MergeAll()
}

// Collect returns the per-actor totals since the last Collect and resets them.
func (t *TimeInState[A]) Collect() map[A]aggregate.Bucket {
	return t.agg.Collect()
}

// Stats returns the switch table and accumulator counters.
func (t *TimeInState[A]) Stats() (correlate.Stats, aggregate.Stats) {
	return t.marks.Stats(), t.agg.Stats()
}
