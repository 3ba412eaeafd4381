package aggregate

import "sync/atomic"

// Delta is the contribution of one completed operation.
type Delta struct {
	Count    uint64
	Bytes    uint64
	Duration uint64 // nanoseconds; also feeds MaxDuration

	// Time-in-state accumulators, nanoseconds.
	Running  uint64
	Sleeping uint64
	Blocked  uint64
}

// Bucket holds the running accumulators for one classification key.
type Bucket struct {
	Count         uint64 `json:"count"`
	Bytes         uint64 `json:"bytes"`
	TotalDuration uint64 `json:"total_duration_ns"`
	MaxDuration   uint64 `json:"max_duration_ns"`
	Running       uint64 `json:"running_ns"`
	Sleeping      uint64 `json:"sleeping_ns"`
	Blocked       uint64 `json:"blocked_ns"`
}

// Merge folds o into b. Sums add; MaxDuration keeps the larger value.
func (b *Bucket) Merge(o Bucket) {
	b.Count += o.Count
	b.Bytes += o.Bytes
	b.TotalDuration += o.TotalDuration
	if o.MaxDuration > b.MaxDuration {
		b.MaxDuration = o.MaxDuration
	}
	b.Running += o.Running
	b.Sleeping += o.Sleeping
	b.Blocked += o.Blocked
}

// AvgDuration returns TotalDuration/Count, or zero for an empty bucket.
func (b Bucket) AvgDuration() uint64 {
	if b.Count == 0 {
		return 0
	}
	return b.TotalDuration / b.Count
}

// add folds one delta into b.
func (b *Bucket) add(d Delta) {
	b.Count += d.Count
	b.Bytes += d.Bytes
	b.TotalDuration += d.Duration
	if d.Duration > b.MaxDuration {
		b.MaxDuration = d.Duration
	}
	b.Running += d.Running
	b.Sleeping += d.Sleeping
	b.Blocked += d.Blocked
}

// accum publishes immutable bucket values. A delta is applied to a private
// copy that is swapped in whole, so readers see it entirely or not at all.
type accum struct {
	cur atomic.Pointer[Bucket]
}

func newAccum() *accum {
	a := new(accum)
	a.cur.Store(new(Bucket))
	return a
}

func (a *accum) apply(d Delta) {
	for {
		old := a.cur.Load()
		next := *old
		next.add(d)
		if a.cur.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (a *accum) snapshot() Bucket {
	return *a.cur.Load()
}
