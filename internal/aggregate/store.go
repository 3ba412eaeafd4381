package aggregate

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	// ErrInvalidUnits is returned when a store is created with fewer than one unit.
	ErrInvalidUnits = errors.New("aggregate: unit count must be positive")
	// ErrInvalidCapacity is returned when the per-unit bucket capacity is below one.
	ErrInvalidCapacity = errors.New("aggregate: capacity must be positive")
)

type generation[C comparable] struct {
	buckets  sync.Map // C -> *accum
	size     atomic.Int64
	inflight atomic.Int64
}

func (g *generation[C]) record(key C, d Delta, capacity int64) bool {
	v, ok := g.buckets.Load(key)
	if !ok {
		if !g.reserve(capacity) {
			return false
		}
		var loaded bool
		v, loaded = g.buckets.LoadOrStore(key, newAccum())
		if loaded {
			g.size.Add(-1)
		}
	}
	v.(*accum).apply(d)
	return true
}

func (g *generation[C]) reserve(capacity int64) bool {
	for {
		n := g.size.Load()
		if n >= capacity {
			return false
		}
		if g.size.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (g *generation[C]) sumInto(out map[C]Bucket) {
	g.buckets.Range(func(k, v any) bool {
		key := k.(C)
		b := out[key]
		b.Merge(v.(*accum).snapshot())
		out[key] = b
		return true
	})
}

type unit[C comparable] struct {
	cur     atomic.Pointer[generation[C]]
	dropped atomic.Uint64
	_       [48]byte
}

// Store keeps one bucket table per execution unit.
type Store[C comparable] struct {
	units    []unit[C]
	capacity int64

	collectMu sync.Mutex
}

// Stats is a point-in-time view of a store's health counters.
type Stats struct {
	Units           int    `json:"units"`
	CapacityPerUnit int64  `json:"capacity_per_unit"`
	Buckets         int64  `json:"buckets"`
	Dropped         uint64 `json:"dropped"`
}

// NewStore creates a store with the given number of execution units and a
// per-unit bucket capacity.
func NewStore[C comparable](units, capacity int) (*Store[C], error) {
	if units < 1 {
		return nil, ErrInvalidUnits
	}
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	s := &Store[C]{
		units:    make([]unit[C], units),
		capacity: int64(capacity),
	}
	for i := range s.units {
		s.units[i].cur.Store(new(generation[C]))
	}
	return s, nil
}

// Units returns the number of execution units.
func (s *Store[C]) Units() int {
	return len(s.units)
}

// Record applies d to the bucket for (unitID, key), creating it on first
// touch. Unit ids outside [0, Units) wrap around. It returns false when the
// unit's table is full and the delta was dropped.
func (s *Store[C]) Record(unitID int, key C, d Delta) bool {
	u := &s.units[uint(unitID)%uint(len(s.units))]
	for {
		g := u.cur.Load()
		g.inflight.Add(1)
		if u.cur.Load() != g {
			// Collect swapped generations under us; retry on the new one.
			g.inflight.Add(-1)
			continue
		}
		ok := g.record(key, d, s.capacity)
		g.inflight.Add(-1)
		if !ok {
			u.dropped.Add(1)
		}
		return ok
	}
}

// MergeAll sums the current buckets of every unit by classification key. It
// does not modify the store.
func (s *Store[C]) MergeAll() map[C]Bucket {
	out := make(map[C]Bucket)
	for i := range s.units {
		s.units[i].cur.Load().sumInto(out)
	}
	return out
}

// Collect returns everything recorded since the previous Collect and resets
// every unit to an empty table.
func (s *Store[C]) Collect() map[C]Bucket {
	s.collectMu.Lock()
	defer s.collectMu.Unlock()

	out := make(map[C]Bucket)
	for i := range s.units {
		u := &s.units[i]
		old := u.cur.Swap(new(generation[C]))
		for old.inflight.Load() != 0 {
			runtime.Gosched()
		}
		old.sumInto(out)
	}
	return out
}

// Stats reports bucket occupancy and drops across all units.
func (s *Store[C]) Stats() Stats {
	st := Stats{Units: len(s.units), CapacityPerUnit: s.capacity}
	for i := range s.units {
		u := &s.units[i]
		st.Buckets += u.cur.Load().size.Load()
		st.Dropped += u.dropped.Load()
	}
	return st
}
