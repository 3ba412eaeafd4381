package probe

import (
	"fmt"

	"github.com/mrzor/latstat/internal/correlate"
)

// Stage is the position of an operation in a Stages flow.
type Stage uint8

const (
	Initiated Stage = iota + 1
	Established
	Complete
)

func (s Stage) String() string {
	switch s {
	case Initiated:
		return "initiated"
	case Established:
		return "established"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

type flow[R any] struct {
	stage Stage
	t0    uint64
	t1    uint64
	rec   R
}

// Handshake is the result of a flow that reached Complete.
type Handshake[R any] struct {
	Record      R
	Initiated   uint64
	Established uint64
	Completed   uint64
}

// FirstLatency is the time from Initiated to Established.
func (h Handshake[R]) FirstLatency() uint64 {
	return elapsed(h.Initiated, h.Established)
}

// SecondLatency is the time from Established to Complete.
func (h Handshake[R]) SecondLatency() uint64 {
	return elapsed(h.Established, h.Completed)
}

func elapsed(from, to uint64) uint64 {
	if to < from {
		return 0
	}
	return to - from
}

// Stages tracks operations through Initiated -> Established -> Complete.
// Records live in a pending table until established and in an active table
// until complete. Transitions out of that order are ignored.
type Stages[K comparable, R any] struct {
	pending *correlate.Store[K, flow[R]]
	active  *correlate.Store[K, flow[R]]
}

// NewStages creates the pending and active tables, each with the given capacity.
func NewStages[K comparable, R any](capacity int, hash correlate.HashFunc[K]) (*Stages[K, R], error) {
	pending, err := correlate.NewStore[K, flow[R]](capacity, hash)
	if err != nil {
		return nil, fmt.Errorf("creating pending table: %w", err)
	}
	active, err := correlate.NewStore[K, flow[R]](capacity, hash)
	if err != nil {
		return nil, fmt.Errorf("creating active table: %w", err)
	}
	return &Stages[K, R]{pending: pending, active: active}, nil
}

// Initiate starts a flow for key carrying rec. A flow already pending for key
// is replaced.
func (s *Stages[K, R]) Initiate(key K, ts uint64, rec R) {
	s.pending.Begin(key, flow[R]{stage: Initiated, t0: ts, rec: rec})
}

// Establish moves the pending flow for key to the active table, letting update
// fill in fields known only at this stage. It reports false when no flow was
// pending.
func (s *Stages[K, R]) Establish(key K, ts uint64, update func(*R)) bool {
	f, ok := s.pending.End(key)
	if !ok {
		return false
	}
	f.stage = Established
	f.t1 = ts
	if update != nil {
		update(&f.rec)
	}
	s.active.Begin(key, f)
	return true
}

// Complete finishes the active flow for key.
func (s *Stages[K, R]) Complete(key K, ts uint64) (Handshake[R], bool) {
	f, ok := s.active.End(key)
	if !ok {
		return Handshake[R]{}, false
	}
	return Handshake[R]{
		Record:      f.rec,
		Initiated:   f.t0,
		Established: f.t1,
		Completed:   ts,
	}, true
}

// StageOf reports where the flow for key currently is.
func (s *Stages[K, R]) StageOf(key K) (Stage, bool) {
	if s.active.Contains(key) {
		return Established, true
	}
	if s.pending.Contains(key) {
		return Initiated, true
	}
	return 0, false
}

// Stats returns the counters of the pending and active tables.
func (s *Stages[K, R]) Stats() (pending, active correlate.Stats) {
	return s.pending.Stats(), s.active.Stats()
}
