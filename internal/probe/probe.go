package probe

import (
	"github.com/mrzor/latstat/internal/aggregate"
	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/correlate"
	"github.com/mrzor/latstat/internal/emit"
)

// Probe is a measurement bound to a fixed set of hook points. Handle is called
// for every record from one of those hooks, possibly from many goroutines at
// once, and must not block.
type Probe interface {
	Name() string
	Hooks() []bpf.Hook
	Handle(rec *bpf.HookRecord)
	Health() Health
}

// Health gathers the engine counters of a probe, keyed by table name.
type Health struct {
	Correlation map[string]correlate.Stats
	Aggregation map[string]aggregate.Stats
	Channel     map[string]emit.Stats
}

// NewHealth returns an empty Health ready to fill.
func NewHealth() Health {
	return Health{
		Correlation: make(map[string]correlate.Stats),
		Aggregation: make(map[string]aggregate.Stats),
		Channel:     make(map[string]emit.Stats),
	}
}

// Dropped sums every counter that represents lost observations.
func (h Health) Dropped() uint64 {
	var n uint64
	for _, s := range h.Correlation {
		n += s.Evicted
	}
	for _, s := range h.Aggregation {
		n += s.Dropped
	}
	for _, s := range h.Channel {
		n += s.Dropped
	}
	return n
}
