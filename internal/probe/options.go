package probe

import (
	"time"

	"github.com/mrzor/latstat/internal/bpf"
)

// NameResolver looks up an actor's short name when a record carries none.
type NameResolver interface {
	Name(pid uint32) string
}

// Options are the start-time constants every probe is built from.
type Options struct {
	CorrelationCapacity int
	AggregationCapacity int
	ChannelCapacity     int
	Units               int
	Threshold           Threshold
	Names               NameResolver
}

// DefaultOptions returns the capacities and thresholds used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		CorrelationCapacity: 10240,
		AggregationCapacity: 10240,
		ChannelCapacity:     4096,
		Units:               1,
		Threshold:           Threshold{DelayFloor: time.Millisecond, UsageFloor: 80},
	}
}

// Comm returns the record's task name, falling back to the resolver.
func (o Options) Comm(rec *bpf.HookRecord) string {
	if name := rec.CommString(); name != "" {
		return name
	}
	if o.Names != nil {
		return o.Names.Name(rec.Pid)
	}
	return ""
}

// Unit maps a record to its execution unit.
func (o Options) Unit(rec *bpf.HookRecord) int {
	return int(rec.CPU)
}
