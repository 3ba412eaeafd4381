// Package numafaults counts NUMA hinting faults per process and splits them
// into local faults, where the page lives on the faulting CPU's node, and
// remote ones.
package numafaults

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/report"
)

// Name is the probe name used on the command line.
const Name = "numafaults"

// Key classifies one fault.
type Key struct {
	PID    uint32
	Comm   string
	Remote bool
}

// Faults are the per-process totals of one interval.
type Faults struct {
	PID    uint32
	Comm   string
	Local  uint64
	Remote uint64
}

// Locality is the percentage of faults that were local, or zero without faults.
func (f Faults) Locality() float64 {
	total := f.Local + f.Remote
	if total == 0 {
		return 0
	}
	return float64(f.Local) / float64(total) * 100
}

// Probe counts local and remote faults.
type Probe struct {
	opts     probe.Options
	counters *probe.Counters[Key]
}

// New creates the probe.
func New(opts probe.Options) (*Probe, error) {
	counters, err := probe.NewCounters[Key](opts.Units, opts.AggregationCapacity)
	if err != nil {
		return nil, fmt.Errorf("numa faults: %w", err)
	}
	return &Probe{opts: opts, counters: counters}, nil
}

// Name implements probe.Probe.
func (p *Probe) Name() string { return Name }

// Hooks implements probe.Probe.
func (p *Probe) Hooks() []bpf.Hook {
	return []bpf.Hook{bpf.HookTaskNumaFault}
}

// Handle implements probe.Probe.
func (p *Probe) Handle(rec *bpf.HookRecord) {
	if rec.Hook != bpf.HookTaskNumaFault {
		return
	}
	key := Key{
		PID:    rec.Pid,
		Comm:   p.opts.Comm(rec),
		Remote: rec.Args[0] != rec.Args[1],
	}
	p.counters.Add(p.opts.Unit(rec), key, 0)
}

// Collect returns the per-process totals since the last Collect, ordered by
// PID, and resets them.
func (p *Probe) Collect() []Faults {
	byPID := make(map[uint32]*Faults)
	for k, b := range p.counters.Collect() {
		f, ok := byPID[k.PID]
		if !ok {
			f = &Faults{PID: k.PID, Comm: k.Comm}
			byPID[k.PID] = f
		} else if k.Comm != "" && (f.Comm == "" || k.Comm < f.Comm) {
			f.Comm = k.Comm
		}
		if k.Remote {
			f.Remote += b.Count
		} else {
			f.Local += b.Count
		}
	}

	out := make([]Faults, 0, len(byPID))
	for _, f := range byPID {
		out = append(out, *f)
	}
	slices.SortFunc(out, func(a, b Faults) int { return cmp.Compare(a.PID, b.PID) })
	return out
}

// Health implements probe.Probe.
func (p *Probe) Health() probe.Health {
	h := probe.NewHealth()
	h.Aggregation["numa_faults"] = p.counters.Stats()
	return h
}

// Snapshot implements report.Source.
func (p *Probe) Snapshot() report.Table {
	faults := p.Collect()
	t := report.Table{
		Title: Name,
		Columns: []report.Column{
			{Header: "PID", Key: "pid"},
			{Header: "COMM", Key: "comm"},
			{Header: "LOCAL FAULTS", Key: "local"},
			{Header: "REMOTE FAULTS", Key: "remote"},
			{Header: "LOCALITY %", Key: "locality", Format: "%.2f"},
		},
		Rows: make([]report.Row, 0, len(faults)),
	}
	for _, f := range faults {
		t.Rows = append(t.Rows, report.Row{
			"pid":      f.PID,
			"comm":     f.Comm,
			"local":    f.Local,
			"remote":   f.Remote,
			"locality": f.Locality(),
		})
	}
	return t
}
