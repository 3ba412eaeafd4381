// Package tsastat performs thread state analysis from scheduler switches:
// for every thread it accumulates the time spent runnable (preempted while
// still wanting the CPU), sleeping and blocked in uninterruptible disk wait.
package tsastat

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/mrzor/latstat/internal/aggregate"
	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/correlate"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/report"
)

// Name is the probe name used on the command line.
const Name = "tsastat"

const nsPerMs = 1_000_000

func hashPID(pid uint32) uint64 {
	return correlate.HashUint64(uint64(pid))
}

// Probe accounts time in state per thread id.
type Probe struct {
	opts  probe.Options
	state *probe.TimeInState[uint32]
}

// New creates the probe.
func New(opts probe.Options) (*Probe, error) {
	state, err := probe.NewTimeInState[uint32](opts.Units, opts.CorrelationCapacity, opts.AggregationCapacity, hashPID)
	if err != nil {
		return nil, fmt.Errorf("thread states: %w", err)
	}
	return &Probe{opts: opts, state: state}, nil
}

// Name implements probe.Probe.
func (p *Probe) Name() string { return Name }

// Hooks implements probe.Probe.
func (p *Probe) Hooks() []bpf.Hook {
	return []bpf.Hook{bpf.HookSchedSwitch}
}

// Handle implements probe.Probe.
func (p *Probe) Handle(rec *bpf.HookRecord) {
	if rec.Hook != bpf.HookSchedSwitch {
		return
	}
	//nolint:gosec // pids are 32 bits
	prev, next := uint32(rec.Args[0]), uint32(rec.Args[2])
	p.state.Switch(p.opts.Unit(rec), rec.Timestamp, prev, rec.Args[1], next)
}

// Collect returns per-thread time in state since the last Collect and resets it.
func (p *Probe) Collect() map[uint32]aggregate.Bucket {
	return p.state.Collect()
}

// Health implements probe.Probe.
func (p *Probe) Health() probe.Health {
	h := probe.NewHealth()
	h.Correlation["start"], h.Aggregation["dist"] = p.state.Stats()
	return h
}

// Snapshot implements report.Source. Threads with less than a millisecond in
// every state are left out.
func (p *Probe) Snapshot() report.Table {
	dist := p.Collect()
	pids := make([]uint32, 0, len(dist))
	for pid := range dist {
		pids = append(pids, pid)
	}
	slices.SortFunc(pids, cmp.Compare[uint32])

	t := report.Table{
		Title: Name,
		Columns: []report.Column{
			{Header: "PID", Key: "pid"},
			{Header: "COMM", Key: "comm"},
			{Header: "RUN(ms)", Key: "run_ms"},
			{Header: "SLEEP(ms)", Key: "sleep_ms"},
			{Header: "DISK(ms)", Key: "disk_ms"},
		},
	}
	for _, pid := range pids {
		b := dist[pid]
		run, sleep, disk := b.Running/nsPerMs, b.Sleeping/nsPerMs, b.Blocked/nsPerMs
		if run == 0 && sleep == 0 && disk == 0 {
			continue
		}
		comm := ""
		if p.opts.Names != nil {
			comm = p.opts.Names.Name(pid)
		}
		t.Rows = append(t.Rows, report.Row{
			"pid":      pid,
			"comm":     comm,
			"run_ms":   run,
			"sleep_ms": sleep,
			"disk_ms":  disk,
		})
	}
	return t
}
