// Package writestat separates buffered writes from writes that reach the
// disk before returning. vfs_write calls on files opened with O_SYNC, O_DSYNC
// or O_DIRECT, and every vfs_fsync or fdatasync call, count as SYNC; all other
// vfs_write calls count as ASYNC. Latency and bytes are aggregated per process
// and type and reported once per interval.
package writestat

import (
	"cmp"
	"fmt"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/mrzor/latstat/internal/aggregate"
	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/correlate"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/report"
)

// Name is the probe name used on the command line.
const Name = "writestat"

const syncFlags = unix.O_SYNC | unix.O_DSYNC | unix.O_DIRECT

// Key classifies a completed write.
type Key struct {
	PID  uint32
	Comm string
	Sync bool
}

// Type returns "SYNC" or "ASYNC".
func (k Key) Type() string {
	if k.Sync {
		return "SYNC"
	}
	return "ASYNC"
}

type inflight struct {
	sync bool
}

// Probe aggregates write and flush latency.
type Probe struct {
	opts   probe.Options
	calls  *probe.Duration[uint64, inflight]
	stats  *aggregate.Store[Key]
	window *probe.Window
}

// New creates the probe.
func New(opts probe.Options) (*Probe, error) {
	calls, err := probe.NewDuration[uint64, inflight](opts.CorrelationCapacity, correlate.HashUint64)
	if err != nil {
		return nil, fmt.Errorf("in flight: %w", err)
	}
	stats, err := aggregate.NewStore[Key](opts.Units, opts.AggregationCapacity)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &Probe{opts: opts, calls: calls, stats: stats, window: probe.NewWindow()}, nil
}

// Name implements probe.Probe.
func (p *Probe) Name() string { return Name }

// Hooks implements probe.Probe.
func (p *Probe) Hooks() []bpf.Hook {
	return []bpf.Hook{
		bpf.HookVfsWrite,
		bpf.HookVfsWriteReturn,
		bpf.HookVfsFsync,
		bpf.HookVfsFsyncReturn,
		bpf.HookFdatasync,
		bpf.HookFdatasyncReturn,
	}
}

func threadKey(rec *bpf.HookRecord) uint64 {
	return uint64(rec.Pid)<<32 | uint64(rec.Tid)
}

// Handle implements probe.Probe.
func (p *Probe) Handle(rec *bpf.HookRecord) {
	switch rec.Hook {
	case bpf.HookVfsWrite:
		p.calls.Start(threadKey(rec), rec.Timestamp, inflight{sync: rec.Args[1]&syncFlags != 0})

	case bpf.HookVfsFsync, bpf.HookFdatasync:
		p.calls.Start(threadKey(rec), rec.Timestamp, inflight{sync: true})

	case bpf.HookVfsWriteReturn:
		p.complete(rec, true)

	case bpf.HookVfsFsyncReturn, bpf.HookFdatasyncReturn:
		p.complete(rec, false)
	}
}

func (p *Probe) complete(rec *bpf.HookRecord, countBytes bool) {
	c, ok := p.calls.End(threadKey(rec), rec.Timestamp, rec.Ret < 0)
	if !ok {
		return
	}
	d := aggregate.Delta{Count: 1, Duration: c.Elapsed()}
	if countBytes {
		d.Bytes = uint64(rec.Ret)
	}
	key := Key{PID: rec.Pid, Comm: p.opts.Comm(rec), Sync: c.Meta.sync}
	p.stats.Record(p.opts.Unit(rec), key, d)
}

// Collect returns the totals since the last Collect and resets them.
func (p *Probe) Collect() map[Key]aggregate.Bucket {
	return p.stats.Collect()
}

// Health implements probe.Probe.
func (p *Probe) Health() probe.Health {
	h := probe.NewHealth()
	h.Correlation["in_flight"] = p.calls.Stats()
	h.Aggregation["stats"] = p.stats.Stats()
	return h
}

// Snapshot implements report.Source.
func (p *Probe) Snapshot() report.Table {
	buckets := p.Collect()
	seconds := p.window.Advance()

	keys := make([]Key, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if c := cmp.Compare(a.PID, b.PID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Comm, b.Comm); c != 0 {
			return c
		}
		return cmp.Compare(a.Type(), b.Type())
	})

	t := report.Table{
		Title: Name,
		Columns: []report.Column{
			{Header: "PID", Key: "pid"},
			{Header: "COMM", Key: "comm"},
			{Header: "TYPE", Key: "type"},
			{Header: "IOPS", Key: "iops", Format: "%.0f"},
			{Header: "MB/s", Key: "mb_s", Format: "%.2f"},
			{Header: "AVG_LAT(ms)", Key: "avg_ms", Format: "%.2f"},
			{Header: "MAX_LAT(ms)", Key: "max_ms", Format: "%.2f"},
		},
		Rows: make([]report.Row, 0, len(keys)),
	}
	for _, k := range keys {
		t.Rows = append(t.Rows, Row(k, buckets[k], seconds))
	}
	return t
}

// Row returns the report fields for one key over a window of the given length.
func Row(k Key, b aggregate.Bucket, seconds float64) report.Row {
	return report.Row{
		"pid":    k.PID,
		"comm":   k.Comm,
		"type":   k.Type(),
		"sync":   k.Sync,
		"calls":  b.Count,
		"bytes":  b.Bytes,
		"iops":   probe.PerSecond(b.Count, seconds),
		"mb_s":   probe.PerSecond(b.Bytes, seconds) / (1024 * 1024),
		"avg_ms": float64(b.AvgDuration()) / 1e6,
		"max_ms": float64(b.MaxDuration) / 1e6,
	}
}
