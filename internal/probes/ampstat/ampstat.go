// Package ampstat compares the bytes applications ask to read and write
// through the VFS with the bytes the block layer actually transfers, and
// reports the ratio as I/O amplification.
package ampstat

import (
	"fmt"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/report"
)

// Name is the probe name used on the command line.
const Name = "ampstat"

// sectorSize is the unit of nr_sector in block tracepoints.
const sectorSize = 512

// Class is one of the four byte counters.
type Class uint8

const (
	LogicalRead Class = iota
	LogicalWrite
	PhysicalRead
	PhysicalWrite
)

func (c Class) String() string {
	switch c {
	case LogicalRead:
		return "logical_read"
	case LogicalWrite:
		return "logical_write"
	case PhysicalRead:
		return "physical_read"
	case PhysicalWrite:
		return "physical_write"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Probe counts logical and physical bytes.
type Probe struct {
	opts     probe.Options
	counters *probe.Counters[Class]
	window   *probe.Window
}

// New creates the probe.
func New(opts probe.Options) (*Probe, error) {
	counters, err := probe.NewCounters[Class](opts.Units, 4)
	if err != nil {
		return nil, fmt.Errorf("io stats: %w", err)
	}
	return &Probe{opts: opts, counters: counters, window: probe.NewWindow()}, nil
}

// Name implements probe.Probe.
func (p *Probe) Name() string { return Name }

// Hooks implements probe.Probe.
func (p *Probe) Hooks() []bpf.Hook {
	return []bpf.Hook{bpf.HookVfsReadReturn, bpf.HookVfsWriteReturn, bpf.HookBlockRqComplete}
}

// Handle implements probe.Probe.
func (p *Probe) Handle(rec *bpf.HookRecord) {
	unit := p.opts.Unit(rec)
	switch rec.Hook {
	case bpf.HookVfsReadReturn:
		if rec.Ret >= 0 {
			p.counters.Add(unit, LogicalRead, uint64(rec.Ret))
		}

	case bpf.HookVfsWriteReturn:
		if rec.Ret >= 0 {
			p.counters.Add(unit, LogicalWrite, uint64(rec.Ret))
		}

	case bpf.HookBlockRqComplete:
		bytes := rec.Args[0] * sectorSize
		switch byte(rec.Args[1]) {
		case 'R':
			p.counters.Add(unit, PhysicalRead, bytes)
		case 'W':
			p.counters.Add(unit, PhysicalWrite, bytes)
		}
	}
}

// Collect returns the byte totals since the last Collect and resets them.
func (p *Probe) Collect() map[Class]uint64 {
	out := make(map[Class]uint64, 4)
	for c, b := range p.counters.Collect() {
		out[c] = b.Bytes
	}
	return out
}

// Health implements probe.Probe.
func (p *Probe) Health() probe.Health {
	h := probe.NewHealth()
	h.Aggregation["io_stats"] = p.counters.Stats()
	return h
}

// Amplification returns physical/logical formatted as "N.NNx", or "-" when
// nothing was read or written logically.
func Amplification(logical, physical uint64) string {
	if logical == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", float64(physical)/float64(logical))
}

// Snapshot implements report.Source.
func (p *Probe) Snapshot() report.Table {
	totals := p.Collect()
	seconds := p.window.Advance()

	t := report.Table{
		Title: Name,
		Columns: []report.Column{
			{Header: "METRIC", Key: "metric"},
			{Header: "LOGICAL(MB/s)", Key: "logical_mb_s", Format: "%.2f"},
			{Header: "PHYSICAL(MB/s)", Key: "physical_mb_s", Format: "%.2f"},
			{Header: "AMPLIFICATION", Key: "amplification"},
		},
	}
	t.Rows = []report.Row{
		row("Read", totals[LogicalRead], totals[PhysicalRead], seconds),
		row("Write", totals[LogicalWrite], totals[PhysicalWrite], seconds),
	}
	return t
}

func row(metric string, logical, physical uint64, seconds float64) report.Row {
	return report.Row{
		"metric":         metric,
		"logical_bytes":  logical,
		"physical_bytes": physical,
		"logical_mb_s":   probe.PerSecond(logical, seconds) / (1024 * 1024),
		"physical_mb_s":  probe.PerSecond(physical, seconds) / (1024 * 1024),
		"amplification":  Amplification(logical, physical),
	}
}
