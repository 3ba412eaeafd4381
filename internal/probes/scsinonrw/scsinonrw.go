// Package scsinonrw traces SCSI commands other than READ and WRITE, such as
// SYNCHRONIZE_CACHE, UNMAP or INQUIRY, and reports the hardware latency and
// completion status of each one.
package scsinonrw

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/correlate"
	"github.com/mrzor/latstat/internal/emit"
	"github.com/mrzor/latstat/internal/output"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/report"
	"github.com/mrzor/latstat/internal/timesync"
)

// Name is the probe name used on the command line.
const Name = "scsinonrw"

// opcodeNames maps the control opcodes worth naming.
var opcodeNames = map[uint32]string{
	0x00: "TEST_UNIT_READY",
	0x03: "REQUEST_SENSE",
	0x12: "INQUIRY",
	0x1B: "START_STOP_UNIT",
	0x2F: "VERIFY",
	0x35: "SYNCHRONIZE_CACHE",
	0x42: "UNMAP (TRIM)",
	0x5E: "PERSISTENT_RESERVE",
}

// OpcodeName returns the command name for op, or "UNKNOWN".
func OpcodeName(op uint32) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsReadWrite reports whether op is READ or WRITE in its 6, 10 or 16 byte form.
func IsReadWrite(op uint32) bool {
	switch op {
	case 0x08, 0x28, 0x88, 0x0A, 0x2A, 0x8A:
		return true
	}
	return false
}

// Device addresses a SCSI logical unit.
type Device struct {
	Host    uint32
	Channel uint32
	ID      uint32
	LUN     uint32
}

func (d Device) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", d.Host, d.Channel, d.ID, d.LUN)
}

type cmdKey struct {
	dev    Device
	opcode uint32
}

func hashKey(k cmdKey) uint64 {
	var b [20]byte
	binary.LittleEndian.PutUint32(b[0:], k.dev.Host)
	binary.LittleEndian.PutUint32(b[4:], k.dev.Channel)
	binary.LittleEndian.PutUint32(b[8:], k.dev.ID)
	binary.LittleEndian.PutUint32(b[12:], k.dev.LUN)
	binary.LittleEndian.PutUint32(b[16:], k.opcode)
	return correlate.HashBytes(b[:])
}

// Event is one completed non read/write command.
type Event struct {
	Timestamp uint64 // monotonic ns at completion
	LatencyNs uint64
	Opcode    uint32
	Device    Device
	Result    int64
}

// OK reports whether the command completed without error.
func (e Event) OK() bool { return e.Result == 0 }

// Probe measures SCSI control command latency.
type Probe struct {
	opts    probe.Options
	cmds    *probe.Duration[cmdKey, struct{}]
	events  *emit.Channel[Event]
	sink    output.Sink
	clock   *timesync.Converter
	sysRoot string
	devices map[Device]string
}

// New creates the probe.
func New(opts probe.Options) (*Probe, error) {
	cmds, err := probe.NewDuration[cmdKey, struct{}](opts.CorrelationCapacity, hashKey)
	if err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}
	events, err := emit.NewChannel[Event](opts.ChannelCapacity)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return &Probe{
		opts:    opts,
		cmds:    cmds,
		events:  events,
		sysRoot: "/sys",
		devices: make(map[Device]string),
	}, nil
}

// Name implements probe.Probe.
func (p *Probe) Name() string { return Name }

// Hooks implements probe.Probe.
func (p *Probe) Hooks() []bpf.Hook {
	return []bpf.Hook{bpf.HookScsiDispatchStart, bpf.HookScsiDispatchDone}
}

// SetSink makes every drained event also go to s.
func (p *Probe) SetSink(s output.Sink) { p.sink = s }

// SetConverter makes the report print wall clock times.
func (p *Probe) SetConverter(c *timesync.Converter) { p.clock = c }

// SetSysRoot changes where device names are looked up. Defaults to /sys.
func (p *Probe) SetSysRoot(root string) { p.sysRoot = root }

func keyOf(rec *bpf.HookRecord) cmdKey {
	//nolint:gosec // tracepoint fields are 32 bits
	return cmdKey{
		dev: Device{
			Host:    uint32(rec.Args[0]),
			Channel: uint32(rec.Args[1]),
			ID:      uint32(rec.Args[2]),
			LUN:     uint32(rec.Args[3]),
		},
		opcode: uint32(rec.Ident),
	}
}

// Handle implements probe.Probe.
func (p *Probe) Handle(rec *bpf.HookRecord) {
	switch rec.Hook {
	case bpf.HookScsiDispatchStart:
		k := keyOf(rec)
		if IsReadWrite(k.opcode) {
			return
		}
		p.cmds.Start(k, rec.Timestamp, struct{}{})

	case bpf.HookScsiDispatchDone:
		k := keyOf(rec)
		c, ok := p.cmds.End(k, rec.Timestamp, false)
		if !ok {
			return
		}
		p.events.Push(Event{
			Timestamp: rec.Timestamp,
			LatencyNs: c.Elapsed(),
			Opcode:    k.opcode,
			Device:    k.dev,
			Result:    rec.Ret,
		})
	}
}

// Drain returns the events emitted since the last call.
func (p *Probe) Drain() []Event {
	return p.events.Drain()
}

// Health implements probe.Probe.
func (p *Probe) Health() probe.Health {
	h := probe.NewHealth()
	h.Correlation["nonrw"] = p.cmds.Stats()
	h.Channel["events"] = p.events.Stats()
	return h
}

// DeviceName returns the block device behind d, or "host<N>" when sysfs has
// none.
func (p *Probe) DeviceName(d Device) string {
	if name, ok := p.devices[d]; ok {
		return name
	}
	name := "host" + strconv.FormatUint(uint64(d.Host), 10)
	dir := filepath.Join(p.sysRoot, "class", "scsi_device", d.String(), "device", "block")
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		name = entries[0].Name()
	}
	p.devices[d] = name
	return name
}

// Snapshot implements report.Source.
func (p *Probe) Snapshot() report.Table {
	events := p.Drain()
	t := report.Table{
		Title: Name,
		Columns: []report.Column{
			{Header: "TIME", Key: "time"},
			{Header: "DEVICE", Key: "device"},
			{Header: "OPCODE", Key: "opcode_hex"},
			{Header: "COMMAND_NAME", Key: "command"},
			{Header: "LATENCY(ms)", Key: "latency_ms", Format: "%.2f"},
			{Header: "RESULT", Key: "result"},
		},
		Rows:  make([]report.Row, 0, len(events)),
		Quiet: true,
	}
	var spans []output.Span
	for _, e := range events {
		row := p.row(e)
		t.Rows = append(t.Rows, row)
		if p.sink != nil {
			spans = append(spans, e.Span(row))
		}
	}
	if len(spans) > 0 {
		p.sink.Export(spans)
	}
	return t
}

func (p *Probe) row(e Event) report.Row {
	ts := strconv.FormatFloat(float64(e.Timestamp)/1e9, 'f', 6, 64)
	if p.clock != nil {
		ts = p.clock.MonotonicToWallClock(e.Timestamp).Format("15:04:05")
	}
	result := "OK"
	if !e.OK() {
		result = "FAILED"
	}
	return report.Row{
		"time":       ts,
		"device":     p.DeviceName(e.Device),
		"scsi_addr":  e.Device.String(),
		"opcode":     e.Opcode,
		"opcode_hex": fmt.Sprintf("0x%02X", e.Opcode),
		"command":    OpcodeName(e.Opcode),
		"latency_ms": float64(e.LatencyNs) / 1e6,
		"result":     result,
		"result_raw": e.Result,
	}
}

// Span returns e as a span covering dispatch to completion.
func (e Event) Span(fields report.Row) output.Span {
	start := uint64(0)
	if e.LatencyNs < e.Timestamp {
		start = e.Timestamp - e.LatencyNs
	}
	sp := output.Span{
		Name:  "scsi.command",
		Kind:  trace.SpanKindClient,
		Start: start,
		End:   e.Timestamp,
		Attributes: []attribute.KeyValue{
			attribute.String("scsi.address", e.Device.String()),
			attribute.Int64("scsi.opcode", int64(e.Opcode)),
			attribute.String("scsi.command", OpcodeName(e.Opcode)),
			attribute.Int64("scsi.result", e.Result),
		},
		Fields: fields,
	}
	if !e.OK() {
		sp.Failed = true
		sp.Status = fmt.Sprintf("scsi result 0x%x", e.Result)
	}
	return sp
}
