// Package tcplatency reports TCP stack latency outliers.
//
// RX latency runs from a segment being queued on a socket (tcp_data_queue) to
// the application reading it (tcp_recvmsg). It is emitted only when it exceeds
// the delay floor while the receive buffer is filled above the usage floor,
// which points at a slow reader rather than a slow network.
//
// TX latency runs from __tcp_transmit_skb to __dev_queue_xmit for the same
// skb and is emitted whenever it exceeds the delay floor.
package tcplatency

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/correlate"
	"github.com/mrzor/latstat/internal/emit"
	"github.com/mrzor/latstat/internal/output"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/report"
)

// Name is the probe name used on the command line.
const Name = "tcplatency"

// Event is one latency outlier.
type Event struct {
	Timestamp    uint64 // monotonic ns at the end hook
	PID          uint32
	Comm         string
	DelayUs      uint64
	UsagePercent uint64 // zero for TX
	TX           bool
}

// Probe measures RX queue and TX stack latency.
type Probe struct {
	opts   probe.Options
	rx     *probe.Duration[uint64, struct{}]
	tx     *probe.Duration[uint64, struct{}]
	events *emit.Channel[Event]
	sink   output.Sink
}

// New creates the probe.
func New(opts probe.Options) (*Probe, error) {
	rx, err := probe.NewDuration[uint64, struct{}](opts.CorrelationCapacity, correlate.HashUint64)
	if err != nil {
		return nil, fmt.Errorf("rx: %w", err)
	}
	tx, err := probe.NewDuration[uint64, struct{}](opts.CorrelationCapacity, correlate.HashUint64)
	if err != nil {
		return nil, fmt.Errorf("tx: %w", err)
	}
	events, err := emit.NewChannel[Event](opts.ChannelCapacity)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return &Probe{opts: opts, rx: rx, tx: tx, events: events}, nil
}

// Name implements probe.Probe.
func (p *Probe) Name() string { return Name }

// Hooks implements probe.Probe.
func (p *Probe) Hooks() []bpf.Hook {
	return []bpf.Hook{
		bpf.HookTCPDataQueue,
		bpf.HookTCPRecvmsg,
		bpf.HookTCPTransmitSkb,
		bpf.HookDevQueueXmit,
	}
}

// SetSink makes every drained event also go to s.
func (p *Probe) SetSink(s output.Sink) { p.sink = s }

// Handle implements probe.Probe.
func (p *Probe) Handle(rec *bpf.HookRecord) {
	switch rec.Hook {
	case bpf.HookTCPDataQueue:
		p.rx.Start(rec.Ident, rec.Timestamp, struct{}{})

	case bpf.HookTCPRecvmsg:
		c, ok := p.rx.End(rec.Ident, rec.Timestamp, false)
		if !ok {
			return
		}
		usage, ok := probe.UsagePercent(rec.Args[0], rec.Args[1])
		if !ok {
			return
		}
		gate := p.opts.Threshold
		if gate.UsageExceeded(usage) && gate.DelayExceeded(c.Elapsed()) {
			p.emit(rec, c.Elapsed(), usage, false)
		}

	case bpf.HookTCPTransmitSkb:
		p.tx.Start(rec.Ident, rec.Timestamp, struct{}{})

	case bpf.HookDevQueueXmit:
		c, ok := p.tx.End(rec.Ident, rec.Timestamp, false)
		if ok && p.opts.Threshold.DelayExceeded(c.Elapsed()) {
			p.emit(rec, c.Elapsed(), 0, true)
		}
	}
}

func (p *Probe) emit(rec *bpf.HookRecord, elapsed, usage uint64, tx bool) {
	p.events.Push(Event{
		Timestamp:    rec.Timestamp,
		PID:          rec.Pid,
		Comm:         p.opts.Comm(rec),
		DelayUs:      elapsed / 1000,
		UsagePercent: usage,
		TX:           tx,
	})
}

// Drain returns the events emitted since the last call.
func (p *Probe) Drain() []Event {
	return p.events.Drain()
}

// Health implements probe.Probe.
func (p *Probe) Health() probe.Health {
	h := probe.NewHealth()
	h.Correlation["rx"] = p.rx.Stats()
	h.Correlation["tx"] = p.tx.Stats()
	h.Channel["events"] = p.events.Stats()
	return h
}

// Snapshot implements report.Source.
func (p *Probe) Snapshot() report.Table {
	events := p.Drain()
	t := report.Table{
		Title: Name,
		Columns: []report.Column{
			{Header: "RX/TX", Key: "dir"},
			{Header: "PID", Key: "pid"},
			{Header: "COMM", Key: "comm"},
			{Header: "DELAY(us)", Key: "delay_us"},
			{Header: "BUFFER FULL %", Key: "usage_percent", Text: usageText},
		},
		Rows:  make([]report.Row, 0, len(events)),
		Quiet: true,
	}
	var spans []output.Span
	for _, e := range events {
		row := e.Row()
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

// Row returns the report fields of e.
func (e Event) Row() report.Row {
	row := report.Row{
		"dir":      "RX",
		"pid":      e.PID,
		"comm":     e.Comm,
		"delay_us": e.DelayUs,
	}
	if e.TX {
		row["dir"] = "TX"
	}
	// TX rows carry 0 so numeric filters stay well typed.
	row["usage_percent"] = e.UsagePercent
	return row
}

// usageText shows N/A for transmit rows, which have no receive buffer.
func usageText(r report.Row) string {
	if r["dir"] == "TX" {
		return "N/A"
	}
	return fmt.Sprint(r["usage_percent"])
}

// Span returns e as an exportable span ending at the end hook.
func (e Event) Span(fields report.Row) output.Span {
	name := "tcp.rx_latency"
	if e.TX {
		name = "tcp.tx_latency"
	}
	start := uint64(0)
	if d := e.DelayUs * 1000; d < e.Timestamp {
		start = e.Timestamp - d
	}
	attrs := []attribute.KeyValue{
		attribute.Int64("process.pid", int64(e.PID)),
		attribute.String("process.command", e.Comm),
		attribute.Int64("latstat.delay_us", int64(e.DelayUs)), //nolint:gosec // delay fits in int64
	}
	if !e.TX {
		attrs = append(attrs, attribute.Int64("latstat.rcvbuf_usage_percent", int64(e.UsagePercent))) //nolint:gosec // percent
	}
	return output.Span{
		Name:       name,
		Kind:       trace.SpanKindInternal,
		Start:      start,
		End:        e.Timestamp,
		Attributes: attrs,
		Fields:     fields,
	}
}
