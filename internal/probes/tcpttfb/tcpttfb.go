// Package tcpttfb measures, for outbound IPv4 connections, the handshake
// latency (tcp_v4_connect until the socket becomes ESTABLISHED) and the time
// to first byte (ESTABLISHED until tcp_rcv_established first fires).
// Passive connections never pass through tcp_v4_connect and are ignored.
package tcpttfb

import (
	"encoding/binary"
	"fmt"
	"net/netip"

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
const Name = "tcpttfb"

// tcpEstablished is TCP_ESTABLISHED from include/net/tcp_states.h.
const tcpEstablished = 1

type conn struct {
	pid   uint32
	comm  string
	daddr netip.Addr
	dport uint16
}

// Event is one connection that received its first byte.
type Event struct {
	Connected        uint64 // monotonic ns at tcp_v4_connect
	Timestamp        uint64 // monotonic ns at first byte
	PID              uint32
	Comm             string
	Daddr            netip.Addr
	Dport            uint16
	ConnectLatencyUs uint64
	TTFBUs           uint64
}

// Probe tracks connections through connect, establish and first byte.
type Probe struct {
	opts   probe.Options
	flows  *probe.Stages[uint64, conn]
	events *emit.Channel[Event]
	sink   output.Sink
}

// New creates the probe.
func New(opts probe.Options) (*Probe, error) {
	flows, err := probe.NewStages[uint64, conn](opts.CorrelationCapacity, correlate.HashUint64)
	if err != nil {
		return nil, fmt.Errorf("connections: %w", err)
	}
	events, err := emit.NewChannel[Event](opts.ChannelCapacity)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return &Probe{opts: opts, flows: flows, events: events}, nil
}

// Name implements probe.Probe.
func (p *Probe) Name() string { return Name }

// Hooks implements probe.Probe.
func (p *Probe) Hooks() []bpf.Hook {
	return []bpf.Hook{bpf.HookTCPV4Connect, bpf.HookTCPSetState, bpf.HookTCPRcvEstablished}
}

// SetSink makes every drained event also go to s.
func (p *Probe) SetSink(s output.Sink) { p.sink = s }

// Handle implements probe.Probe.
func (p *Probe) Handle(rec *bpf.HookRecord) {
	switch rec.Hook {
	case bpf.HookTCPV4Connect:
		p.flows.Initiate(rec.Ident, rec.Timestamp, conn{pid: rec.Pid, comm: p.opts.Comm(rec)})

	case bpf.HookTCPSetState:
		if rec.Args[0] != tcpEstablished {
			return
		}
		p.flows.Establish(rec.Ident, rec.Timestamp, func(c *conn) {
			c.daddr = DecodeAddr(rec.Args[1])
			c.dport = uint16(rec.Args[2]) //nolint:gosec // port is 16 bits on the wire
		})

	case bpf.HookTCPRcvEstablished:
		h, ok := p.flows.Complete(rec.Ident, rec.Timestamp)
		if !ok {
			return
		}
		p.events.Push(Event{
			Connected:        h.Initiated,
			Timestamp:        h.Completed,
			PID:              h.Record.pid,
			Comm:             h.Record.comm,
			Daddr:            h.Record.daddr,
			Dport:            h.Record.dport,
			ConnectLatencyUs: h.FirstLatency() / 1000,
			TTFBUs:           h.SecondLatency() / 1000,
		})
	}
}

// DecodeAddr converts skc_daddr, loaded as a little-endian word from network
// order bytes, into an address.
func DecodeAddr(raw uint64) netip.Addr {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(raw)) //nolint:gosec // IPv4 address is 32 bits
	return netip.AddrFrom4(b)
}

// Drain returns the events emitted since the last call.
func (p *Probe) Drain() []Event {
	return p.events.Drain()
}

// Health implements probe.Probe.
func (p *Probe) Health() probe.Health {
	h := probe.NewHealth()
	h.Correlation["connect_start"], h.Correlation["active_conns"] = p.flows.Stats()
	h.Channel["events"] = p.events.Stats()
	return h
}

// Snapshot implements report.Source.
func (p *Probe) Snapshot() report.Table {
	events := p.Drain()
	t := report.Table{
		Title: Name,
		Columns: []report.Column{
			{Header: "PID", Key: "pid"},
			{Header: "COMM", Key: "comm"},
			{Header: "DEST_IP", Key: "daddr"},
			{Header: "DEST_PORT", Key: "dport"},
			{Header: "HANDSHAKE(us)", Key: "connect_latency_us"},
			{Header: "TTFB(us)", Key: "ttfb_us"},
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
	return report.Row{
		"pid":                e.PID,
		"comm":               e.Comm,
		"daddr":              e.Daddr.String(),
		"dport":              e.Dport,
		"connect_latency_us": e.ConnectLatencyUs,
		"ttfb_us":            e.TTFBUs,
	}
}

// Span returns e as a client span covering connect to first byte.
func (e Event) Span(fields report.Row) output.Span {
	return output.Span{
		Name:  "tcp.connect",
		Kind:  trace.SpanKindClient,
		Start: e.Connected,
		End:   e.Timestamp,
		Attributes: []attribute.KeyValue{
			attribute.Int64("process.pid", int64(e.PID)),
			attribute.String("process.command", e.Comm),
			attribute.String("net.peer.ip", e.Daddr.String()),
			attribute.Int("net.peer.port", int(e.Dport)),
			attribute.String("net.transport", "tcp"),
			attribute.Int64("latstat.handshake_us", int64(e.ConnectLatencyUs)), //nolint:gosec // fits
			attribute.Int64("latstat.ttfb_us", int64(e.TTFBUs)),                //nolint:gosec // fits
		},
		Fields: fields,
	}
}
