package tcpttfb

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/output"
	"github.com/mrzor/latstat/internal/probe"
)

const sock = 0xffff888000003000

// 10.0.0.5 as skc_daddr reads on a little-endian host.
const daddr10005 = 0x0500000a

func newTestProbe(t *testing.T) *Probe {
	t.Helper()
	p, err := New(probe.DefaultOptions())
	require.NoError(t, err)
	return p
}

func record(hook bpf.Hook, ts uint64, pid uint32, comm string, args ...uint64) *bpf.HookRecord {
	rec := &bpf.HookRecord{Hook: hook, Ident: sock, Timestamp: ts, Pid: pid}
	copy(rec.Args[:], args)
	rec.SetComm(comm)
	return rec
}

type captureSink struct{ spans []output.Span }

func (c *captureSink) Export(spans []output.Span) { c.spans = append(c.spans, spans...) }

func TestDecodeAddr(t *testing.T) {
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), DecodeAddr(daddr10005))
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), DecodeAddr(0x0100007f))
}

func TestProbe_FullHandshake(t *testing.T) {
	p := newTestProbe(t)

	p.Handle(record(bpf.HookTCPV4Connect, 1_000_000, 55, "curl"))
	p.Handle(record(bpf.HookTCPSetState, 1_250_000, 0, "swapper/0", tcpEstablished, daddr10005, 443))
	p.Handle(record(bpf.HookTCPRcvEstablished, 4_250_000, 0, "swapper/0"))

	events := p.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, Event{
		Connected:        1_000_000,
		Timestamp:        4_250_000,
		PID:              55,
		Comm:             "curl",
		Daddr:            netip.MustParseAddr("10.0.0.5"),
		Dport:            443,
		ConnectLatencyUs: 250,
		TTFBUs:           3000,
	}, events[0], "identity comes from the connecting task, not the softirq context")
}

func TestProbe_NonEstablishedStateIgnored(t *testing.T) {
	p := newTestProbe(t)

	p.Handle(record(bpf.HookTCPV4Connect, 100, 55, "curl"))
	p.Handle(record(bpf.HookTCPSetState, 200, 55, "curl", 2 /* SYN_SENT */))
	p.Handle(record(bpf.HookTCPRcvEstablished, 300, 55, "curl"))
	assert.Empty(t, p.Drain())

	pending, active := p.flows.Stats()
	assert.Equal(t, uint64(1), pending.Live, "still waiting for ESTABLISHED")
	assert.Equal(t, uint64(0), active.Live)
}

func TestProbe_EstablishWithoutConnect(t *testing.T) {
	p := newTestProbe(t)

	// Passive open: the socket was never seen in tcp_v4_connect.
	p.Handle(record(bpf.HookTCPSetState, 200, 1, "sshd", tcpEstablished, daddr10005, 22))
	p.Handle(record(bpf.HookTCPRcvEstablished, 300, 1, "sshd"))

	assert.Empty(t, p.Drain())
	_, active := p.flows.Stats()
	assert.Equal(t, uint64(0), active.Inserted)
}

func TestProbe_SnapshotSpan(t *testing.T) {
	p := newTestProbe(t)
	sink := &captureSink{}
	p.SetSink(sink)

	p.Handle(record(bpf.HookTCPV4Connect, 1_000, 55, "curl"))
	p.Handle(record(bpf.HookTCPSetState, 2_000, 55, "curl", tcpEstablished, daddr10005, 8080))
	p.Handle(record(bpf.HookTCPRcvEstablished, 9_000, 55, "curl"))

	tbl := p.Snapshot()
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "10.0.0.5", tbl.Rows[0]["daddr"])
	assert.Equal(t, uint16(8080), tbl.Rows[0]["dport"])

	require.Len(t, sink.spans, 1)
	assert.Equal(t, "tcp.connect", sink.spans[0].Name)
	assert.Equal(t, uint64(1_000), sink.spans[0].Start)
	assert.Equal(t, uint64(9_000), sink.spans[0].End)
}
