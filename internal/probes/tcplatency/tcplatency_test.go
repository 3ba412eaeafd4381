package tcplatency

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/output"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/report"
)

const sock = 0xffff888000001000

func newTestProbe(t *testing.T) *Probe {
	t.Helper()
	p, err := New(probe.DefaultOptions())
	require.NoError(t, err)
	return p
}

func record(hook bpf.Hook, ident, ts uint64, args ...uint64) *bpf.HookRecord {
	rec := &bpf.HookRecord{Hook: hook, Ident: ident, Timestamp: ts, Pid: 300}
	copy(rec.Args[:], args)
	rec.SetComm("redis")
	return rec
}

type captureSink struct{ spans []output.Span }

func (c *captureSink) Export(spans []output.Span) { c.spans = append(c.spans, spans...) }

func TestProbe_RXThresholdGated(t *testing.T) {
	p := newTestProbe(t)

	p.Handle(record(bpf.HookTCPDataQueue, sock, 0))
	p.Handle(record(bpf.HookTCPRecvmsg, sock, 2_000_000, 85, 100))

	events := p.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, Event{
		Timestamp:    2_000_000,
		PID:          300,
		Comm:         "redis",
		DelayUs:      2000,
		UsagePercent: 85,
	}, events[0])

	p.Handle(record(bpf.HookTCPDataQueue, sock, 0))
	p.Handle(record(bpf.HookTCPRecvmsg, sock, 2_000_000, 50, 100))
	assert.Empty(t, p.Drain(), "usage below floor")
}

func TestProbe_RXEdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		end    uint64
		filled uint64
		max    uint64
	}{
		{"delay at floor", 1_000_000, 90, 100},
		{"zero rcvbuf", 5_000_000, 90, 0},
		{"usage at floor", 5_000_000, 80, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProbe(t)
			p.Handle(record(bpf.HookTCPDataQueue, sock, 0))
			p.Handle(record(bpf.HookTCPRecvmsg, sock, tt.end, tt.filled, tt.max))
			assert.Empty(t, p.Drain())
			assert.Equal(t, uint64(1), p.Health().Correlation["rx"].Ended, "start consumed either way")
		})
	}
}

func TestProbe_RecvWithoutQueue(t *testing.T) {
	p := newTestProbe(t)
	p.Handle(record(bpf.HookTCPRecvmsg, sock, 9_000_000, 99, 100))
	assert.Empty(t, p.Drain())
}

func TestProbe_TX(t *testing.T) {
	p := newTestProbe(t)
	const skb = 0xffff888000002000

	p.Handle(record(bpf.HookTCPTransmitSkb, skb, 1_000))
	p.Handle(record(bpf.HookDevQueueXmit, skb, 3_001_000))
	p.Handle(record(bpf.HookTCPTransmitSkb, skb+1, 1_000))
	p.Handle(record(bpf.HookDevQueueXmit, skb+1, 2_000))

	events := p.Drain()
	require.Len(t, events, 1)
	assert.True(t, events[0].TX)
	assert.Equal(t, uint64(3000), events[0].DelayUs)
	assert.Equal(t, uint64(0), events[0].UsagePercent)
}

func TestProbe_SnapshotExportsSpans(t *testing.T) {
	p := newTestProbe(t)
	sink := &captureSink{}
	p.SetSink(sink)

	p.Handle(record(bpf.HookTCPTransmitSkb, 1, 10_000_000))
	p.Handle(record(bpf.HookDevQueueXmit, 1, 15_000_000))

	tbl := p.Snapshot()
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "TX", tbl.Rows[0]["dir"])
	assert.Equal(t, uint64(0), tbl.Rows[0]["usage_percent"])
	assert.Equal(t, uint64(5000), tbl.Rows[0]["delay_us"])

	require.Len(t, sink.spans, 1)
	assert.Equal(t, "tcp.tx_latency", sink.spans[0].Name)
	assert.Equal(t, uint64(10_000_000), sink.spans[0].Start)
	assert.Equal(t, uint64(15_000_000), sink.spans[0].End)

	assert.Empty(t, p.Snapshot().Rows, "snapshot drains")
}

func TestProbe_Hooks(t *testing.T) {
	p := newTestProbe(t)
	assert.Equal(t, Name, p.Name())
	assert.Len(t, bpf.Points(p.Hooks()), 4)
}

func TestEvent_UsageFilterOnTransmitRows(t *testing.T) {
	f, err := report.NewFilter("usage_percent > 90")
	require.NoError(t, err)

	tx := Event{TX: true, DelayUs: 5000}.Row()
	ok, err := f.Match(tx)
	require.NoError(t, err)
	assert.False(t, ok)

	rx := Event{DelayUs: 5000, UsagePercent: 95}.Row()
	ok, err = f.Match(rx)
	require.NoError(t, err)
	assert.True(t, ok)

	var buf bytes.Buffer
	_, err = report.Render(&buf, report.Table{
		Columns: []report.Column{{Header: "BUFFER FULL %", Key: "usage_percent", Text: usageText}},
		Rows:    []report.Row{tx, rx},
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "N/A")
	assert.Contains(t, buf.String(), "95")
}
