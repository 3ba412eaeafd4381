package tsastat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/latstat/internal/aggregate"
	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/probe"
)

const (
	running         = 0
	interruptible   = 1
	uninterruptible = 2
)

const ms = 1_000_000

func newTestProbe(t *testing.T) *Probe {
	t.Helper()
	p, err := New(probe.DefaultOptions())
	require.NoError(t, err)
	return p
}

func switchRec(ts uint64, prev uint32, prevState uint64, next uint32) *bpf.HookRecord {
	rec := &bpf.HookRecord{Hook: bpf.HookSchedSwitch, Timestamp: ts}
	rec.Args[0] = uint64(prev)
	rec.Args[1] = prevState
	rec.Args[2] = uint64(next)
	return rec
}

type names map[uint32]string

func (n names) Name(pid uint32) string { return n[pid] }

func TestProbe_RetroactiveAttribution(t *testing.T) {
	p := newTestProbe(t)

	// B preempted while A has no record yet.
	p.Handle(switchRec(40*ms, 200, running, 100))
	// A goes to sleep.
	p.Handle(switchRec(50*ms, 100, interruptible, 0))
	// B is back after 60ms runnable.
	p.Handle(switchRec(100*ms, 0, running, 200))
	// A is back after 100ms asleep; B waits on disk.
	p.Handle(switchRec(150*ms, 200, uninterruptible, 100))
	// B is back after 30ms on disk.
	p.Handle(switchRec(180*ms, 100, running, 200))

	got := p.Collect()
	assert.Equal(t, aggregate.Bucket{Running: 60 * ms, Blocked: 30 * ms}, got[200])
	assert.Equal(t, aggregate.Bucket{Sleeping: 100 * ms}, got[100])
}

func TestProbe_UnknownIncomingActor(t *testing.T) {
	p := newTestProbe(t)

	p.Handle(switchRec(10, 1, running, 2))
	assert.Empty(t, p.Collect())

	st := p.Health().Correlation["start"]
	assert.Equal(t, uint64(1), st.Live, "outgoing actor recorded regardless")
}

func TestProbe_SnapshotSkipsSubMillisecond(t *testing.T) {
	p := newTestProbe(t)
	p.opts.Names = names{300: "kworker"}

	p.Handle(switchRec(0, 300, uninterruptible, 400))
	p.Handle(switchRec(500_000, 400, running, 300))
	p.Handle(switchRec(5*ms, 300, running, 400))

	tbl := p.Snapshot()
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, uint32(400), tbl.Rows[0]["pid"])
	assert.Equal(t, uint64(4), tbl.Rows[0]["run_ms"])

	p.Handle(switchRec(5*ms+2*ms, 400, running, 300)) // 2ms for 300
	tbl = p.Snapshot()
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, uint32(300), tbl.Rows[0]["pid"])
	assert.Equal(t, "kworker", tbl.Rows[0]["comm"])
	assert.Equal(t, uint64(2), tbl.Rows[0]["run_ms"])
}

func TestNew_SeparateCapacities(t *testing.T) {
	opts := probe.DefaultOptions()
	opts.Units = 1
	opts.CorrelationCapacity = 64
	opts.AggregationCapacity = 1
	p, err := New(opts)
	require.NoError(t, err)

	h := p.Health()
	assert.Equal(t, int64(1), h.Aggregation["dist"].CapacityPerUnit)
	assert.GreaterOrEqual(t, h.Correlation["start"].Capacity, uint64(64))

	// Only one actor fits in the accumulators; the second is dropped.
	p.Handle(switchRec(0, 1, interruptible, 2))
	p.Handle(switchRec(0, 2, interruptible, 3))
	p.Handle(switchRec(10*ms, 3, interruptible, 1))
	p.Handle(switchRec(20*ms, 1, interruptible, 2))
	assert.Len(t, p.Collect(), 1)
	assert.Equal(t, uint64(1), p.Health().Aggregation["dist"].Dropped)
}
