package writestat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mrzor/latstat/internal/aggregate"
	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/probe"
)

func newTestProbe(t *testing.T) *Probe {
	t.Helper()
	p, err := New(probe.DefaultOptions())
	require.NoError(t, err)
	return p
}

func record(hook bpf.Hook, tid uint32, ts uint64, ret int64, args ...uint64) *bpf.HookRecord {
	rec := &bpf.HookRecord{Hook: hook, Timestamp: ts, Pid: 1000, Tid: tid, Ret: ret}
	copy(rec.Args[:], args)
	rec.SetComm("postgres")
	return rec
}

func TestProbe_AsyncAndSyncWrites(t *testing.T) {
	p := newTestProbe(t)

	p.Handle(record(bpf.HookVfsWrite, 1, 0, 0, 4096, unix.O_WRONLY))
	p.Handle(record(bpf.HookVfsWriteReturn, 1, 10_000, 4096))

	p.Handle(record(bpf.HookVfsWrite, 2, 0, 0, 8192, unix.O_WRONLY|unix.O_DSYNC))
	p.Handle(record(bpf.HookVfsWriteReturn, 2, 3_000_000, 8192))

	p.Handle(record(bpf.HookVfsFsync, 1, 5_000_000, 0))
	p.Handle(record(bpf.HookVfsFsyncReturn, 1, 6_000_000, 0))

	got := p.Collect()
	require.Len(t, got, 2)
	assert.Equal(t, aggregate.Bucket{
		Count: 1, Bytes: 4096, TotalDuration: 10_000, MaxDuration: 10_000,
	}, got[Key{PID: 1000, Comm: "postgres"}])
	assert.Equal(t, aggregate.Bucket{
		Count: 2, Bytes: 8192, TotalDuration: 4_000_000, MaxDuration: 3_000_000,
	}, got[Key{PID: 1000, Comm: "postgres", Sync: true}])

	assert.Empty(t, p.Collect(), "collect resets")
}

func TestProbe_ShortWriteCountsReturnedBytes(t *testing.T) {
	p := newTestProbe(t)

	p.Handle(record(bpf.HookVfsWrite, 1, 0, 0, 65536, 0))
	p.Handle(record(bpf.HookVfsWriteReturn, 1, 100, 512))

	assert.Equal(t, uint64(512), p.Collect()[Key{PID: 1000, Comm: "postgres"}].Bytes)
}

func TestProbe_FailedCallsDiscarded(t *testing.T) {
	p := newTestProbe(t)

	p.Handle(record(bpf.HookVfsWrite, 1, 0, 0, 100, 0))
	p.Handle(record(bpf.HookVfsWriteReturn, 1, 100, -int64(unix.EBADF)))
	p.Handle(record(bpf.HookFdatasync, 2, 0, 0))
	p.Handle(record(bpf.HookFdatasyncReturn, 2, 100, -int64(unix.EIO)))

	assert.Empty(t, p.Collect())
	st := p.Health().Correlation["in_flight"]
	assert.Equal(t, uint64(2), st.Discarded)
	assert.Equal(t, uint64(0), st.Live)

	// A later return on the same thread finds nothing to complete.
	p.Handle(record(bpf.HookVfsWriteReturn, 1, 200, 100))
	assert.Empty(t, p.Collect())
}

func TestProbe_ThreadsAreIndependent(t *testing.T) {
	p := newTestProbe(t)

	p.Handle(record(bpf.HookVfsWrite, 1, 0, 0, 10, 0))
	p.Handle(record(bpf.HookVfsWrite, 2, 50, 0, 10, unix.O_SYNC))
	p.Handle(record(bpf.HookVfsWriteReturn, 1, 100, 10))
	p.Handle(record(bpf.HookVfsWriteReturn, 2, 250, 10))

	got := p.Collect()
	assert.Equal(t, uint64(100), got[Key{PID: 1000, Comm: "postgres"}].MaxDuration)
	assert.Equal(t, uint64(200), got[Key{PID: 1000, Comm: "postgres", Sync: true}].MaxDuration)
}

func TestProbe_SnapshotRates(t *testing.T) {
	p := newTestProbe(t)
	now := time.Unix(1000, 0)
	p.window = probe.NewWindowAt(func() time.Time { return now })

	for tid := uint32(1); tid <= 4; tid++ {
		p.Handle(record(bpf.HookVfsWrite, tid, 0, 0, 1<<20, 0))
		p.Handle(record(bpf.HookVfsWriteReturn, tid, uint64(tid)*1_000_000, 1<<20))
	}
	now = now.Add(2 * time.Second)

	tbl := p.Snapshot()
	require.Len(t, tbl.Rows, 1)
	row := tbl.Rows[0]
	assert.Equal(t, "ASYNC", row["type"])
	assert.InDelta(t, 2.0, row["iops"], 1e-9)
	assert.InDelta(t, 2.0, row["mb_s"], 1e-9)
	assert.InDelta(t, 2.5, row["avg_ms"], 1e-9)
	assert.InDelta(t, 4.0, row["max_ms"], 1e-9)
}

func TestProbe_Hooks(t *testing.T) {
	p := newTestProbe(t)
	assert.Len(t, bpf.Points(p.Hooks()), 6)
}
