package numafaults

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/probe"
)

func newTestProbe(t *testing.T) *Probe {
	t.Helper()
	opts := probe.DefaultOptions()
	opts.Units = 2
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func fault(pid, cpu uint32, comm string, memNode, cpuNode uint64) *bpf.HookRecord {
	rec := &bpf.HookRecord{Hook: bpf.HookTaskNumaFault, Pid: pid, CPU: cpu}
	rec.Args[0] = memNode
	rec.Args[1] = cpuNode
	rec.SetComm(comm)
	return rec
}

func TestProbe_LocalAndRemote(t *testing.T) {
	p := newTestProbe(t)

	for i := 0; i < 3; i++ {
		p.Handle(fault(10, uint32(i), "java", 0, 0))
	}
	p.Handle(fault(10, 1, "java", 1, 0))
	p.Handle(fault(20, 0, "mysqld", 1, 0))

	got := p.Collect()
	require.Len(t, got, 2)
	assert.Equal(t, Faults{PID: 10, Comm: "java", Local: 3, Remote: 1}, got[0])
	assert.InDelta(t, 75.0, got[0].Locality(), 1e-9)
	assert.Equal(t, Faults{PID: 20, Comm: "mysqld", Remote: 1}, got[1])
	assert.InDelta(t, 0.0, got[1].Locality(), 1e-9)

	assert.Empty(t, p.Collect(), "collect resets")
}

func TestFaults_LocalityWithoutFaults(t *testing.T) {
	assert.InDelta(t, 0.0, Faults{}.Locality(), 1e-9)
}

func TestProbe_Snapshot(t *testing.T) {
	p := newTestProbe(t)
	p.Handle(fault(7, 0, "redis", 2, 2))

	tbl := p.Snapshot()
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, uint64(1), tbl.Rows[0]["local"])
	assert.InDelta(t, 100.0, tbl.Rows[0]["locality"], 1e-9)
}

func TestProbe_IgnoresOtherHooks(t *testing.T) {
	p := newTestProbe(t)
	p.Handle(&bpf.HookRecord{Hook: bpf.HookSchedSwitch, Pid: 1})
	assert.Empty(t, p.Collect())
	assert.Equal(t, []bpf.Hook{bpf.HookTaskNumaFault}, p.Hooks())
}
