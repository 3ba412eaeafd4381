package bpfloader

import (
	"errors"
	"io"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrzor/latstat/internal/bpf"
)

type fakeLink struct {
	closed *[]string
	name   string
}

func (f fakeLink) Close() error {
	*f.closed = append(*f.closed, f.name)
	return nil
}

func newFakeLoader(t *testing.T, missing map[string]bool, closed *[]string) *Loader {
	t.Helper()
	l := newLoader("/sys/fs/bpf/test", zaptest.NewLogger(t))
	l.loadProgram = func(path string) (*ebpf.Program, error) {
		for name := range missing {
			if path == ProgramPath("/sys/fs/bpf/test", name) {
				return nil, errors.New("no such file or directory")
			}
		}
		return nil, nil
	}
	l.attach = func(hp bpf.HookPoint, _ *ebpf.Program) (io.Closer, error) {
		return fakeLink{closed: closed, name: hp.Name}, nil
	}
	return l
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/sys/fs/bpf/latstat/progs/sched_switch", ProgramPath(DefaultPinDir, "sched_switch"))
	assert.Equal(t, "/sys/fs/bpf/latstat/events", EventsPath(DefaultPinDir))
}

func TestLoader_AttachSkipsMissing(t *testing.T) {
	var closed []string
	l := newFakeLoader(t, map[string]bool{"vfs_fsync": true}, &closed)

	points := bpf.Points([]bpf.Hook{bpf.HookVfsWrite, bpf.HookVfsFsync, bpf.HookVfsWriteReturn})
	require.NoError(t, l.Attach(points))

	names := make([]string, 0, len(l.Attached()))
	for _, hp := range l.Attached() {
		names = append(names, hp.Name)
	}
	assert.Equal(t, []string{"vfs_write", "vfs_write_return"}, names)

	require.NoError(t, l.Close())
	assert.Equal(t, []string{"vfs_write_return", "vfs_write"}, closed, "links closed in reverse order")
	assert.Empty(t, l.Attached())
}

func TestLoader_NothingAttached(t *testing.T) {
	var closed []string
	l := newFakeLoader(t, map[string]bool{"sched_switch": true}, &closed)

	err := l.Attach(bpf.Points([]bpf.Hook{bpf.HookSchedSwitch}))
	require.ErrorIs(t, err, ErrNothingAttached)
	assert.Contains(t, err.Error(), "sched_switch")

	assert.ErrorIs(t, l.Attach(nil), ErrNothingAttached)
}

func TestLoader_OpenRingBufferWithoutMap(t *testing.T) {
	l := newLoader(t.TempDir(), zaptest.NewLogger(t))
	_, err := l.OpenRingBuffer()
	assert.Error(t, err)
}
