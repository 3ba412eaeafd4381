package procmeta

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProc(t *testing.T, comms map[int]string) string {
	t.Helper()
	root := t.TempDir()
	for pid, comm := range comms {
		dir := filepath.Join(root, strconv.Itoa(pid))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0o644))
	}
	return root
}

func newTestManager(t *testing.T, comms map[int]string, max int) *Manager {
	t.Helper()
	m, err := NewManager(fakeProc(t, comms), max)
	require.NoError(t, err)
	return m
}

func TestManager_NameFromProc(t *testing.T) {
	m := newTestManager(t, map[int]string{42: "nginx"}, 0)

	assert.Equal(t, "nginx", m.Name(42))
	require.NotNil(t, m.Get(42))
	assert.Equal(t, "nginx", m.Get(42).Comm)
}

func TestManager_NameMissingProcess(t *testing.T) {
	m := newTestManager(t, nil, 0)

	assert.Equal(t, "", m.Name(7))
	assert.Error(t, m.GetError(7))
	assert.Nil(t, m.Get(7))
	assert.Equal(t, "", m.Name(7), "failure is cached")
}

func TestManager_SetOverridesError(t *testing.T) {
	m := newTestManager(t, nil, 0)

	m.Name(9)
	require.Error(t, m.GetError(9))

	m.Set(9, &ProcessMetadata{Comm: "worker"})
	assert.NoError(t, m.GetError(9))
	assert.Equal(t, "worker", m.Name(9))
}

func TestManager_Delete(t *testing.T) {
	m := newTestManager(t, map[int]string{1: "init"}, 0)

	m.Name(1)
	m.Delete(1)
	assert.Nil(t, m.Get(1))
	assert.Equal(t, 0, m.Len())
}

func TestManager_Bounded(t *testing.T) {
	m := newTestManager(t, nil, 3)

	for pid := uint32(1); pid <= 3; pid++ {
		m.Set(pid, &ProcessMetadata{Comm: "p"})
	}
	assert.Equal(t, 3, m.Len())

	m.Set(4, &ProcessMetadata{Comm: "q"})
	assert.Equal(t, 1, m.Len(), "full cache is cleared before insert")
	assert.Equal(t, "q", m.Get(4).Comm)
}

func TestManager_Concurrent(t *testing.T) {
	m := newTestManager(t, map[int]string{10: "a", 20: "b"}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "a", m.Name(10))
				assert.Equal(t, "b", m.Name(20))
			}
		}()
	}
	wg.Wait()
}

func TestNewManager_BadRoot(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}
