package procmeta

import (
	"fmt"
	"sync"

	"github.com/prometheus/procfs"
)

// DefaultMaxEntries bounds the cache; it matches the default table capacity.
const DefaultMaxEntries = 10240

// Manager caches process metadata by PID. Misses are filled from the proc
// filesystem; lookup failures are remembered so a vanished process is not
// re-read on every record.
type Manager struct {
	mu             sync.RWMutex
	metadata       map[uint32]*ProcessMetadata // PID -> process metadata
	metadataErrors map[uint32]error            // PID -> metadata collection errors
	fs             procfs.FS
	maxEntries     int
}

// NewManager creates a manager reading from the proc filesystem mounted at
// procRoot.
func NewManager(procRoot string, maxEntries int) (*Manager, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("opening proc filesystem %s: %w", procRoot, err)
	}
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	return &Manager{
		metadata:       make(map[uint32]*ProcessMetadata),
		metadataErrors: make(map[uint32]error),
		fs:             fs,
		maxEntries:     maxEntries,
	}, nil
}

// Get retrieves cached metadata for a PID (query).
// Returns nil if no metadata exists for this PID.
func (m *Manager) Get(pid uint32) *ProcessMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[pid]
}

// GetError retrieves the metadata collection error for a PID (query).
func (m *Manager) GetError(pid uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadataErrors[pid]
}

// Set stores metadata for a PID (command).
func (m *Manager) Set(pid uint32, metadata *ProcessMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.makeRoom()
	m.metadata[pid] = metadata
	delete(m.metadataErrors, pid)
}

// Delete removes all data for a PID (command).
func (m *Manager) Delete(pid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metadata, pid)
	delete(m.metadataErrors, pid)
}

// Len returns the number of cached entries, failures included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.metadata) + len(m.metadataErrors)
}

// Name returns the task name of pid, reading it from /proc on first use.
// It returns "" when the process cannot be inspected.
func (m *Manager) Name(pid uint32) string {
	m.mu.RLock()
	md, ok := m.metadata[pid]
	_, failed := m.metadataErrors[pid]
	m.mu.RUnlock()
	if ok {
		return md.Comm
	}
	if failed {
		return ""
	}

	md, err := readMetadata(m.fs, pid)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.makeRoom()
	if err != nil {
		m.metadataErrors[pid] = err
		return ""
	}
	m.metadata[pid] = md
	return md.Comm
}

// makeRoom drops the whole cache when it is full. Callers hold mu.
func (m *Manager) makeRoom() {
	if len(m.metadata)+len(m.metadataErrors) < m.maxEntries {
		return
	}
	m.metadata = make(map[uint32]*ProcessMetadata)
	m.metadataErrors = make(map[uint32]error)
}
