package procmeta

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// ProcessMetadata holds what is known about an actor beyond its pid.
type ProcessMetadata struct {
	Comm string // short task name as in /proc/<pid>/comm
}

// readMetadata loads metadata for pid from the proc filesystem.
func readMetadata(fs procfs.FS, pid uint32) (*ProcessMetadata, error) {
	p, err := fs.Proc(int(pid))
	if err != nil {
		return nil, fmt.Errorf("opening process %d: %w", pid, err)
	}
	comm, err := p.Comm()
	if err != nil {
		return nil, fmt.Errorf("reading comm of process %d: %w", pid, err)
	}
	return &ProcessMetadata{Comm: comm}, nil
}
