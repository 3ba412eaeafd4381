package eventstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/mrzor/latstat/internal/bpf"
)

// maxLine bounds a single replay line.
const maxLine = 64 * 1024

// ReplayRecord is the JSON form of a HookRecord, one per line. The hook is
// given by catalogue name.
type ReplayRecord struct {
	Timestamp uint64   `json:"ts"`
	Hook      string   `json:"hook"`
	Ident     uint64   `json:"ident,omitempty"`
	Args      []uint64 `json:"args,omitempty"`
	Ret       int64    `json:"ret,omitempty"`
	Pid       uint32   `json:"pid,omitempty"`
	Tid       uint32   `json:"tid,omitempty"`
	CPU       uint32   `json:"cpu,omitempty"`
	Comm      string   `json:"comm,omitempty"`
}

// HookRecord converts r, resolving the hook name.
func (r ReplayRecord) HookRecord() (bpf.HookRecord, error) {
	hp, err := bpf.LookupName(r.Hook)
	if err != nil {
		return bpf.HookRecord{}, err
	}
	if len(r.Args) > 4 {
		return bpf.HookRecord{}, fmt.Errorf("%d args, at most 4", len(r.Args))
	}
	rec := bpf.HookRecord{
		Timestamp: r.Timestamp,
		Ident:     r.Ident,
		Ret:       r.Ret,
		Pid:       r.Pid,
		Tid:       r.Tid,
		CPU:       r.CPU,
		Hook:      hp.Hook,
	}
	copy(rec.Args[:], r.Args)
	rec.SetComm(r.Comm)
	return rec, nil
}

// ReplaySource reads JSON lines records from a file or any reader.
type ReplaySource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	closed  atomic.Bool
}

// OpenReplay opens a replay file.
func OpenReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(path) //nolint:gosec // path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("opening replay file: %w", err)
	}
	src := NewReplaySource(f)
	src.closer = f
	return src, nil
}

// NewReplaySource reads records from r.
func NewReplaySource(r io.Reader) *ReplaySource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	return &ReplaySource{scanner: sc}
}

// Next implements Source. Blank lines are skipped.
func (s *ReplaySource) Next() (bpf.HookRecord, error) {
	for {
		if s.closed.Load() {
			return bpf.HookRecord{}, ErrClosed
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if s.closed.Load() {
					return bpf.HookRecord{}, ErrClosed
				}
				return bpf.HookRecord{}, fmt.Errorf("reading replay line %d: %w", s.line+1, err)
			}
			return bpf.HookRecord{}, io.EOF
		}
		s.line++

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var r ReplayRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return bpf.HookRecord{}, fmt.Errorf("%w: line %d: %w", ErrMalformed, s.line, err)
		}
		rec, err := r.HookRecord()
		if err != nil {
			return bpf.HookRecord{}, fmt.Errorf("%w: line %d: %w", ErrMalformed, s.line, err)
		}
		return rec, nil
	}
}

// Close implements Source.
func (s *ReplaySource) Close() error {
	if s.closed.Swap(true) || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
