package eventstream

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf/ringbuf"

	"github.com/mrzor/latstat/internal/bpf"
)

// RingBufferSource decodes records from a BPF ring buffer.
type RingBufferSource struct {
	reader *ringbuf.Reader
	record ringbuf.Record
}

// NewRingBufferSource wraps an open reader. Closing the source closes it.
func NewRingBufferSource(reader *ringbuf.Reader) *RingBufferSource {
	return &RingBufferSource{reader: reader}
}

// Next implements Source.
func (s *RingBufferSource) Next() (bpf.HookRecord, error) {
	if err := s.reader.ReadInto(&s.record); err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			return bpf.HookRecord{}, ErrClosed
		}
		return bpf.HookRecord{}, fmt.Errorf("reading from ring buffer: %w", err)
	}

	rec, err := bpf.Decode(s.record.RawSample)
	if err != nil {
		return bpf.HookRecord{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return rec, nil
}

// Close implements Source.
func (s *RingBufferSource) Close() error {
	return s.reader.Close()
}
