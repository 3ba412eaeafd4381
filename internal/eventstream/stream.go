// Package eventstream reads HookRecords from a BPF ring buffer or a JSON lines
// replay file and hands each one to a handler.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mrzor/latstat/internal/bpf"
)

var (
	// ErrClosed is returned by a Source after Close.
	ErrClosed = errors.New("source closed")
	// ErrMalformed wraps a single record that could not be decoded. The
	// stream skips it and keeps reading.
	ErrMalformed = errors.New("malformed record")
)

// Source yields HookRecords one at a time. Next blocks until a record is
// available and returns io.EOF when a finite source is exhausted. Close may be
// called concurrently with Next to unblock it.
type Source interface {
	Next() (bpf.HookRecord, error)
	Close() error
}

// Handler consumes decoded records.
type Handler interface {
	HandleRecord(rec *bpf.HookRecord)
}

// Stats counts what a stream has read.
type Stats struct {
	Records   uint64 `json:"records"`
	Malformed uint64 `json:"malformed"`
}

// Stream reads records from a source and dispatches them to a handler.
type Stream struct {
	src     Source
	handler Handler
	logger  *zap.Logger

	records   atomic.Uint64
	malformed atomic.Uint64
}

// New creates a stream.
func New(src Source, handler Handler, logger *zap.Logger) *Stream {
	return &Stream{
		src:     src,
		handler: handler,
		logger:  logger,
	}
}

// Run reads until the source is exhausted, closed or ctx is cancelled. The
// source is closed when ctx is done so a blocked Next returns. Exhaustion and
// cancellation are not errors.
func (s *Stream) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		if err := s.src.Close(); err != nil {
			s.logger.Debug("closing source", zap.Error(err))
		}
	})
	defer stop()

	for {
		rec, err := s.src.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, ErrClosed):
				return nil
			case errors.Is(err, ErrMalformed):
				s.malformed.Add(1)
				s.logger.Debug("skipping record", zap.Error(err))
				continue
			default:
				return fmt.Errorf("reading records: %w", err)
			}
		}

		s.records.Add(1)
		s.handler.HandleRecord(&rec)
	}
}

// Stats returns the stream counters.
func (s *Stream) Stats() Stats {
	return Stats{
		Records:   s.records.Load(),
		Malformed: s.malformed.Load(),
	}
}
