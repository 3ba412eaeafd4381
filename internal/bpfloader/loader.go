// Package bpfloader attaches pinned hook programs to their kernel hook points
// and opens the ring buffer they write HookRecords into.
//
// Programs are expected at <pin-dir>/progs/<hook name> and the ring buffer
// map at <pin-dir>/events. Building and pinning the programs is done
// out of band.
package bpfloader

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"github.com/mrzor/latstat/internal/bpf"
)

// DefaultPinDir is where programs and maps are looked up when not configured.
const DefaultPinDir = "/sys/fs/bpf/latstat"

// ErrNothingAttached is returned when none of the requested hook points could
// be attached.
var ErrNothingAttached = errors.New("no hook point attached")

// ProgramPath returns the pin path of the program for the named hook.
func ProgramPath(pinDir, name string) string {
	return filepath.Join(pinDir, "progs", name)
}

// EventsPath returns the pin path of the ring buffer map.
func EventsPath(pinDir string) string {
	return filepath.Join(pinDir, "events")
}

type programLoader func(path string) (*ebpf.Program, error)

type attacher func(hp bpf.HookPoint, prog *ebpf.Program) (io.Closer, error)

// Loader manages the lifecycle of pinned programs and their attachments.
type Loader struct {
	pinDir string
	logger *zap.Logger

	loadProgram programLoader
	attach      attacher

	programs []*ebpf.Program
	links    []io.Closer
	attached []bpf.HookPoint
	events   *ebpf.Map
}

// New removes the memlock limit and opens the pinned ring buffer map.
func New(pinDir string, logger *zap.Logger) (*Loader, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock limit: %w", err)
	}

	events, err := ebpf.LoadPinnedMap(EventsPath(pinDir), nil)
	if err != nil {
		return nil, fmt.Errorf("loading pinned ring buffer %s: %w", EventsPath(pinDir), err)
	}

	l := newLoader(pinDir, logger)
	l.events = events
	return l, nil
}

func newLoader(pinDir string, logger *zap.Logger) *Loader {
	return &Loader{
		pinDir: pinDir,
		logger: logger,
		loadProgram: func(path string) (*ebpf.Program, error) {
			return ebpf.LoadPinnedProgram(path, nil)
		},
		attach: attachPoint,
	}
}

func attachPoint(hp bpf.HookPoint, prog *ebpf.Program) (io.Closer, error) {
	switch hp.Kind {
	case bpf.Kprobe:
		return link.Kprobe(hp.Symbol, prog, nil)
	case bpf.Kretprobe:
		return link.Kretprobe(hp.Symbol, prog, nil)
	case bpf.Tracepoint:
		return link.Tracepoint(hp.Group, hp.Symbol, prog, nil)
	default:
		return nil, fmt.Errorf("unsupported hook kind %s", hp.Kind)
	}
}

// Attach attaches every point it can. Points that fail are logged and
// skipped; an error is returned only when nothing could be attached.
func (l *Loader) Attach(points []bpf.HookPoint) error {
	var errs []error
	for _, hp := range points {
		if err := l.attachOne(hp); err != nil {
			l.logger.Warn("skipping hook point",
				zap.String("hook", hp.Name),
				zap.Stringer("kind", hp.Kind),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		l.logger.Debug("attached hook point",
			zap.String("hook", hp.Name),
			zap.Stringer("kind", hp.Kind),
			zap.String("symbol", hp.Symbol))
	}

	if len(l.links) == 0 {
		if len(errs) == 0 {
			return ErrNothingAttached
		}
		return fmt.Errorf("%w: %w", ErrNothingAttached, errors.Join(errs...))
	}
	return nil
}

func (l *Loader) attachOne(hp bpf.HookPoint) error {
	path := ProgramPath(l.pinDir, hp.Name)
	prog, err := l.loadProgram(path)
	if err != nil {
		return fmt.Errorf("loading pinned program %s: %w", path, err)
	}

	lk, err := l.attach(hp, prog)
	if err != nil {
		if prog != nil {
			_ = prog.Close() //nolint:errcheck // Best-effort cleanup in error path
		}
		return fmt.Errorf("attaching %s %s: %w", hp.Kind, hp.Symbol, err)
	}

	l.programs = append(l.programs, prog)
	l.links = append(l.links, lk)
	l.attached = append(l.attached, hp)
	return nil
}

// Attached returns the hook points that were attached successfully.
func (l *Loader) Attached() []bpf.HookPoint {
	return l.attached
}

// OpenRingBuffer opens and returns a ring buffer reader for receiving records.
func (l *Loader) OpenRingBuffer() (*ringbuf.Reader, error) {
	if l.events == nil {
		return nil, errors.New("ring buffer map not loaded")
	}
	rd, err := ringbuf.NewReader(l.events)
	if err != nil {
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}
	return rd, nil
}

// Close detaches every link and releases programs and maps.
func (l *Loader) Close() error {
	var errs []error

	for i := len(l.links) - 1; i >= 0; i-- {
		if err := l.links[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s link: %w", l.attached[i].Name, err))
		}
	}
	l.links = nil
	l.attached = nil

	for _, prog := range l.programs {
		if prog == nil {
			continue
		}
		if err := prog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing program: %w", err))
		}
	}
	l.programs = nil

	if l.events != nil {
		if err := l.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing ring buffer map: %w", err))
		}
		l.events = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}
	return nil
}
