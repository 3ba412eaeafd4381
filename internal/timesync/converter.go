package timesync

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Converter maps hook timestamps to wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter creates a converter anchored on the current offset between
// CLOCK_REALTIME and CLOCK_MONOTONIC. If the monotonic clock cannot be read it
// falls back to the boot time in /proc/stat.
func NewConverter() (*Converter, error) {
	mono, err := Monotonic()
	if err == nil {
		//nolint:gosec // monotonic nanoseconds since boot fit in int64
		return &Converter{bootTime: time.Now().Add(-time.Duration(mono))}, nil
	}

	bootTime, statErr := BootTimeFromProc(procfs.DefaultMountPoint)
	if statErr != nil {
		return nil, fmt.Errorf("no clock anchor: %w", statErr)
	}
	return &Converter{bootTime: bootTime}, nil
}

// NewConverterAt creates a converter with a fixed boot time.
func NewConverterAt(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// MonotonicToWallClock converts nanoseconds on CLOCK_MONOTONIC to wall-clock time.
func (c *Converter) MonotonicToWallClock(monotonicNanos uint64) time.Time {
	//nolint:gosec // timestamps since boot fit in int64
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the wall-clock instant of monotonic zero.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

// Monotonic returns CLOCK_MONOTONIC in nanoseconds, the clock hook records are stamped with.
func Monotonic() (uint64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, fmt.Errorf("reading monotonic clock: %w", err)
	}
	//nolint:gosec // both fields are non-negative for CLOCK_MONOTONIC
	return uint64(ts.Nano()), nil
}

// BootTimeFromProc reads the boot time recorded in <procRoot>/stat. It has
// second resolution.
func BootTimeFromProc(procRoot string) (time.Time, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return time.Time{}, fmt.Errorf("opening proc filesystem %s: %w", procRoot, err)
	}
	stat, err := fs.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading kernel stat: %w", err)
	}
	if stat.BootTime == 0 {
		return time.Time{}, errors.New("btime missing from kernel stat")
	}
	//nolint:gosec // seconds since the epoch
	return time.Unix(int64(stat.BootTime), 0), nil
}
