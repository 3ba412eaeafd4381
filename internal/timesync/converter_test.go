package timesync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_MonotonicToWallClock(t *testing.T) {
	bootTime := time.Unix(1000000000, 0)
	converter := NewConverterAt(bootTime)

	tests := []struct {
		name           string
		monotonicNanos uint64
		want           time.Time
	}{
		{"zero nanoseconds", 0, bootTime},
		{"one second", 1_000_000_000, bootTime.Add(time.Second)},
		{"one hour", 3_600_000_000_000, bootTime.Add(time.Hour)},
		{"mixed time", 123_456_789_000, bootTime.Add(123*time.Second + 456*time.Millisecond + 789*time.Microsecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converter.MonotonicToWallClock(tt.monotonicNanos)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestConverter_BootTime(t *testing.T) {
	bootTime := time.Unix(1000000000, 0)
	assert.True(t, NewConverterAt(bootTime).BootTime().Equal(bootTime))
}

func TestNewConverter(t *testing.T) {
	converter, err := NewConverter()
	require.NoError(t, err)

	bootTime := converter.BootTime()
	assert.False(t, bootTime.IsZero())
	assert.False(t, bootTime.After(time.Now()), "boot time is not in the future")
}

func TestMonotonic_Advances(t *testing.T) {
	a, err := Monotonic()
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	b, err := Monotonic()
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestNewConverter_RoundTrip(t *testing.T) {
	converter, err := NewConverter()
	require.NoError(t, err)
	mono, err := Monotonic()
	require.NoError(t, err)

	wall := converter.MonotonicToWallClock(mono)
	assert.WithinDuration(t, time.Now(), wall, time.Second)
}

func TestBootTimeFromProc(t *testing.T) {
	root := t.TempDir()
	stat := "cpu  1 2 3 4 5 6 7 0 0 0\nbtime 1700000000\nprocesses 42\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "stat"), []byte(stat), 0o600))

	got, err := BootTimeFromProc(root)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Unix(1700000000, 0)))
}

func TestBootTimeFromProc_Missing(t *testing.T) {
	_, err := BootTimeFromProc(t.TempDir())
	assert.Error(t, err)
}
