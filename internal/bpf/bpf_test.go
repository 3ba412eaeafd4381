package bpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookRecord_EncodeDecode(t *testing.T) {
	rec := HookRecord{
		Timestamp: 123456789,
		Ident:     0xffff888012345678,
		Args:      [4]uint64{1, 2, 3, 4},
		Ret:       -5,
		Pid:       100,
		Tid:       101,
		CPU:       3,
		Hook:      HookVfsWriteReturn,
	}
	rec.SetComm("postgres")

	raw := Encode(&rec)
	require.Len(t, raw, RecordSize)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, "postgres", got.CommString())
}

func TestDecode_Short(t *testing.T) {
	_, err := Decode(make([]byte, RecordSize-1))
	assert.Error(t, err)
}

func TestHookRecord_SetCommTruncates(t *testing.T) {
	var rec HookRecord
	rec.SetComm("a-very-long-process-name")
	assert.Equal(t, "a-very-long-pro", rec.CommString())
}

func TestCatalogue_Lookup(t *testing.T) {
	seen := make(map[string]bool)
	for _, hp := range Catalogue() {
		assert.False(t, seen[hp.Name], "duplicate name %s", hp.Name)
		seen[hp.Name] = true

		got, ok := Lookup(hp.Hook)
		require.True(t, ok)
		assert.Equal(t, hp, got)
		assert.Equal(t, hp.Name, hp.Hook.String())
	}

	hp, err := LookupName("sched_switch")
	require.NoError(t, err)
	assert.Equal(t, Tracepoint, hp.Kind)
	assert.Equal(t, "sched", hp.Group)

	_, err = LookupName("nope")
	assert.ErrorIs(t, err, ErrUnknownHook)
	assert.Equal(t, "hook(999)", Hook(999).String())
}

func TestPoints_SkipsUnknown(t *testing.T) {
	pts := Points([]Hook{HookTCPDataQueue, Hook(999), HookTCPRecvmsg})
	require.Len(t, pts, 2)
	assert.Equal(t, "tcp_data_queue", pts[0].Name)
	assert.Equal(t, Kprobe.String(), "kprobe")
}
