package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeReplay(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestHooksCommand(t *testing.T) {
	out, err := execute(t, "hooks")
	require.NoError(t, err)

	assert.Contains(t, out, "PROBE")
	assert.Contains(t, out, "sched:sched_switch")
	assert.Contains(t, out, "kretprobe")
	for _, def := range probeDefs {
		assert.Contains(t, out, def.name)
	}
}

func TestHooksCommand_SingleProbe(t *testing.T) {
	out, err := execute(t, "hooks", "tsastat")
	require.NoError(t, err)

	assert.Contains(t, out, "sched_switch")
	assert.NotContains(t, out, "tcp_v4_connect")
}

func TestHooksCommand_UnknownProbe(t *testing.T) {
	_, err := execute(t, "hooks", "nosuchprobe")
	assert.ErrorIs(t, err, ErrUnknownProbe)
}

func TestReplay_Ampstat(t *testing.T) {
	path := writeReplay(t,
		`{"ts":1000,"hook":"vfs_read_return","ret":1048576,"pid":7,"comm":"cat"}`,
		``,
		`{"ts":2000,"hook":"block_rq_complete","args":[4096,82]}`,
	)

	out, err := execute(t, "--replay", path, "--interval", "1h", "--log-level", "error", "ampstat")
	require.NoError(t, err)

	assert.Contains(t, out, "ampstat [")
	assert.Contains(t, out, "AMPLIFICATION")
	assert.Contains(t, out, "2.00x")
}

func TestReplay_FilterRows(t *testing.T) {
	path := writeReplay(t,
		`{"ts":0,"hook":"vfs_write","args":[4096,1],"pid":9,"tid":1,"comm":"app"}`,
		`{"ts":1000000,"hook":"vfs_write_return","ret":4096,"pid":9,"tid":1,"comm":"app"}`,
		`{"ts":0,"hook":"vfs_fsync","pid":9,"tid":2,"comm":"app"}`,
		`{"ts":2000000,"hook":"vfs_fsync_return","pid":9,"tid":2,"comm":"app"}`,
	)

	out, err := execute(t, "--replay", path, "--interval", "1h", "--log-level", "error",
		"--filter", `type == "SYNC"`, "writestat")
	require.NoError(t, err)

	assert.Contains(t, out, "SYNC")
	assert.NotContains(t, out, "ASYNC")
}

func TestReplay_MissingFile(t *testing.T) {
	_, err := execute(t, "--replay", filepath.Join(t.TempDir(), "absent.jsonl"), "--log-level", "error", "tsastat")
	assert.Error(t, err)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := execute(t, "--interval", "0s", "--replay", "unused.jsonl", "ampstat")
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = execute(t, "--attribute", "no-expression", "ampstat")
	assert.ErrorContains(t, err, "name=expression")

	_, err = execute(t, "--replay", "unused.jsonl", "--filter", "rows ==", "ampstat")
	assert.Error(t, err)
}
