// Package bpf defines the record shared with the kernel-side hook programs and
// the catalogue of hook points the probes subscribe to.
package bpf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// RecordSize is the encoded size of a HookRecord.
const RecordSize = 88

// HookRecord is emitted once per hook firing. Field meaning per hook is listed
// in the catalogue (see hooks.go).
type HookRecord struct {
	Timestamp uint64 // CLOCK_MONOTONIC, nanoseconds
	Ident     uint64 // operation identity: sock/skb address, pid_tgid, opcode
	Args      [4]uint64
	Ret       int64
	Pid       uint32
	Tid       uint32
	CPU       uint32
	Hook      Hook
	Comm      [16]byte
}

// Decode parses a little-endian HookRecord from raw ring buffer bytes.
func Decode(raw []byte) (HookRecord, error) {
	var rec HookRecord
	if len(raw) < RecordSize {
		return rec, fmt.Errorf("short record: %d bytes", len(raw))
	}
	if err := binary.Read(bytes.NewReader(raw[:RecordSize]), binary.LittleEndian, &rec); err != nil {
		return rec, fmt.Errorf("decoding hook record: %w", err)
	}
	return rec, nil
}

// Encode writes rec in the same layout Decode reads.
func Encode(rec *HookRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(RecordSize)
	_ = binary.Write(&buf, binary.LittleEndian, rec) //nolint:errcheck // bytes.Buffer writes do not fail
	return buf.Bytes()
}

// CommString returns the task name without trailing NULs.
func (r *HookRecord) CommString() string {
	return unix.ByteSliceToString(r.Comm[:])
}

// SetComm copies name into the fixed-size Comm field, truncating as the kernel does.
func (r *HookRecord) SetComm(name string) {
	r.Comm = [16]byte{}
	copy(r.Comm[:len(r.Comm)-1], name)
}
