package bpf

import (
	"errors"
	"fmt"
)

// ErrUnknownHook is returned when a hook name is not in the catalogue.
var ErrUnknownHook = errors.New("unknown hook")

// Hook identifies the hook point a record was emitted from.
type Hook uint32

// Hook identifiers. Values are part of the record format and must not change.
//
// Per-hook record fields:
//
//	TCPDataQueue        Ident=sock
//	TCPRecvmsg          Ident=sock Args[0]=sk_rmem_alloc Args[1]=sk_rcvbuf
//	TCPTransmitSkb      Ident=skb
//	DevQueueXmit        Ident=skb
//	TCPV4Connect        Ident=sock
//	TCPSetState         Ident=sock Args[0]=new state Args[1]=daddr (network order) Args[2]=dport
//	TCPRcvEstablished   Ident=sock
//	VfsWrite            Ident=pid_tgid Args[0]=count Args[1]=file f_flags
//	VfsWriteReturn      Ident=pid_tgid Ret=bytes written or -errno
//	VfsFsync            Ident=pid_tgid
//	VfsFsyncReturn      Ident=pid_tgid Ret
//	Fdatasync           Ident=pid_tgid
//	FdatasyncReturn     Ident=pid_tgid Ret
//	VfsReadReturn       Ret=bytes read or -errno
//	BlockRqComplete     Args[0]=nr_sector Args[1]=rwbs[0]
//	ScsiDispatchStart   Ident=opcode Args[0..3]=host,channel,id,lun
//	ScsiDispatchDone    Ident=opcode Args[0..3]=host,channel,id,lun Ret=result
//	TaskNumaFault       Args[0]=mem_node Args[1]=cpu_node
//	SchedSwitch         Args[0]=prev_pid Args[1]=prev_state Args[2]=next_pid
const (
	HookTCPDataQueue Hook = iota + 1
	HookTCPRecvmsg
	HookTCPTransmitSkb
	HookDevQueueXmit
	HookTCPV4Connect
	HookTCPSetState
	HookTCPRcvEstablished
	HookVfsWrite
	HookVfsWriteReturn
	HookVfsFsync
	HookVfsFsyncReturn
	HookFdatasync
	HookFdatasyncReturn
	HookVfsReadReturn
	HookBlockRqComplete
	HookScsiDispatchStart
	HookScsiDispatchDone
	HookTaskNumaFault
	HookSchedSwitch
)

// Kind is the attachment mechanism of a hook point.
type Kind int

const (
	Kprobe Kind = iota
	Kretprobe
	Tracepoint
)

func (k Kind) String() string {
	switch k {
	case Kprobe:
		return "kprobe"
	case Kretprobe:
		return "kretprobe"
	case Tracepoint:
		return "tracepoint"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HookPoint describes where a hook program attaches. For tracepoints Group is
// the tracepoint group and Symbol the event name; for probes Symbol is the
// kernel function.
type HookPoint struct {
	Hook   Hook
	Name   string // pinned program file name and replay name
	Kind   Kind
	Group  string
	Symbol string
}

var catalogue = []HookPoint{
	{HookTCPDataQueue, "tcp_data_queue", Kprobe, "", "tcp_data_queue"},
	{HookTCPRecvmsg, "tcp_recvmsg", Kprobe, "", "tcp_recvmsg"},
	{HookTCPTransmitSkb, "tcp_transmit_skb", Kprobe, "", "__tcp_transmit_skb"},
	{HookDevQueueXmit, "dev_queue_xmit", Kprobe, "", "__dev_queue_xmit"},
	{HookTCPV4Connect, "tcp_v4_connect", Kprobe, "", "tcp_v4_connect"},
	{HookTCPSetState, "tcp_set_state", Kprobe, "", "tcp_set_state"},
	{HookTCPRcvEstablished, "tcp_rcv_established", Kprobe, "", "tcp_rcv_established"},
	{HookVfsWrite, "vfs_write", Kprobe, "", "vfs_write"},
	{HookVfsWriteReturn, "vfs_write_return", Kretprobe, "", "vfs_write"},
	{HookVfsFsync, "vfs_fsync", Kprobe, "", "vfs_fsync"},
	{HookVfsFsyncReturn, "vfs_fsync_return", Kretprobe, "", "vfs_fsync"},
	{HookFdatasync, "fdatasync", Kprobe, "", "__x64_sys_fdatasync"},
	{HookFdatasyncReturn, "fdatasync_return", Kretprobe, "", "__x64_sys_fdatasync"},
	{HookVfsReadReturn, "vfs_read_return", Kretprobe, "", "vfs_read"},
	{HookBlockRqComplete, "block_rq_complete", Tracepoint, "block", "block_rq_complete"},
	{HookScsiDispatchStart, "scsi_dispatch_cmd_start", Tracepoint, "scsi", "scsi_dispatch_cmd_start"},
	{HookScsiDispatchDone, "scsi_dispatch_cmd_done", Tracepoint, "scsi", "scsi_dispatch_cmd_done"},
	{HookTaskNumaFault, "task_numa_fault", Kprobe, "", "task_numa_fault"},
	{HookSchedSwitch, "sched_switch", Tracepoint, "sched", "sched_switch"},
}

var (
	byHook = make(map[Hook]HookPoint, len(catalogue))
	byName = make(map[string]HookPoint, len(catalogue))
)

func init() {
	for _, hp := range catalogue {
		byHook[hp.Hook] = hp
		byName[hp.Name] = hp
	}
}

// Catalogue returns every known hook point.
func Catalogue() []HookPoint {
	out := make([]HookPoint, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup returns the hook point for h.
func Lookup(h Hook) (HookPoint, bool) {
	hp, ok := byHook[h]
	return hp, ok
}

// LookupName returns the hook point registered under name.
func LookupName(name string) (HookPoint, error) {
	hp, ok := byName[name]
	if !ok {
		return HookPoint{}, fmt.Errorf("%w: %q", ErrUnknownHook, name)
	}
	return hp, nil
}

// String returns the catalogue name of h.
func (h Hook) String() string {
	if hp, ok := byHook[h]; ok {
		return hp.Name
	}
	return fmt.Sprintf("hook(%d)", uint32(h))
}

// Points resolves hooks to their catalogue entries, skipping unknown ones.
func Points(hooks []Hook) []HookPoint {
	out := make([]HookPoint, 0, len(hooks))
	for _, h := range hooks {
		if hp, ok := byHook[h]; ok {
			out = append(out, hp)
		}
	}
	return out
}
