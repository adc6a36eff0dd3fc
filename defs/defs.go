// Package defs holds the types and constants shared across every kernel
// subsystem: error codes, thread/process identifiers, capability bits and
// the syscall ABI result shape. Nothing in this package may import any
// other kernel package -- everything else imports defs.
package defs

// Err_t is the kernel's closed error-kind type. Zero is success; negative
// values enumerate a fixed set of failure kinds.
type Err_t int

// Error kinds. The set is closed: add a value here only for a genuinely
// new failure kind, not as a synonym for an existing one.
const (
	OK        Err_t = 0
	ERR_INVAL Err_t = -1
	ERR_PERM  Err_t = -2
	ERR_OOMEM Err_t = -3
	ERR_NF    Err_t = -4 // not found
	ERR_EXT   Err_t = -5 // already exists
	ERR_ADDR  Err_t = -6
	ERR_ALIGN Err_t = -7
	ERR_MISC  Err_t = -8
)

// String renders an Err_t for logs and panics.
func (e Err_t) String() string {
	switch e {
	case OK:
		return "OK"
	case ERR_INVAL:
		return "ERR_INVAL"
	case ERR_PERM:
		return "ERR_PERM"
	case ERR_OOMEM:
		return "ERR_OOMEM"
	case ERR_NF:
		return "ERR_NF"
	case ERR_EXT:
		return "ERR_EXT"
	case ERR_ADDR:
		return "ERR_ADDR"
	case ERR_ALIGN:
		return "ERR_ALIGN"
	case ERR_MISC:
		return "ERR_MISC"
	default:
		return "ERR_UNKNOWN"
	}
}

// Tid_t identifies a thread. Tid 0 is reserved invalid; tid 1 is init.
type Tid_t uint64

// Pid_t identifies a process (the tid of its root thread).
type Pid_t = Tid_t

// TID_INVALID is never assigned to a live thread.
const TID_INVALID Tid_t = 0

// TID_INIT is the root thread that adopts and reaps orphans.
const TID_INIT Tid_t = 1

// Cap_t is a bitflag set of capabilities held by a thread.
type Cap_t uint32

// Capability bits.
const (
	CAP_CAPS Cap_t = 1 << iota
	CAP_PROC
	CAP_CALL
	CAP_IRQ
	CAP_POWER
	CAP_SIGNAL
)

// CAP_ALL is the union of every defined capability, used to validate
// delegation requests against the full known set.
const CAP_ALL = CAP_CAPS | CAP_PROC | CAP_CALL | CAP_IRQ | CAP_POWER | CAP_SIGNAL

// SyscallRet is the uniform return shape of every syscall: status plus up
// to five data words. Unused slots are zero.
type SyscallRet struct {
	Status Err_t
	Id     uint64
	A0     uint64
	A1     uint64
	A2     uint64
	A3     uint64
}

// Ok builds a successful SyscallRet.
func Ok(id, a0, a1, a2, a3 uint64) SyscallRet {
	return SyscallRet{Status: OK, Id: id, A0: a0, A1: a1, A2: a2, A3: a3}
}

// Fail builds a failed SyscallRet; all data words are zero.
func Fail(e Err_t) SyscallRet {
	if e == OK {
		panic("Fail called with OK")
	}
	return SyscallRet{Status: e}
}

// User-visible d0 codes delivered to a process's callback.
const (
	SYS_USER_SPAWNED uint64 = iota + 1
	SYS_USER_ORPHANED
	SYS_USER_NOTIFY
)

// Notification flag bits passed in d1 alongside SYS_USER_NOTIFY.
const (
	NOTIFY_SIGNAL uint64 = 1 << iota
	NOTIFY_IRQ
)

// PoweroffType selects the firmware action for the poweroff syscall.
type PoweroffType int

const (
	SHUTDOWN PoweroffType = iota
	COLD_REBOOT
	WARM_REBOOT
)

// SyscallNo indexes the syscall dispatch table.
type SyscallNo int

const (
	SYS_NOOP SyscallNo = iota
	SYS_REQ_MEM
	SYS_REQ_PMEM
	SYS_REQ_FIXMEM
	SYS_REQ_SHAREDMEM
	SYS_REF_SHAREDMEM
	SYS_FREE_MEM
	SYS_TIMEBASE
	SYS_TICKS
	SYS_REQ_REL_TIMER
	SYS_REQ_ABS_TIMER
	SYS_FREE_TIMER
	SYS_IPC_SERVER
	SYS_IPC_REQ_PROC
	SYS_IPC_REQ_THREAD
	SYS_IPC_KICK
	SYS_IPC_RESP
	SYS_IPC_NOTIFY
	SYS_CREATE
	SYS_FORK
	SYS_EXEC
	SYS_SPAWN
	SYS_DETACH
	SYS_SIGNAL
	SYS_SWAP
	SYS_EXIT
	SYS_CONF
	SYS_CONF_GET
	SYS_POWEROFF
	SYS_SET_CAP
	SYS_IRQ_REQ
	SYS_FREE_IRQ
	SYS_SET_HANDLER

	SYS_COUNT // sentinel: number of syscalls in the table
)

// ConfKey enumerates the keys accepted by conf_get.
type ConfKey int

const (
	CONF_RAM_USAGE ConfKey = iota
	CONF_TID_COUNT
	CONF_KERNEL_VERSION
	CONF_MAX_ORDER
)
