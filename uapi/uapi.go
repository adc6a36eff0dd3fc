// Package uapi implements the syscall ABI: argument marshaling into a
// table-driven dispatch (Table, filled in by this package's init;
// cmd/sysgen reads it to generate a syscall-name table) plus the
// conf/conf_get diagnostics keys every handler reads.
package uapi

import (
	"capkern/caps"
	"capkern/defs"
	"capkern/devmem"
	"capkern/ipc"
	"capkern/ipi"
	"capkern/irq"
	"capkern/memconst"
	"capkern/pmem"
	"capkern/shmem"
	"capkern/stats"
	"capkern/tcb"
	"capkern/timers"
	"capkern/vmem"
)

// TimebaseHz is the fixed tick frequency reported by SYS_TIMEBASE; every
// deadline and repeat interval passed to SYS_REQ_REL_TIMER/ABS_TIMER is
// in units of this frequency.
const TimebaseHz uint64 = 1_000_000_000

// Kernel aggregates every subsystem a syscall handler may reach. A
// single Kernel value is threaded through every Dispatch call under the
// Big Kernel Lock.
type Kernel struct {
	Tcb    *tcb.Table
	IPC    *ipc.Registry
	IPI    *ipi.Queue
	IRQ    *irq.Table
	Timers *timers.List
	Dev    *devmem.Registry
	Shared *shmem.Table
	PM     *pmem.Allocator
	Ord    *memconst.Table
	Loader   tcb.ELFLoader
	Now      func() uint64           // current tick, supplied by boot's timebase source
	Poweroff func(defs.PoweroffType) // firmware action, supplied by boot
}

// Handler processes one syscall invocation from caller, given up to
// five argument words.
type Handler func(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet

// Table maps defs.SyscallNo to its handler; index i is nil for a
// reserved or unimplemented syscall number. defs itself cannot hold
// this table (defs.go documents that defs may not import any other
// kernel package), so the table-driven dispatch lives here instead,
// keyed by defs.SyscallNo.
var Table [defs.SYS_COUNT]Handler

func init() {
	Table[defs.SYS_NOOP] = handleNoop
	Table[defs.SYS_CONF_GET] = handleConfGet
	Table[defs.SYS_TICKS] = handleTicks
	Table[defs.SYS_REQ_REL_TIMER] = handleReqRelTimer
	Table[defs.SYS_REQ_ABS_TIMER] = handleReqAbsTimer
	Table[defs.SYS_FREE_TIMER] = handleFreeTimer
	Table[defs.SYS_IPC_SERVER] = handleIPCServer
	Table[defs.SYS_IPC_REQ_PROC] = handleIPCReqProc
	Table[defs.SYS_IPC_REQ_THREAD] = handleIPCReqThread
	Table[defs.SYS_IPC_KICK] = handleIPCKick
	Table[defs.SYS_IPC_RESP] = handleIPCResp
	Table[defs.SYS_IPC_NOTIFY] = handleIPCNotify
	Table[defs.SYS_CREATE] = handleCreate
	Table[defs.SYS_FORK] = handleFork
	Table[defs.SYS_EXEC] = handleExec
	Table[defs.SYS_SPAWN] = handleSpawn
	Table[defs.SYS_DETACH] = handleDetach
	Table[defs.SYS_SWAP] = handleSwap
	Table[defs.SYS_EXIT] = handleExit
	Table[defs.SYS_SET_CAP] = handleSetCap
	Table[defs.SYS_IRQ_REQ] = handleIRQReq
	Table[defs.SYS_FREE_IRQ] = handleFreeIRQ
	Table[defs.SYS_REQ_MEM] = handleReqMem
	Table[defs.SYS_REQ_PMEM] = handleReqPmem
	Table[defs.SYS_REQ_FIXMEM] = handleReqFixmem
	Table[defs.SYS_REQ_SHAREDMEM] = handleReqSharedmem
	Table[defs.SYS_REF_SHAREDMEM] = handleRefSharedmem
	Table[defs.SYS_FREE_MEM] = handleFreeMem
	Table[defs.SYS_TIMEBASE] = handleTimebase
	Table[defs.SYS_SIGNAL] = handleSignal
	Table[defs.SYS_CONF] = handleConf
	Table[defs.SYS_POWEROFF] = handlePoweroff
	Table[defs.SYS_SET_HANDLER] = handleSetHandler
}

// Dispatch looks up no in Table and invokes its handler, failing
// ERR_INVAL for an out-of-range or unimplemented syscall number.
func Dispatch(k *Kernel, caller *tcb.TCB, no defs.SyscallNo, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if no < 0 || int(no) >= len(Table) || Table[no] == nil {
		return defs.Fail(defs.ERR_INVAL)
	}
	return Table[no](k, caller, a0, a1, a2, a3, a4)
}

// ReturnToUserspace is the named hook external trap-vector code calls
// after a syscall completes. This kernel's RPC frame unwind (ipc_resp)
// IS the return path for a migrated thread; for a thread that never
// migrated, returning to userspace is just resuming the trapped
// context. This stub exists only so trap-vector code has a stable name
// to call -- it never itself performs the resume, which is inherently
// architecture-specific assembly outside this module's scope.
func ReturnToUserspace(*tcb.TCB) {}

func handleNoop(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	return defs.Ok(0, 0, 0, 0, 0)
}

func handleConfGet(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	v, err := ConfGet(k, defs.ConfKey(a0))
	if err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, v, 0, 0, 0)
}

// ConfGet reads one of the closed set of config keys.
func ConfGet(k *Kernel, key defs.ConfKey) (uint64, defs.Err_t) {
	switch key {
	case defs.CONF_RAM_USAGE:
		return uint64(stats.RAMUsage.Load()), defs.OK
	case defs.CONF_TID_COUNT:
		return uint64(stats.TidCount.Load()), defs.OK
	case defs.CONF_KERNEL_VERSION:
		return KernelVersionCode, defs.OK
	case defs.CONF_MAX_ORDER:
		if k.Ord == nil {
			return 0, defs.ERR_MISC
		}
		return uint64(k.Ord.MaxOrder()), defs.OK
	default:
		return 0, defs.ERR_INVAL
	}
}

func handleTicks(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if k.Now == nil {
		return defs.Fail(defs.ERR_MISC)
	}
	return defs.Ok(0, k.Now(), 0, 0, 0)
}

func handleReqRelTimer(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	return reqTimer(k, caller, a0, a1, true)
}

func handleReqAbsTimer(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	return reqTimer(k, caller, a0, a1, false)
}

func reqTimer(k *Kernel, caller *tcb.TCB, deadline, repeat uint64, rel bool) defs.SyscallRet {
	var now uint64
	if k.Now != nil {
		now = k.Now()
	}
	id := k.Timers.Set(caller.CPUID, caller.Tid, now, deadline, repeat, rel)
	return defs.Ok(0, id, 0, 0, 0)
}

func handleFreeTimer(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if !k.Timers.Cancel(a0) {
		return defs.Fail(defs.ERR_NF)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

func handleIPCServer(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if err := k.IPC.RegisterServer(caller.Pid, a0); err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

// deliverySyscallRet converts an ipc.Delivery into a syscall return.
// SourceTid is dropped: for Req/ReqThread/Kick the migrating thread is
// always the caller itself, so the caller already knows its own tid
// without it being echoed back. That leaves all five SyscallRet words
// free to carry the callback address plus the full 4-word payload.
func deliverySyscallRet(d ipc.Delivery) defs.SyscallRet {
	return defs.Ok(d.PC, d.D[0], d.D[1], d.D[2], d.D[3])
}

// handleIPCReqProc migrates caller into target's process at its
// process-wide callback, carrying the full 4-word payload in a1-a4.
// The RPC stack window itself is fixed (limits.RPCStackBase) rather
// than caller-supplied, so every migration uses the same isolated
// per-process window regardless of who initiates it.
func handleIPCReqProc(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	target, ok := k.Tcb.Lookup(defs.Tid_t(a0))
	if !ok {
		return defs.Fail(defs.ERR_NF)
	}
	d, err := ipc.Req(caller, target, k.PM, k.IPC, [4]uint64{}, a1, a2, a3, a4)
	if err != defs.OK {
		return defs.Fail(err)
	}
	return deliverySyscallRet(d)
}

func handleIPCReqThread(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	target, ok := k.Tcb.Lookup(defs.Tid_t(a0))
	if !ok {
		return defs.Fail(defs.ERR_NF)
	}
	d, err := ipc.ReqThread(caller, target, k.PM, k.IPC, [4]uint64{}, a1, a2, a3, a4)
	if err != defs.OK {
		return defs.Fail(err)
	}
	return deliverySyscallRet(d)
}

func handleIPCKick(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	target, ok := k.Tcb.Lookup(defs.Tid_t(a0))
	if !ok {
		return defs.Fail(defs.ERR_NF)
	}
	d, err := ipc.Kick(caller, target, k.IPC, a1, a2, a3, a4)
	if err != defs.OK {
		return defs.Fail(err)
	}
	return deliverySyscallRet(d)
}

func handleIPCResp(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	target, ok := k.Tcb.Lookup(caller.GetEid())
	if !ok {
		return defs.Fail(defs.ERR_NF)
	}
	resp, err := ipc.Resp(caller, target, k.PM, a0, a1, a2, a3)
	if err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, resp.D[0], resp.D[1], resp.D[2], resp.D[3])
}

func handleIPCNotify(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	target, ok := k.Tcb.Lookup(defs.Tid_t(a0))
	if !ok {
		return defs.Fail(defs.ERR_NF)
	}
	_, delivered, err := ipc.Notify(caller, target, k.PM, k.IPC, k.IPI, a1)
	if err != defs.OK {
		return defs.Fail(err)
	}
	d := uint64(0)
	if delivered {
		d = 1
	}
	return defs.Ok(0, d, 0, 0, 0)
}

func handleCreate(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	t, err := k.Tcb.CreateThread(caller)
	if err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(uint64(t.Tid), 0, 0, 0, 0)
}

func handleFork(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	t, err := k.Tcb.Fork(caller, a0)
	if err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(uint64(t.Tid), 0, 0, 0, 0)
}

func handleExec(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if k.Loader == nil {
		return defs.Fail(defs.ERR_MISC)
	}
	if err := k.Tcb.Exec(caller, k.Loader, a0); err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

func handleSpawn(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if k.Loader == nil {
		return defs.Fail(defs.ERR_MISC)
	}
	t, err := k.Tcb.Spawn(k.Loader, a0, defs.Cap_t(a1))
	if err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(uint64(t.Tid), 0, 0, 0, 0)
}

func handleDetach(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if err := k.Tcb.Detach(caller); err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

func handleSwap(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	t, err := k.Tcb.Swap(defs.Tid_t(a0))
	if err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(uint64(t.Tid), 0, 0, 0, 0)
}

func handleExit(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	next, err := k.Tcb.Exit(caller, defs.Tid_t(a0))
	if err != defs.OK {
		return defs.Fail(err)
	}
	k.IPI.Remove(caller.Tid)
	id := defs.TID_INVALID
	if next != nil {
		id = next.Tid
	}
	return defs.Ok(uint64(id), 0, 0, 0, 0)
}

func handleSetCap(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	target, ok := k.Tcb.Lookup(defs.Tid_t(a0))
	if !ok {
		return defs.Fail(defs.ERR_NF)
	}
	if err := caps.Delegate(caller, target, defs.Cap_t(a1)); err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

func handleIRQReq(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if !caps.Has(caller, defs.CAP_IRQ) {
		return defs.Fail(defs.ERR_PERM)
	}
	if err := k.IRQ.Register(uint32(a0), caller.Tid); err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

func handleFreeIRQ(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if err := k.IRQ.Free(uint32(a0), caller.Tid); err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

// handleReqMem backs anonymous memory at vaddr with a freshly allocated
// order-sized physical chunk, mapping it R|W|U into caller's address
// space and recording the region for page-fault lookup.
func handleReqMem(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	order := memconst.Order(a0)
	vaddr := a1
	frame, err := k.PM.Alloc(order)
	if err != defs.OK {
		return defs.Fail(err)
	}
	flags := vmem.R | vmem.W | vmem.U
	if err := caller.ProcVM.Map(vaddr, frame, order, flags); err != defs.OK {
		k.PM.FreeChunk(order, frame)
		return defs.Fail(err)
	}
	if err := caller.ProcVM.AddRegion(vmem.Region{Base: vaddr, Size: k.Ord.Size(order), Flags: flags, Owner: true}); err != defs.OK {
		caller.ProcVM.Unmap(vaddr, order)
		k.PM.FreeChunk(order, frame)
		return defs.Fail(err)
	}
	return defs.Ok(0, uint64(frame), 0, 0, 0)
}

// handleReqPmem maps a fixed physical range (device memory handed out
// by firmware, not pmem-backed) at vbase, via devmem so the window is
// tracked for later SYS_FREE_MEM/ownership checks.
func handleReqPmem(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	physBase, vbase, size := a0, a1, a2
	id, err := k.Dev.Register(caller.ProcVM, vbase, physBase, size, vmem.R|vmem.W|vmem.U, uint64(caller.Tid))
	if err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, uint64(id), 0, 0, 0)
}

// handleReqFixmem reserves [vaddr, vaddr+size) as a page-fault-backed
// region without eagerly allocating or mapping any frame; PageFault
// fills it in lazily on first touch.
func handleReqFixmem(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	vaddr, size := a0, a1
	if err := caller.ProcVM.AddRegion(vmem.Region{Base: vaddr, Size: size, Flags: vmem.R | vmem.W | vmem.U, Owner: true}); err != defs.OK {
		return defs.Fail(err)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

// handleReqSharedmem allocates a fresh physical chunk and maps it into
// caller's address space, returning the raw frame number so a peer
// process can attach the same physical memory via SYS_REF_SHAREDMEM.
// The region is recorded as Owner with a fresh shared refcount so a
// later SYS_FREE_MEM can refuse to tear it down while a peer still
// holds a reference.
func handleReqSharedmem(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	order := memconst.Order(a0)
	vaddr := a1
	frame, err := k.PM.Alloc(order)
	if err != defs.OK {
		return defs.Fail(err)
	}
	flags := vmem.R | vmem.W | vmem.U
	if err := caller.ProcVM.Map(vaddr, frame, order, flags); err != defs.OK {
		k.PM.FreeChunk(order, frame)
		return defs.Fail(err)
	}
	refs, err := k.Shared.Create(frame)
	if err != defs.OK {
		caller.ProcVM.Unmap(vaddr, order)
		k.PM.FreeChunk(order, frame)
		return defs.Fail(err)
	}
	if err := caller.ProcVM.AddRegion(vmem.Region{Base: vaddr, Size: k.Ord.Size(order), Flags: flags, Owner: true, Refs: refs}); err != defs.OK {
		k.Shared.Forget(frame)
		caller.ProcVM.Unmap(vaddr, order)
		k.PM.FreeChunk(order, frame)
		return defs.Fail(err)
	}
	return defs.Ok(0, uint64(frame), 0, 0, 0)
}

// handleRefSharedmem attaches a frame number returned by a prior
// SYS_REQ_SHAREDMEM into caller's own address space at vaddr, sharing
// the owner's refcount so the owner's SYS_FREE_MEM can see this
// attachment is still live.
func handleRefSharedmem(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	frame, vaddr, order := pmem.Frame(a0), a1, memconst.Order(a2)
	refs, err := k.Shared.Attach(frame)
	if err != defs.OK {
		return defs.Fail(err)
	}
	flags := vmem.R | vmem.W | vmem.U
	if err := caller.ProcVM.Map(vaddr, frame, order, flags); err != defs.OK {
		*refs--
		return defs.Fail(err)
	}
	if err := caller.ProcVM.AddRegion(vmem.Region{Base: vaddr, Size: k.Ord.Size(order), Flags: flags, Owner: false, Refs: refs}); err != defs.OK {
		caller.ProcVM.Unmap(vaddr, order)
		*refs--
		return defs.Fail(err)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

// handleFreeMem unmaps vaddr from caller's address space. A devmem
// window (SYS_REQ_PMEM) goes through the owning registry so only its
// registering thread, or a thread holding CAP_IRQ, can tear it down.
// A region owning a shared-memory frame (SYS_REQ_SHAREDMEM) refuses to
// unmap while a peer still holds a reference via SYS_REF_SHAREDMEM;
// releasing a peer's own reference always succeeds and drops the
// shared refcount. Either way, the physical frame itself is reclaimed
// only when the whole address space is torn down, not here -- a freed
// mapping may still be referenced elsewhere until then.
func handleFreeMem(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	vaddr, order := a0, memconst.Order(a1)

	if id, ok := k.Dev.Find(vaddr); ok {
		if err := k.Dev.Unregister(caller.ProcVM, id, uint64(caller.Tid), caps.Has(caller, defs.CAP_IRQ)); err != defs.OK {
			return defs.Fail(err)
		}
		return defs.Ok(0, 0, 0, 0, 0)
	}

	region, hasRegion := caller.ProcVM.FindRegion(vaddr)
	if hasRegion && region.Owner && region.Refs != nil && *region.Refs > 0 {
		return defs.Fail(defs.ERR_PERM)
	}
	frame, _, hadFrame := caller.ProcVM.Translate(vaddr)

	if err := caller.ProcVM.Unmap(vaddr, order); err != defs.OK {
		return defs.Fail(err)
	}

	if hasRegion {
		if region.Refs != nil {
			if region.Owner {
				if hadFrame {
					k.Shared.Forget(frame)
				}
			} else {
				*region.Refs--
			}
		}
		caller.ProcVM.RemoveRegion(vaddr)
	}
	return defs.Ok(0, 0, 0, 0, 0)
}

func handleTimebase(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	return defs.Ok(0, TimebaseHz, 0, 0, 0)
}

// handleSignal delivers an asynchronous NOTIFY_SIGNAL to a0, requiring
// caller to hold CAP_SIGNAL.
func handleSignal(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if !caps.Has(caller, defs.CAP_SIGNAL) {
		return defs.Fail(defs.ERR_PERM)
	}
	target, ok := k.Tcb.Lookup(defs.Tid_t(a0))
	if !ok {
		return defs.Fail(defs.ERR_NF)
	}
	_, delivered, err := ipc.Notify(caller, target, k.PM, k.IPC, k.IPI, defs.NOTIFY_SIGNAL)
	if err != defs.OK {
		return defs.Fail(err)
	}
	d := uint64(0)
	if delivered {
		d = 1
	}
	return defs.Ok(0, d, 0, 0, 0)
}

// handleConf is conf_get's write-side counterpart. Every defined
// ConfKey (CONF_RAM_USAGE, CONF_TID_COUNT, CONF_KERNEL_VERSION,
// CONF_MAX_ORDER) is derived, read-only state; there is currently no
// config key a caller may set, so this always fails ERR_PERM rather
// than silently discarding a write.
func handleConf(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	return defs.Fail(defs.ERR_PERM)
}

func handlePoweroff(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	if !caps.Has(caller, defs.CAP_POWER) {
		return defs.Fail(defs.ERR_PERM)
	}
	if k.Poweroff == nil {
		return defs.Fail(defs.ERR_MISC)
	}
	k.Poweroff(defs.PoweroffType(a0))
	return defs.Ok(0, 0, 0, 0, 0)
}

func handleSetHandler(k *Kernel, caller *tcb.TCB, a0, a1, a2, a3, a4 uint64) defs.SyscallRet {
	caller.Callback = a0
	return defs.Ok(0, 0, 0, 0, 0)
}
