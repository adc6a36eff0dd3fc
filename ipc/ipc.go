// Package ipc implements thread-migration RPC: ipc_req/ipc_resp/ipc_kick
// transfer a calling thread's execution context into a target process's
// address space and back, and notify/ipc_server provide the
// asynchronous, non-returning counterpart and its callback registration.
package ipc

import (
	"capkern/defs"
	"capkern/ipi"
	"capkern/limits"
	"capkern/pmem"
	"capkern/tcb"
	"capkern/vmem"
)

// NOTIFY_SIGNAL and NOTIFY_IRQ are flag bits passed in d1 alongside a
// delivered callback invocation.
const (
	NOTIFY_SIGNAL uint64 = 1 << iota
	NOTIFY_IRQ
)

// Delivery describes what a trap handler must set up to resume user
// code after a successful Req/Kick/Notify: jump to PC with the given
// arguments in registers.
type Delivery struct {
	PC        uint64
	SourceTid defs.Tid_t
	Flags     uint64
	D         [4]uint64
}

// Response describes what a trap handler must restore after a
// successful Resp: the caller's saved registers plus the callee's
// return values.
type Response struct {
	SavedRegs [4]uint64
	D         [4]uint64
}

// Registry tracks each process's registered ipc_server callback
// (ipc_req_proc's target) and, separately, any individual thread's own
// callback (ipc_req_thread's target).
type Registry struct {
	callbacks       map[defs.Tid_t]uint64
	threadCallbacks map[defs.Tid_t]uint64
}

func NewRegistry() *Registry {
	return &Registry{
		callbacks:       make(map[defs.Tid_t]uint64),
		threadCallbacks: make(map[defs.Tid_t]uint64),
	}
}

// RegisterServer sets pid's process-wide callback, failing ERR_EXT on
// re-registration.
func (r *Registry) RegisterServer(pid defs.Tid_t, addr uint64) defs.Err_t {
	if _, ok := r.callbacks[pid]; ok {
		return defs.ERR_EXT
	}
	r.callbacks[pid] = addr
	return defs.OK
}

// RegisterThreadServer sets tid's own callback, independent of its
// process's, failing ERR_EXT on re-registration.
func (r *Registry) RegisterThreadServer(tid defs.Tid_t, addr uint64) defs.Err_t {
	if _, ok := r.threadCallbacks[tid]; ok {
		return defs.ERR_EXT
	}
	r.threadCallbacks[tid] = addr
	return defs.OK
}

func (r *Registry) callback(pid defs.Tid_t) (uint64, bool) {
	cb, ok := r.callbacks[pid]
	return cb, ok
}

func (r *Registry) threadCallback(tid defs.Tid_t) (uint64, bool) {
	cb, ok := r.threadCallbacks[tid]
	return cb, ok
}

// Req migrates t into target's process, delivering at target's
// process-wide callback (ipc_req_proc). See ReqThread for targeting a
// specific thread's own callback (ipc_req_thread).
func Req(t, target *tcb.TCB, pm *pmem.Allocator, reg *Registry, callerRegs [4]uint64, d0, d1, d2, d3 uint64) (Delivery, defs.Err_t) {
	cb, ok := reg.callback(target.Pid)
	if !ok {
		return Delivery{}, defs.ERR_NF
	}
	return migrate(cb, t, target, pm, callerRegs, d0, d1, d2, d3)
}

// ReqThread migrates t into target's process, delivering at target's
// own thread-specific callback if it registered one, failing ERR_NF
// otherwise -- it never falls back to the process-wide callback.
func ReqThread(t, target *tcb.TCB, pm *pmem.Allocator, reg *Registry, callerRegs [4]uint64, d0, d1, d2, d3 uint64) (Delivery, defs.Err_t) {
	cb, ok := reg.threadCallback(target.Tid)
	if !ok {
		return Delivery{}, defs.ERR_NF
	}
	return migrate(cb, t, target, pm, callerRegs, d0, d1, d2, d3)
}

// migrate carries out the shared mechanics of Req/ReqThread: pushes an
// RPC frame recording t's current registers/eid/view, maps the fixed
// per-thread RPC stack window at limits.RPCStackBase for the new frame
// (unmapping the previous frame's window from the active view first),
// and returns what to deliver at cb.
func migrate(cb uint64, t, target *tcb.TCB, pm *pmem.Allocator, callerRegs [4]uint64, d0, d1, d2, d3 uint64) (Delivery, defs.Err_t) {
	curVM := t.GetRPCVM()
	curEid := t.GetEid()
	if t.RPCDepth() > 0 {
		curVM.Unmap(limits.RPCStackBase, 0)
	}

	pframe, err := pm.Alloc(0)
	if err != defs.OK {
		return Delivery{}, err
	}
	if err := target.ProcVM.Map(limits.RPCStackBase, pframe, 0, vmem.R|vmem.W|vmem.U); err != defs.OK {
		pm.FreeChunk(0, pframe)
		return Delivery{}, err
	}

	frame := tcb.RPCFrame{
		SavedRegs: callerRegs, SavedEid: curEid, SavedVM: curVM,
		StackBase: limits.RPCStackBase, StackSize: limits.RPCStackSize, StackPFrame: pframe,
	}
	if err := t.PushRPCFrame(frame, limits.MaxRPCDepth); err != defs.OK {
		target.ProcVM.Unmap(limits.RPCStackBase, 0)
		pm.FreeChunk(0, pframe)
		return Delivery{}, err
	}

	t.SetEid(target.Pid)
	t.SetRPCVM(target.ProcVM)
	target.MarkRPCBusy()

	return Delivery{PC: cb, SourceTid: t.Tid, Flags: NOTIFY_SIGNAL, D: [4]uint64{d0, d1, d2, d3}}, defs.OK
}

// Resp pops t's top RPC frame, frees its stack window, clears target's
// busy flag, restores the caller's eid/view (remapping the
// newly-restored frame's own window if one remains beneath it), and
// returns what to deliver back to the original caller. target is the
// process t was servicing, i.e. the TCB whose pid equals t's eid before
// the pop.
func Resp(t, target *tcb.TCB, pm *pmem.Allocator, d0, d1, d2, d3 uint64) (Response, defs.Err_t) {
	frame, err := t.PopRPCFrame()
	if err != defs.OK {
		return Response{}, err
	}

	curVM := t.GetRPCVM()
	curVM.Unmap(frame.StackBase, 0)
	pm.FreeChunk(0, frame.StackPFrame)
	target.ClearRPCBusy()

	if prev, ok := t.PeekRPCFrame(); ok {
		frame.SavedVM.Map(prev.StackBase, prev.StackPFrame, 0, vmem.R|vmem.W|vmem.U)
	}

	t.SetEid(frame.SavedEid)
	t.SetRPCVM(frame.SavedVM)

	return Response{SavedRegs: frame.SavedRegs, D: [4]uint64{d0, d1, d2, d3}}, defs.OK
}

// Kick replaces the current RPC target with another process without
// growing the stack: it rewrites the top frame's destination in place
// (tail call) rather than pushing a new one.
func Kick(t *tcb.TCB, target *tcb.TCB, reg *Registry, d0, d1, d2, d3 uint64) (Delivery, defs.Err_t) {
	if t.RPCDepth() == 0 {
		return Delivery{}, defs.ERR_INVAL
	}
	cb, ok := reg.callback(target.Pid)
	if !ok {
		return Delivery{}, defs.ERR_NF
	}
	t.SetEid(target.Pid)
	t.SetRPCVM(target.ProcVM)
	return Delivery{PC: cb, SourceTid: t.Tid, Flags: NOTIFY_SIGNAL, D: [4]uint64{d0, d1, d2, d3}}, defs.OK
}

// Notify delivers an asynchronous, non-returning request to target. If
// target is idle (not currently servicing some other migrated thread)
// it's delivered as a same-core migration exactly like Req, with
// defs.SYS_USER_NOTIFY as d0 so target's callback can tell a notify
// apart from a real ipc_req; if target is mid-RPC, it's queued on the
// IPI queue and target's core is sent a wakeup; if target is DEAD, the
// notification is dropped.
func Notify(t, target *tcb.TCB, pm *pmem.Allocator, reg *Registry, q *ipi.Queue, flag uint64) (Delivery, bool, defs.Err_t) {
	if target.State() == tcb.DEAD {
		return Delivery{}, false, defs.OK
	}
	if !target.IsRPCBusy() {
		d, err := Req(t, target, pm, reg, [4]uint64{}, defs.SYS_USER_NOTIFY, flag, 0, 0)
		return d, true, err
	}
	q.PushToCore(target.Tid, target.CPUID)
	return Delivery{}, false, defs.OK
}
