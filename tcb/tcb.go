// Package tcb implements thread control blocks and process lifecycle:
// create_proc, create_thread, fork, spawn, exec, detach, exit and swap,
// plus the orphan-reaping loop init runs forever.
package tcb

import (
	"sync"
	"sync/atomic"

	"capkern/accnt"
	"capkern/caps"
	"capkern/defs"
	"capkern/hashtable"
	"capkern/limits"
	"capkern/memconst"
	"capkern/pmem"
	"capkern/stats"
	"capkern/vmem"
)

const canaryMagic uint32 = 0xb00b1e5

// State is a TCB's scheduling/lifecycle state.
type State uint8

const (
	NEW State = iota
	RUNNING
	BLOCKED_IPC
	BLOCKED_TIMER
	DEAD
	ORPHAN
)

// TCB is a thread control block. Fields are only safe to mutate under
// the owning Table's lock or the TCB's own mutex, per field, as noted.
type TCB struct {
	mu sync.Mutex

	Tid    defs.Tid_t
	Pid    defs.Tid_t // root thread of the owning process
	Eid    defs.Tid_t // current effective process during RPC
	Rid    defs.Tid_t // root process
	CPUID  int
	state  State
	capsV  defs.Cap_t
	parent defs.Tid_t

	Callback   uint64
	NotifyID   uint64
	ProcVM     *vmem.AddressSpace
	RPCVM      *vmem.AddressSpace
	StackTop   uint64
	Entry      uint64
	KStack     pmem.Frame
	Canary     uint32
	Acc        accnt.Accnt_t
	PendingD0  uint64
	HasPending bool

	RPCFrames []RPCFrame
	rpcBusy   bool

	children map[defs.Tid_t]bool
}

// MarkRPCBusy records that some thread is currently migrated into t's
// process, i.e. t's root TCB is mid-RPC from the IPC layer's
// perspective.
func (t *TCB) MarkRPCBusy() { t.mu.Lock(); t.rpcBusy = true; t.mu.Unlock() }

// ClearRPCBusy records that no thread is currently migrated into t's
// process.
func (t *TCB) ClearRPCBusy() { t.mu.Lock(); t.rpcBusy = false; t.mu.Unlock() }

// IsRPCBusy reports whether some thread is currently migrated into t's
// process.
func (t *TCB) IsRPCBusy() bool { t.mu.Lock(); defer t.mu.Unlock(); return t.rpcBusy }

// RPCFrame records everything needed to resume a caller after a
// thread-migration RPC response: its saved data registers, the eid it
// held before the call, the address space it was viewing, and the
// isolated stack range mapped for this frame.
type RPCFrame struct {
	SavedRegs   [4]uint64
	SavedEid    defs.Tid_t
	SavedVM     *vmem.AddressSpace
	StackBase   uint64
	StackSize   uint64
	StackPFrame pmem.Frame
}

// PushRPCFrame appends f to t's RPC stack, failing with ERR_OOMEM if
// that would exceed maxDepth frames -- the current frame is left
// intact on failure.
func (t *TCB) PushRPCFrame(f RPCFrame, maxDepth int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.RPCFrames) >= maxDepth {
		return defs.ERR_OOMEM
	}
	t.RPCFrames = append(t.RPCFrames, f)
	return defs.OK
}

// PopRPCFrame removes and returns the top RPC frame, failing with
// ERR_INVAL if the stack is empty (a response at depth 0).
func (t *TCB) PopRPCFrame() (RPCFrame, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.RPCFrames)
	if n == 0 {
		return RPCFrame{}, defs.ERR_INVAL
	}
	f := t.RPCFrames[n-1]
	t.RPCFrames = t.RPCFrames[:n-1]
	return f, defs.OK
}

// PeekRPCFrame returns the top RPC frame without removing it.
func (t *TCB) PeekRPCFrame() (RPCFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.RPCFrames)
	if n == 0 {
		return RPCFrame{}, false
	}
	return t.RPCFrames[n-1], true
}

// RPCDepth returns the number of frames currently on t's RPC stack.
func (t *TCB) RPCDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.RPCFrames)
}

// SetEid sets t's current effective process id.
func (t *TCB) SetEid(eid defs.Tid_t) { t.mu.Lock(); t.Eid = eid; t.mu.Unlock() }

// GetEid returns t's current effective process id.
func (t *TCB) GetEid() defs.Tid_t { t.mu.Lock(); defer t.mu.Unlock(); return t.Eid }

// SetRPCVM installs vm as t's currently active address space.
func (t *TCB) SetRPCVM(vm *vmem.AddressSpace) { t.mu.Lock(); t.RPCVM = vm; t.mu.Unlock() }

// GetRPCVM returns t's currently active address space.
func (t *TCB) GetRPCVM() *vmem.AddressSpace { t.mu.Lock(); defer t.mu.Unlock(); return t.RPCVM }

// Caps implements caps.Holder.
func (t *TCB) Caps() defs.Cap_t { t.mu.Lock(); defer t.mu.Unlock(); return t.capsV }

// SetCapsUnchecked implements caps.Holder.
func (t *TCB) SetCapsUnchecked(c defs.Cap_t) { t.mu.Lock(); t.capsV = c; t.mu.Unlock() }

// State returns the TCB's current lifecycle state.
func (t *TCB) State() State { t.mu.Lock(); defer t.mu.Unlock(); return t.state }

func (t *TCB) setState(s State) { t.mu.Lock(); t.state = s; t.mu.Unlock() }

// SetCanary writes the stack-base magic word.
func (t *TCB) SetCanary() { t.Canary = canaryMagic }

// CheckCanary reports true if the canary has been corrupted, matching
// the original kernel's check_canary (equal to the magic means intact,
// hence false).
func (t *TCB) CheckCanary() bool { return t.Canary != canaryMagic }

// Table owns every live TCB, keyed by tid, plus the backing stores new
// threads draw kernel stacks and address spaces from.
type Table struct {
	pm      *pmem.Allocator
	ordtbl  *memconst.Table
	byTid   *hashtable.Hashtable_t[defs.Tid_t, *TCB]
	nextTid uint64
}

// NewTable builds an empty Table. By convention the first CreateProc
// call made against a fresh Table is the init process and receives
// tid == TID_INIT.
func NewTable(pm *pmem.Allocator, ordtbl *memconst.Table) *Table {
	return &Table{
		pm:      pm,
		ordtbl:  ordtbl,
		byTid:   hashtable.New[defs.Tid_t, *TCB](64, func(t defs.Tid_t) uint32 { return hashtable.HashUint64(uint64(t)) }),
		nextTid: uint64(defs.TID_INIT) - 1,
	}
}

func (tb *Table) allocTid() defs.Tid_t {
	return defs.Tid_t(atomic.AddUint64(&tb.nextTid, 1))
}

// Lookup returns the TCB for tid, if live.
func (tb *Table) Lookup(tid defs.Tid_t) (*TCB, bool) {
	return tb.byTid.Get(tid)
}

func (tb *Table) allocKStack() (pmem.Frame, defs.Err_t) {
	return tb.pm.Alloc(limits.KernelStackPageOrder)
}

// CreateProc allocates a kernel stack, a fresh address space, and a TCB
// that is its own process root: pid == rid == eid == tid.
func (tb *Table) CreateProc(entry uint64, initialCaps defs.Cap_t) (*TCB, defs.Err_t) {
	kstack, err := tb.allocKStack()
	if err != defs.OK {
		return nil, err
	}
	vm, err := vmem.New(tb.ordtbl, tb.pm)
	if err != defs.OK {
		tb.pm.FreeChunk(limits.KernelStackPageOrder, kstack)
		return nil, err
	}
	tid := tb.allocTid()
	t := &TCB{
		Tid: tid, Pid: tid, Eid: tid, Rid: tid,
		capsV: initialCaps, ProcVM: vm, RPCVM: vm,
		Entry: entry, KStack: kstack, parent: defs.TID_INVALID,
		children: make(map[defs.Tid_t]bool),
	}
	t.SetCanary()
	t.setState(NEW)
	tb.byTid.Set(tid, t)
	stats.TidCount.Inc()
	return t, defs.OK
}

// CreateThread allocates a new kernel stack and TCB sharing parent's
// address space and process/root ids.
func (tb *Table) CreateThread(parent *TCB) (*TCB, defs.Err_t) {
	kstack, err := tb.allocKStack()
	if err != defs.OK {
		return nil, err
	}
	tid := tb.allocTid()
	parent.mu.Lock()
	pid, rid, vm, capsV := parent.Pid, parent.Rid, parent.ProcVM, parent.capsV
	parent.mu.Unlock()

	t := &TCB{
		Tid: tid, Pid: pid, Eid: tid, Rid: rid,
		capsV: capsV, ProcVM: vm, RPCVM: vm,
		KStack: kstack, parent: parent.Tid,
		children: make(map[defs.Tid_t]bool),
	}
	t.SetCanary()
	t.setState(NEW)
	tb.byTid.Set(tid, t)

	parent.mu.Lock()
	parent.children[tid] = true
	parent.mu.Unlock()
	stats.TidCount.Inc()
	return t, defs.OK
}

// Fork creates a new process that is a copy-on-write clone of parent's
// address space, inheriting parent's capabilities.
func (tb *Table) Fork(parent *TCB, vmKern uint64) (*TCB, defs.Err_t) {
	parent.mu.Lock()
	parentCaps := parent.capsV
	parent.mu.Unlock()

	child, err := tb.CreateProc(parent.Entry, parentCaps)
	if err != defs.OK {
		return nil, err
	}
	if err := parent.ProcVM.CloneUser(child.ProcVM, vmKern); err != defs.OK {
		return nil, err
	}

	parent.mu.Lock()
	parent.children[child.Tid] = true
	parent.mu.Unlock()
	child.mu.Lock()
	child.parent = parent.Tid
	child.mu.Unlock()
	return child, defs.OK
}

// ELFLoader loads a binary image into an address space and reports its
// entry point, provided by the boot component.
type ELFLoader interface {
	Load(as *vmem.AddressSpace, binaryAddr uint64) (entry uint64, err error)
}

// Spawn creates a new process, loads binaryAddr via loader, and queues
// SYS_USER_SPAWNED for delivery to its callback on first schedule.
func (tb *Table) Spawn(loader ELFLoader, binaryAddr uint64, initialCaps defs.Cap_t) (*TCB, defs.Err_t) {
	t, err := tb.CreateProc(0, initialCaps)
	if err != defs.OK {
		return nil, err
	}
	entry, lerr := loader.Load(t.ProcVM, binaryAddr)
	if lerr != nil {
		tb.teardown(t)
		return nil, defs.ERR_INVAL
	}
	t.mu.Lock()
	t.Entry = entry
	t.PendingD0 = defs.SYS_USER_SPAWNED
	t.HasPending = true
	t.mu.Unlock()
	return t, defs.OK
}

// Exec replaces the caller's own image in place, reusing its TCB.
func (tb *Table) Exec(self *TCB, loader ELFLoader, binaryAddr uint64) defs.Err_t {
	entry, err := loader.Load(self.ProcVM, binaryAddr)
	if err != nil {
		return defs.ERR_INVAL
	}
	self.mu.Lock()
	self.Entry = entry
	self.mu.Unlock()
	return defs.OK
}

// Detach severs parent linkage immediately, reparenting t to init so a
// later parent death cannot orphan it a second time.
func (tb *Table) Detach(t *TCB) defs.Err_t {
	t.mu.Lock()
	oldParent := t.parent
	t.parent = defs.TID_INIT
	t.mu.Unlock()

	if oldParent != defs.TID_INVALID {
		if p, ok := tb.byTid.Get(oldParent); ok {
			p.mu.Lock()
			delete(p.children, t.Tid)
			p.mu.Unlock()
		}
	}
	if init, ok := tb.byTid.Get(defs.TID_INIT); ok && init != t {
		init.mu.Lock()
		init.children[t.Tid] = true
		init.mu.Unlock()
	}
	return defs.OK
}

// Exit marks t DEAD, reparents any live children to init, and hands
// control to swapToTid if it names a live thread.
func (tb *Table) Exit(t *TCB, swapToTid defs.Tid_t) (*TCB, defs.Err_t) {
	t.mu.Lock()
	t.state = DEAD
	kids := make([]defs.Tid_t, 0, len(t.children))
	for k := range t.children {
		kids = append(kids, k)
	}
	isRoot := t.Pid == t.Tid
	kstack := t.KStack
	procVM := t.ProcVM
	t.mu.Unlock()

	for _, kid := range kids {
		if c, ok := tb.byTid.Get(kid); ok {
			c.mu.Lock()
			c.parent = defs.TID_INIT
			wasAlive := c.state != DEAD
			if wasAlive {
				c.state = ORPHAN
			}
			c.mu.Unlock()
			if init, ok := tb.byTid.Get(defs.TID_INIT); ok {
				init.mu.Lock()
				init.children[kid] = true
				init.mu.Unlock()
			}
		}
	}

	if isRoot {
		tb.pm.FreeChunk(limits.KernelStackPageOrder, kstack)
		// The process root owns its address space outright; a plain
		// thread shares it with siblings still running, so only the
		// root's exit tears it down.
		procVM.Destroy()
	}
	stats.TidCount.Dec()

	if swapToTid == defs.TID_INVALID {
		return nil, defs.OK
	}
	return tb.Swap(swapToTid)
}

func (tb *Table) teardown(t *TCB) {
	tb.pm.FreeChunk(limits.KernelStackPageOrder, t.KStack)
	tb.byTid.Del(t.Tid)
}

// Swap cooperatively switches to tid, marking it RUNNING. There is no
// preemption point outside an explicit Swap, IPC block, or trap return.
func (tb *Table) Swap(tid defs.Tid_t) (*TCB, defs.Err_t) {
	t, ok := tb.byTid.Get(tid)
	if !ok {
		return nil, defs.ERR_NF
	}
	t.mu.Lock()
	if t.state == DEAD {
		t.mu.Unlock()
		return nil, defs.ERR_INVAL
	}
	t.state = RUNNING
	t.mu.Unlock()
	return t, defs.OK
}

// HasCap reports whether t holds every bit in want.
func HasCap(t *TCB, want defs.Cap_t) bool {
	return caps.Has(t, want)
}

// Reap removes every DEAD thread reparented to init, freeing its
// bookkeeping slot, and returns how many it removed. Called repeatedly
// by init's perpetual low-priority reaper loop (boot runs one in a
// goroutine that never stops).
func (tb *Table) Reap() int {
	init, ok := tb.byTid.Get(defs.TID_INIT)
	if !ok {
		return 0
	}
	init.mu.Lock()
	dead := make([]defs.Tid_t, 0)
	for kid := range init.children {
		if c, ok := tb.byTid.Get(kid); ok {
			c.mu.Lock()
			if c.state == DEAD {
				dead = append(dead, kid)
			}
			c.mu.Unlock()
		}
	}
	for _, kid := range dead {
		delete(init.children, kid)
	}
	init.mu.Unlock()

	for _, kid := range dead {
		tb.byTid.Del(kid)
	}
	return len(dead)
}
