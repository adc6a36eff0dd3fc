package uapi

import (
	"testing"

	"capkern/defs"
	"capkern/devmem"
	"capkern/ipc"
	"capkern/ipi"
	"capkern/irq"
	"capkern/memconst"
	"capkern/pmem"
	"capkern/shmem"
	"capkern/tcb"
	"capkern/timers"
)

func newKernel(t *testing.T) (*Kernel, *tcb.TCB) {
	t.Helper()
	ordtbl := memconst.NewTable([]uint{2, 2, 2})
	pm := pmem.New(ordtbl, 256)
	tb := tcb.NewTable(pm, ordtbl)
	k := &Kernel{
		Tcb:    tb,
		IPC:    ipc.NewRegistry(),
		IPI:    ipi.NewQueue(),
		IRQ:    irq.NewTable(),
		Timers: timers.NewList(),
		Dev:    devmem.NewRegistry(),
		Shared: shmem.NewTable(),
		PM:     pm,
		Ord:    ordtbl,
	}
	caller, err := tb.CreateProc(0, defs.CAP_ALL)
	if err != defs.OK {
		t.Fatalf("createproc: %v", err)
	}
	return k, caller
}

func TestDispatchNoop(t *testing.T) {
	k, caller := newKernel(t)
	r := Dispatch(k, caller, defs.SYS_NOOP, 0, 0, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("status = %v, want OK", r.Status)
	}
}

func TestDispatchUnknownSyscallFails(t *testing.T) {
	k, caller := newKernel(t)
	r := Dispatch(k, caller, defs.SyscallNo(9999), 0, 0, 0, 0, 0)
	if r.Status != defs.ERR_INVAL {
		t.Fatalf("status = %v, want ERR_INVAL", r.Status)
	}
}

func TestConfGetTidCount(t *testing.T) {
	k, caller := newKernel(t)
	r := Dispatch(k, caller, defs.SYS_CONF_GET, uint64(defs.CONF_TID_COUNT), 0, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("conf_get: %v", r.Status)
	}
	if r.A0 == 0 {
		t.Fatal("expected a nonzero live tid count after CreateProc")
	}
}

func TestConfGetUnknownKeyFails(t *testing.T) {
	k, caller := newKernel(t)
	r := Dispatch(k, caller, defs.SYS_CONF_GET, 999, 0, 0, 0, 0)
	if r.Status != defs.ERR_INVAL {
		t.Fatalf("status = %v, want ERR_INVAL", r.Status)
	}
}

func TestCreateThreadSyscall(t *testing.T) {
	k, caller := newKernel(t)
	r := Dispatch(k, caller, defs.SYS_CREATE, 0, 0, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("create: %v", r.Status)
	}
	child, ok := k.Tcb.Lookup(defs.Tid_t(r.Id))
	if !ok || child.Pid != caller.Pid {
		t.Fatal("expected the new thread to share caller's process")
	}
}

func TestSetCapRequiresCapCaps(t *testing.T) {
	k, caller := newKernel(t)
	caller.SetCapsUnchecked(defs.CAP_PROC) // no CAP_CAPS
	other, _ := k.Tcb.CreateProc(0, 0)

	r := Dispatch(k, caller, defs.SYS_SET_CAP, uint64(other.Tid), uint64(defs.CAP_PROC), 0, 0, 0)
	if r.Status != defs.ERR_PERM {
		t.Fatalf("status = %v, want ERR_PERM", r.Status)
	}
}

func TestReqMemMapsAndReportsFrame(t *testing.T) {
	k, caller := newKernel(t)
	r := Dispatch(k, caller, defs.SYS_REQ_MEM, 0, 0x5000_0000, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("req_mem: %v", r.Status)
	}
	if _, _, ok := caller.ProcVM.Translate(0x5000_0000); !ok {
		t.Fatal("expected req_mem to map the requested page")
	}
}

func TestIPCServerThenReqProcDelivers(t *testing.T) {
	k, caller := newKernel(t)
	server, _ := k.Tcb.CreateProc(0, 0)

	r := Dispatch(k, server, defs.SYS_IPC_SERVER, 0x9000, 0, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("ipc_server: %v", r.Status)
	}

	r = Dispatch(k, caller, defs.SYS_IPC_REQ_PROC, uint64(server.Tid), 11, 22, 33, 44)
	if r.Status != defs.OK {
		t.Fatalf("ipc_req_proc: %v", r.Status)
	}
	if r.Id != 0x9000 {
		t.Fatalf("pc = %#x, want 0x9000", r.Id)
	}
	if r.A0 != 11 || r.A1 != 22 || r.A2 != 33 || r.A3 != 44 {
		t.Fatalf("payload = %d,%d,%d,%d, want 11,22,33,44", r.A0, r.A1, r.A2, r.A3)
	}
}

func TestTimebaseReportsFixedFrequency(t *testing.T) {
	k, caller := newKernel(t)
	r := Dispatch(k, caller, defs.SYS_TIMEBASE, 0, 0, 0, 0, 0)
	if r.Status != defs.OK || r.A0 != TimebaseHz {
		t.Fatalf("timebase = %v,%d want OK,%d", r.Status, r.A0, TimebaseHz)
	}
}

func TestIRQReqRequiresCapIRQ(t *testing.T) {
	k, caller := newKernel(t)
	caller.SetCapsUnchecked(defs.CAP_PROC) // no CAP_IRQ

	r := Dispatch(k, caller, defs.SYS_IRQ_REQ, 3, 0, 0, 0, 0)
	if r.Status != defs.ERR_PERM {
		t.Fatalf("status = %v, want ERR_PERM", r.Status)
	}
}

func TestIRQReqWithCapIRQRegisters(t *testing.T) {
	k, caller := newKernel(t)
	caller.SetCapsUnchecked(defs.CAP_IRQ)

	r := Dispatch(k, caller, defs.SYS_IRQ_REQ, 3, 0, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("irq_req: %v", r.Status)
	}
}

func TestSharedmemOwnerFreeBlockedWhilePeerReferences(t *testing.T) {
	k, owner := newKernel(t)
	peer, _ := k.Tcb.CreateProc(0, 0)

	r := Dispatch(k, owner, defs.SYS_REQ_SHAREDMEM, 0, 0x4000_0000, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("req_sharedmem: %v", r.Status)
	}
	frame := r.A0

	r = Dispatch(k, peer, defs.SYS_REF_SHAREDMEM, frame, 0x4000_0000, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("ref_sharedmem: %v", r.Status)
	}

	r = Dispatch(k, owner, defs.SYS_FREE_MEM, 0x4000_0000, 0, 0, 0, 0)
	if r.Status != defs.ERR_PERM {
		t.Fatalf("owner free_mem while referenced: status = %v, want ERR_PERM", r.Status)
	}

	r = Dispatch(k, peer, defs.SYS_FREE_MEM, 0x4000_0000, 0, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("peer free_mem: %v", r.Status)
	}

	r = Dispatch(k, owner, defs.SYS_FREE_MEM, 0x4000_0000, 0, 0, 0, 0)
	if r.Status != defs.OK {
		t.Fatalf("owner free_mem once unreferenced: %v", r.Status)
	}
}

func TestSharedmemRefUnknownFrameFails(t *testing.T) {
	k, caller := newKernel(t)
	r := Dispatch(k, caller, defs.SYS_REF_SHAREDMEM, 0xffff, 0x4000_0000, 0, 0, 0)
	if r.Status != defs.ERR_NF {
		t.Fatalf("status = %v, want ERR_NF", r.Status)
	}
}
