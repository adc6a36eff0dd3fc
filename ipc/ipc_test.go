package ipc

import (
	"testing"

	"capkern/defs"
	"capkern/ipi"
	"capkern/limits"
	"capkern/memconst"
	"capkern/pmem"
	"capkern/tcb"
)

func newWorld(t *testing.T) (*tcb.Table, *pmem.Allocator, *Registry) {
	t.Helper()
	ordtbl := memconst.NewTable([]uint{2, 2, 2})
	pm := pmem.New(ordtbl, 1024) // room for limits.MaxRPCDepth stack frames
	return tcb.NewTable(pm, ordtbl), pm, NewRegistry()
}

func TestReqDeliversToRegisteredServer(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	if err := reg.RegisterServer(server.Pid, 0x9000); err != defs.OK {
		t.Fatal(err)
	}

	d, err := Req(client, server, pm, reg, [4]uint64{1, 2, 3, 4}, 10, 20, 30, 40)
	if err != defs.OK {
		t.Fatalf("req: %v", err)
	}
	if d.PC != 0x9000 {
		t.Fatalf("pc = %#x, want 0x9000", d.PC)
	}
	if d.SourceTid != client.Tid {
		t.Fatal("expected delivery to name the client as source")
	}
	if d.D != [4]uint64{10, 20, 30, 40} {
		t.Fatalf("data = %v, want [10 20 30 40]", d.D)
	}
	if client.GetEid() != server.Pid {
		t.Fatalf("eid = %d, want %d", client.GetEid(), server.Pid)
	}
	if client.RPCDepth() != 1 {
		t.Fatalf("depth = %d, want 1", client.RPCDepth())
	}
	if _, _, ok := server.ProcVM.Translate(limits.RPCStackBase); !ok {
		t.Fatal("expected the fixed RPC stack window to be mapped in the server's address space")
	}
}

func TestReqWithoutServerFails(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	if _, err := Req(client, server, pm, reg, [4]uint64{}, 0, 0, 0, 0); err != defs.ERR_NF {
		t.Fatalf("expected ERR_NF, got %v", err)
	}
}

func TestRespRestoresCallerAndUnmapsWindow(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	reg.RegisterServer(server.Pid, 0x9000)

	Req(client, server, pm, reg, [4]uint64{1, 2, 3, 4}, 0, 0, 0, 0)
	resp, err := Resp(client, server, pm, 100, 200, 300, 400)
	if err != defs.OK {
		t.Fatalf("resp: %v", err)
	}
	if resp.SavedRegs != [4]uint64{1, 2, 3, 4} {
		t.Fatalf("saved regs = %v, want [1 2 3 4]", resp.SavedRegs)
	}
	if resp.D != [4]uint64{100, 200, 300, 400} {
		t.Fatalf("response data = %v", resp.D)
	}
	if client.GetEid() != client.Pid {
		t.Fatal("expected eid restored to client's own pid")
	}
	if client.RPCDepth() != 0 {
		t.Fatalf("depth = %d, want 0", client.RPCDepth())
	}
	if _, _, ok := server.ProcVM.Translate(limits.RPCStackBase); ok {
		t.Fatal("expected the RPC stack window to be unmapped after resp")
	}
	if server.IsRPCBusy() {
		t.Fatal("expected server's busy flag cleared after resp")
	}
}

func TestRespUnderflowRejected(t *testing.T) {
	tb, pm, _ := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	if _, err := Resp(client, server, pm, 0, 0, 0, 0); err != defs.ERR_INVAL {
		t.Fatalf("expected ERR_INVAL, got %v", err)
	}
}

func TestReqOverflowRejected(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	reg.RegisterServer(server.Pid, 0x9000)

	for i := 0; i < limits.MaxRPCDepth; i++ {
		if _, err := Req(client, server, pm, reg, [4]uint64{}, 0, 0, 0, 0); err != defs.OK {
			t.Fatalf("req %d: %v", i, err)
		}
	}
	if _, err := Req(client, server, pm, reg, [4]uint64{}, 0, 0, 0, 0); err != defs.ERR_OOMEM {
		t.Fatalf("expected ERR_OOMEM at max depth, got %v", err)
	}
}

func TestReqThreadDeliversToThreadCallback(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	reg.RegisterServer(server.Pid, 0x9000)
	reg.RegisterThreadServer(server.Tid, 0xb000)

	d, err := ReqThread(client, server, pm, reg, [4]uint64{}, 0, 0, 0, 0)
	if err != defs.OK {
		t.Fatalf("reqthread: %v", err)
	}
	if d.PC != 0xb000 {
		t.Fatalf("pc = %#x, want the thread's own callback 0xb000", d.PC)
	}
}

func TestReqThreadWithoutOwnCallbackFails(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	reg.RegisterServer(server.Pid, 0x9000) // process-wide only, no thread-specific callback

	if _, err := ReqThread(client, server, pm, reg, [4]uint64{}, 0, 0, 0, 0); err != defs.ERR_NF {
		t.Fatalf("expected ERR_NF, got %v", err)
	}
}

func TestNotifyDropsForDeadTarget(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	target, _ := tb.CreateProc(0, 0)
	tb.Exit(target, defs.TID_INVALID)

	q := ipi.NewQueue()
	_, delivered, err := Notify(client, target, pm, reg, q, 0)
	if err != defs.OK {
		t.Fatal(err)
	}
	if delivered {
		t.Fatal("expected notify to a dead thread to be silently dropped")
	}
}

func TestNotifyDeliversUserNotifyCode(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	reg.RegisterServer(server.Pid, 0x9000)

	d, delivered, err := Notify(client, server, pm, reg, ipi.NewQueue(), NOTIFY_IRQ)
	if err != defs.OK {
		t.Fatal(err)
	}
	if !delivered {
		t.Fatal("expected notify to an idle target to be delivered inline")
	}
	if d.D[0] != defs.SYS_USER_NOTIFY {
		t.Fatalf("d0 = %#x, want SYS_USER_NOTIFY (%#x)", d.D[0], defs.SYS_USER_NOTIFY)
	}
	if d.D[1] != NOTIFY_IRQ {
		t.Fatalf("d1 = %#x, want the notify flag %#x", d.D[1], NOTIFY_IRQ)
	}
}

func TestNotifyQueuesForBusyTarget(t *testing.T) {
	tb, pm, reg := newWorld(t)
	client, _ := tb.CreateProc(0, 0)
	server, _ := tb.CreateProc(0, 0)
	reg.RegisterServer(server.Pid, 0x9000)
	other, _ := tb.CreateProc(0, 0)
	reg.RegisterServer(other.Pid, 0xa000)
	Req(other, server, pm, reg, [4]uint64{}, 0, 0, 0, 0) // server now mid-RPC

	q := ipi.NewQueue()
	_, delivered, err := Notify(client, server, pm, reg, q, 0)
	if err != defs.OK {
		t.Fatal(err)
	}
	if delivered {
		t.Fatal("expected a mid-RPC target's notification to be queued, not delivered inline")
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
}
