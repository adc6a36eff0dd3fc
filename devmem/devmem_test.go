package devmem

import (
	"testing"

	"capkern/defs"
	"capkern/memconst"
	"capkern/pmem"
	"capkern/vmem"
)

func newAS(t *testing.T) *vmem.AddressSpace {
	t.Helper()
	tbl := memconst.NewTable([]uint{2, 2, 2})
	pm := pmem.New(tbl, 64)
	as, err := vmem.New(tbl, pm)
	if err != defs.OK {
		t.Fatal(err)
	}
	return as
}

func TestIdentityMapTranslatesToSamePhysAddr(t *testing.T) {
	as := newAS(t)
	if err := IdentityMap(as, 0x10000, 4096, vmem.R|vmem.W); err != defs.OK {
		t.Fatalf("identity map: %v", err)
	}
	frame, flags, ok := as.Translate(0x10000)
	if !ok {
		t.Fatal("expected identity mapping to resolve")
	}
	if uint64(frame) != 0x10000/memconst.PageSize {
		t.Fatalf("frame = %d, want %d", frame, 0x10000/memconst.PageSize)
	}
	if flags&(vmem.R|vmem.W|vmem.V) != (vmem.R | vmem.W | vmem.V) {
		t.Fatalf("expected R|W|V flags, got %v", flags)
	}
}

func TestRegisterAndUnregisterByOwner(t *testing.T) {
	as := newAS(t)
	r := NewRegistry()
	id, err := r.Register(as, 0x20000, 0x30000, 8192, vmem.R|vmem.W, 7)
	if err != defs.OK {
		t.Fatalf("register: %v", err)
	}
	if _, _, ok := as.Translate(0x20000); !ok {
		t.Fatal("expected window to be mapped")
	}
	if err := r.Unregister(as, id, 99, false); err != defs.ERR_PERM {
		t.Fatalf("expected ERR_PERM for non-owner, got %v", err)
	}
	if err := r.Unregister(as, id, 7, false); err != defs.OK {
		t.Fatalf("unregister by owner: %v", err)
	}
	if _, _, ok := as.Translate(0x20000); ok {
		t.Fatal("expected window to be unmapped")
	}
}

func TestUnregisterByIRQCapHolder(t *testing.T) {
	as := newAS(t)
	r := NewRegistry()
	id, _ := r.Register(as, 0x40000, 0x50000, 4096, vmem.R, 7)
	if err := r.Unregister(as, id, 99, true); err != defs.OK {
		t.Fatalf("expected CAP_IRQ holder to unregister, got %v", err)
	}
}

func TestUnalignedRegisterRejected(t *testing.T) {
	as := newAS(t)
	r := NewRegistry()
	if _, err := r.Register(as, 1, 0x60000, 4096, vmem.R, 1); err != defs.ERR_ALIGN {
		t.Fatalf("expected ERR_ALIGN, got %v", err)
	}
}
