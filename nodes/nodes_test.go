package nodes

import (
	"testing"

	"capkern/defs"
	"capkern/memconst"
	"capkern/pmem"
)

func smallTable() *memconst.Table {
	return memconst.NewTable([]uint{1, 1, 1})
}

type record struct {
	a, b int64
}

func TestGetFillsThenGrowsRegion(t *testing.T) {
	pm := pmem.New(smallTable(), 16)
	p := NewPool[record](pm, 0, 4)

	var handles []Handle
	for i := 0; i < 4; i++ {
		h, rec, err := p.Get()
		if err != defs.OK {
			t.Fatalf("get %d: %v", i, err)
		}
		rec.a = int64(i)
		handles = append(handles, h)
	}
	if p.Len() != 4 {
		t.Fatalf("len = %d, want 4", p.Len())
	}

	h, _, err := p.Get()
	if err != defs.OK {
		t.Fatalf("get after fill: %v", err)
	}
	handles = append(handles, h)
	if p.Len() != 5 {
		t.Fatalf("len = %d, want 5 after spilling into a second region", p.Len())
	}
}

func TestFreeThenLookupFails(t *testing.T) {
	pm := pmem.New(smallTable(), 16)
	p := NewPool[record](pm, 0, 4)

	h, rec, _ := p.Get()
	rec.a = 42

	if err := p.Free(h); err != defs.OK {
		t.Fatalf("free: %v", err)
	}
	if _, ok := p.Lookup(h); ok {
		t.Fatal("expected stale handle to fail lookup")
	}
}

func TestEmptyNonLastRegionReturnsPageToAllocator(t *testing.T) {
	pm := pmem.New(smallTable(), 16)
	p := NewPool[record](pm, 0, 1)

	before := pm.FreeFrames()
	h1, _, _ := p.Get() // region 0
	_, _ = pm.Used(), 0
	h2, _, _ := p.Get() // region 1

	if err := p.Free(h1); err != defs.OK {
		t.Fatalf("free region 0: %v", err)
	}
	if pm.FreeFrames() != before-1 {
		t.Fatalf("expected one page reclaimed, free frames = %d want %d", pm.FreeFrames(), before-1)
	}

	if _, ok := p.Lookup(h2); !ok {
		t.Fatal("surviving region's handle should still resolve")
	}
}

func TestLastRegionNeverReturnedWhileEmpty(t *testing.T) {
	pm := pmem.New(smallTable(), 16)
	p := NewPool[record](pm, 0, 2)

	h, _, _ := p.Get()
	if err := p.Free(h); err != defs.OK {
		t.Fatalf("free: %v", err)
	}
	if len(p.regions) != 1 {
		t.Fatalf("expected the sole region to be kept around, got %d regions", len(p.regions))
	}
}

func TestGenerationPreventsHandleReuseAcrossSlots(t *testing.T) {
	pm := pmem.New(smallTable(), 16)
	p := NewPool[record](pm, 0, 1)

	h1, _, _ := p.Get()
	if err := p.Free(h1); err != defs.OK {
		t.Fatal(err)
	}
	h2, _, _ := p.Get() // reuses the same region+slot, bumped generation
	if h1.region == h2.region && h1.slot == h2.slot && h1.gen == h2.gen {
		t.Fatal("expected generation to change on reuse")
	}
	if _, ok := p.Lookup(h1); ok {
		t.Fatal("old handle must not resolve after slot reuse")
	}
	if _, ok := p.Lookup(h2); !ok {
		t.Fatal("new handle should resolve")
	}
}
