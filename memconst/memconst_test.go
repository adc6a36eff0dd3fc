package memconst

import "testing"

func TestSv39Geometry(t *testing.T) {
	tbl := Sv39()
	if tbl.MaxOrder() != 2 {
		t.Fatalf("max order = %d, want 2", tbl.MaxOrder())
	}
	if tbl.Size(0) != 4096 {
		t.Fatalf("O0 size = %d, want 4096", tbl.Size(0))
	}
	if tbl.Size(1) != 2<<20 {
		t.Fatalf("O1 size = %d, want 2MiB", tbl.Size(1))
	}
	if tbl.Size(2) != 1<<30 {
		t.Fatalf("O2 size = %d, want 1GiB", tbl.Size(2))
	}
	if tbl.Width(1) != 512 {
		t.Fatalf("O1 width = %d, want 512", tbl.Width(1))
	}
}

func TestSv32Geometry(t *testing.T) {
	tbl := Sv32()
	if tbl.MaxOrder() != 1 {
		t.Fatalf("max order = %d, want 1", tbl.MaxOrder())
	}
	if tbl.Size(1) != 4<<20 {
		t.Fatalf("O1 size = %d, want 4MiB", tbl.Size(1))
	}
}

func TestOrderOutOfRangePanics(t *testing.T) {
	tbl := Sv39()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range order")
		}
	}()
	tbl.Size(99)
}

func TestNearestOrder(t *testing.T) {
	tbl := Sv39()
	if tbl.NearestOrder(1) != 0 {
		t.Fatal("expected order 0 for small size")
	}
	if tbl.NearestOrder(4097) != 1 {
		t.Fatal("expected order 1 for size just over a page")
	}
	if tbl.NearestOrder(1 << 30) != 2 {
		t.Fatal("expected order 2 for a full gigapage")
	}
}

func TestAlign(t *testing.T) {
	tbl := Sv39()
	if got := tbl.Align(0x1234, 0); got != 0x1000 {
		t.Fatalf("align = %#x, want %#x", got, 0x1000)
	}
}
