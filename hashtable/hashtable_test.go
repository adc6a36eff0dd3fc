package hashtable

import "testing"

func TestSetGetDel(t *testing.T) {
	ht := New[uint64, string](8, HashUint64)

	if !ht.Set(1, "a") {
		t.Fatal("expected insert to succeed")
	}
	if ht.Set(1, "b") {
		t.Fatal("expected duplicate insert to fail")
	}
	v, ok := ht.Get(1)
	if !ok || v != "a" {
		t.Fatalf("got %q, %v", v, ok)
	}
	if !ht.Del(1) {
		t.Fatal("expected delete to succeed")
	}
	if ht.Del(1) {
		t.Fatal("expected second delete to fail")
	}
	if _, ok := ht.Get(1); ok {
		t.Fatal("expected key to be gone")
	}
}

func TestLenAcrossBuckets(t *testing.T) {
	ht := New[uint64, int](4, HashUint64)
	for i := uint64(0); i < 20; i++ {
		ht.Set(i, int(i))
	}
	if ht.Len() != 20 {
		t.Fatalf("len = %d, want 20", ht.Len())
	}
}
