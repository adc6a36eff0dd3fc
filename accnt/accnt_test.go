package accnt

import "testing"

func TestUtaddSystadd(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Systadd(50)
	u, s := a.Snapshot()
	if u != 100 || s != 50 {
		t.Fatalf("got user=%d sys=%d", u, s)
	}
}

func TestAddMerges(t *testing.T) {
	var a, b Accnt_t
	a.Utadd(10)
	b.Utadd(20)
	a.Add(&b)
	u, _ := a.Snapshot()
	if u != 30 {
		t.Fatalf("merged user = %d, want 30", u)
	}
}
