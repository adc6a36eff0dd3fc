package timers

import "testing"

func TestNextReflectsEarliestDeadline(t *testing.T) {
	l := NewList()
	l.Set(0, 1, 0, 500, 0, false)
	l.Set(0, 2, 0, 100, 0, false)
	l.Set(0, 3, 0, 900, 0, false)

	d, ok := l.Next()
	if !ok || d != 100 {
		t.Fatalf("next = %d,%v want 100,true", d, ok)
	}
}

func TestRelativeDeadlineAddsNow(t *testing.T) {
	l := NewList()
	l.Set(0, 1, 1000, 50, 0, true)
	d, _ := l.Next()
	if d != 1050 {
		t.Fatalf("deadline = %d, want 1050", d)
	}
}

func TestExpirePopsDueTimersInOrder(t *testing.T) {
	l := NewList()
	l.Set(0, 1, 0, 100, 0, false)
	l.Set(0, 2, 0, 50, 0, false)
	l.Set(0, 3, 0, 200, 0, false)

	due := l.Expire(100)
	if len(due) != 2 || due[0].Tid != 2 || due[1].Tid != 1 {
		t.Fatalf("unexpected expiry set: %+v", due)
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}

func TestExpireReinsertsRepeatingTimers(t *testing.T) {
	l := NewList()
	l.Set(0, 1, 0, 100, 50, false)

	due := l.Expire(100)
	if len(due) != 1 {
		t.Fatalf("expected one expired timer, got %d", len(due))
	}
	d, ok := l.Next()
	if !ok || d != 150 {
		t.Fatalf("next = %d,%v want 150,true", d, ok)
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}

func TestCancelRemovesPendingTimer(t *testing.T) {
	l := NewList()
	id := l.Set(0, 1, 0, 100, 0, false)
	if !l.Cancel(id) {
		t.Fatal("expected cancel to find the timer")
	}
	if l.Len() != 0 {
		t.Fatalf("len = %d, want 0", l.Len())
	}
	if l.Cancel(id) {
		t.Fatal("expected second cancel to fail")
	}
}

func TestNextEmptyListReportsFalse(t *testing.T) {
	l := NewList()
	if _, ok := l.Next(); ok {
		t.Fatal("expected ok=false on empty list")
	}
}
