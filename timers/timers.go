// Package timers maintains the kernel's deadline-ordered timer list: one
// set_timer call inserts an entry in tick order, the earliest deadline
// is always available via Next for arming the hardware comparator, and
// Expire pops and (for repeating timers) reinserts everything due by a
// given tick.
package timers

import (
	"sort"
	"sync"

	"capkern/defs"
)

// Timer is one pending deadline.
type Timer struct {
	ID       uint64
	CPUID    int
	Tid      defs.Tid_t
	Deadline uint64 // absolute tick
	Repeat   uint64 // 0 for one-shot, else re-armed at Deadline+Repeat on expiry
}

// List is the deadline-ordered timer set.
type List struct {
	mu      sync.Mutex
	entries []Timer
	nextID  uint64
}

func NewList() *List {
	return &List{}
}

// Set inserts a new timer and returns its id. deadline is an absolute
// tick count; if rel is true, deadline is first added to now.
func (l *List) Set(cpuID int, tid defs.Tid_t, now, deadline, repeat uint64, rel bool) uint64 {
	if rel {
		deadline += now
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.insertLocked(Timer{ID: id, CPUID: cpuID, Tid: tid, Deadline: deadline, Repeat: repeat})
	return id
}

func (l *List) insertLocked(t Timer) {
	i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Deadline > t.Deadline })
	l.entries = append(l.entries, Timer{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = t
}

// Cancel removes a pending timer by id. Reports whether it was found.
func (l *List) Cancel(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, t := range l.entries {
		if t.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Next returns the earliest pending deadline, for arming the hardware
// comparator. ok is false when the list is empty.
func (l *List) Next() (deadline uint64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return 0, false
	}
	return l.entries[0].Deadline, true
}

// Expire pops every timer due at or before now, reinserting repeating
// ones at their next deadline, and returns the expired set in deadline
// order for the caller to notify.
func (l *List) Expire(now uint64) []Timer {
	l.mu.Lock()
	defer l.mu.Unlock()

	var due []Timer
	i := 0
	for i < len(l.entries) && l.entries[i].Deadline <= now {
		due = append(due, l.entries[i])
		i++
	}
	l.entries = l.entries[i:]

	for _, t := range due {
		if t.Repeat > 0 {
			l.insertLocked(Timer{ID: t.ID, CPUID: t.CPUID, Tid: t.Tid, Deadline: t.Deadline + t.Repeat, Repeat: t.Repeat})
		}
	}
	return due
}

// Len returns the number of pending timers.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
