// Package ipi implements the cross-core notification queue: a FIFO of
// threads with a pending notification, each optionally paired with a
// wakeup sent to its owning core (PushToCore).
package ipi

import (
	"sync"

	"capkern/defs"
)

// Queue is a FIFO of tids with a pending notification, guarded by the
// Big Kernel Lock in production use (its own mutex here lets it be
// exercised standalone in tests).
type Queue struct {
	mu      sync.Mutex
	pending []defs.Tid_t
	cores   map[defs.Tid_t]int // tid -> cpu id, recorded by PushToCore
	poked   []int
}

func NewQueue() *Queue {
	return &Queue{cores: make(map[defs.Tid_t]int)}
}

// Push enqueues tid with a pending notification.
func (q *Queue) Push(tid defs.Tid_t) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, tid)
}

// PushToCore enqueues tid and records that cpuID should be poked --
// send_ipi(t) in the kernel's own vocabulary.
func (q *Queue) PushToCore(tid defs.Tid_t, cpuID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, tid)
	q.cores[tid] = cpuID
	q.poked = append(q.poked, cpuID)
}

// Pop removes and returns the oldest pending tid, FIFO order.
func (q *Queue) Pop() (defs.Tid_t, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0, false
	}
	tid := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.cores, tid)
	return tid, true
}

// Remove drops every pending entry for tid -- called on thread death
// (unqueue_ipi) so a dead thread's stale notification is never
// delivered.
func (q *Queue) Remove(tid defs.Tid_t) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending[:0]
	for _, p := range q.pending {
		if p != tid {
			out = append(out, p)
		}
	}
	q.pending = out
	delete(q.cores, tid)
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PokedCores returns every core id poked via PushToCore, in push order,
// for test assertions.
func (q *Queue) PokedCores() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int, len(q.poked))
	copy(out, q.poked)
	return out
}
