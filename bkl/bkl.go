// Package bkl implements the kernel's single coarse-grained lock. Every
// trap handler acquires it on entry and releases it immediately before
// returning to user mode, linearizing every mutation of pmem, vmem, the
// TCB table, RPC stacks, the IRQ map, the IPI queue and the timer list.
package bkl

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Lock is the Big Kernel Lock. It is a plain mutex with an explicit
// contended-acquire hint, mirroring a spinlock's acquire/release
// atomics plus an "optional_pause" hint -- a no-op on this ISA,
// implemented here as a scheduler yield so a hosted test doesn't spin a
// whole OS thread.
type Lock struct {
	mu       sync.Mutex
	held     int32
	acquires int64
}

// Acquire blocks until the lock is held by the calling goroutine.
func (l *Lock) Acquire() {
	for !atomic.CompareAndSwapInt32(&l.held, 0, 1) {
		runtime.Gosched()
	}
	l.mu.Lock()
	atomic.AddInt64(&l.acquires, 1)
}

// Release releases the lock. Must be called exactly once per Acquire.
func (l *Lock) Release() {
	l.mu.Unlock()
	atomic.StoreInt32(&l.held, 0)
}

// Held reports whether the lock is currently held by anyone -- for
// assertions, not for synchronization (racy by construction).
func (l *Lock) Held() bool {
	return atomic.LoadInt32(&l.held) != 0
}

// Acquires returns the number of successful Acquire calls, used by
// concurrency property tests to check that exactly one goroutine was
// ever inside the critical section at a time.
func (l *Lock) Acquires() int64 {
	return atomic.LoadInt64(&l.acquires)
}

// WithLock runs fn with the BKL held, the shape every syscall and trap
// handler uses: acquire on entry, release immediately before returning
// to user.
func WithLock(l *Lock, fn func()) {
	l.Acquire()
	defer l.Release()
	fn()
}
