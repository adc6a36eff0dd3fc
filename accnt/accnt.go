// Package accnt tracks per-thread kernel/user time, used by the stat and
// poweroff diagnostics path exposed through uapi. This kernel has no
// POSIX-compatible rusage ABI, so callers read the nanosecond fields
// directly rather than through a byte-encoded rusage struct.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates per-thread accounting information. Both Userns and
// Sysns store runtime in nanoseconds. The embedded mutex allows callers to
// take a consistent snapshot when merging usage across a process's
// threads.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Finish finalizes accounting by adding the time elapsed since since to
// system time -- called when a thread migrates out via RPC or blocks.
func (a *Accnt_t) Finish(since int64) {
	a.Systadd(a.Now() - since)
}

// Add merges another thread's accounting record into this one (used when
// a process-wide total is requested for conf_get diagnostics).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.mu.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.mu.Unlock()
}

// Snapshot returns a consistent (Userns, Sysns) pair.
func (a *Accnt_t) Snapshot() (userns, sysns int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return atomic.LoadInt64(&a.Userns), atomic.LoadInt64(&a.Sysns)
}
