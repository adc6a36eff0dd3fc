// Package stats provides the atomic counters used for kernel-wide resource
// accounting, principally the RAM-usage counter read back through
// conf_get(CONF_RAM_USAGE). Counters account unconditionally -- leak
// detection in tests needs them live at all times, not gated behind a
// debug build flag.
package stats

import "sync/atomic"

// Counter_t is a monotonic or bidirectional statistical counter.
type Counter_t int64

// Add adds delta (which may be negative) to the counter.
func (c *Counter_t) Add(delta int64) {
	atomic.AddInt64((*int64)(c), delta)
}

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	c.Add(1)
}

// Dec decrements the counter by one.
func (c *Counter_t) Dec() {
	c.Add(-1)
}

// Load returns the counter's current value.
func (c *Counter_t) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// RAMUsage is the kernel-wide count of physical bytes currently handed out
// by pmem. Every pmem.Alloc/FreeChunk call updates it (nodes pool pages
// come from pmem and are counted there), making it the single source of
// truth for conf_get(CONF_RAM_USAGE).
var RAMUsage Counter_t

// TidCount is the number of live TCBs, for conf_get(CONF_TID_COUNT).
var TidCount Counter_t
