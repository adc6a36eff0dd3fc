// Package shmem tracks the live reference count behind a physical
// frame shared across address spaces via req_sharedmem/ref_sharedmem.
// A frame's owning process creates the entry; peers attaching via
// ref_sharedmem look it up by frame number (the only handle userspace
// ever sees) so every vmem.Region pointing at the same frame shares
// one counter.
package shmem

import (
	"sync"

	"capkern/defs"
	"capkern/pmem"
)

// Table maps a shared frame to the refcount every vmem.Region sharing
// it points Refs at.
type Table struct {
	mu   sync.Mutex
	refs map[pmem.Frame]*int32
}

func NewTable() *Table {
	return &Table{refs: make(map[pmem.Frame]*int32)}
}

// Create registers frame as a fresh shared mapping owned by its
// creator and returns the counter backing it, starting at zero extra
// references (matching vmem's own leaf.refs convention: zero means no
// other sharer yet). Fails ERR_EXT if frame is already tracked.
func (t *Table) Create(frame pmem.Frame) (*int32, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.refs[frame]; ok {
		return nil, defs.ERR_EXT
	}
	n := new(int32)
	t.refs[frame] = n
	return n, defs.OK
}

// Attach returns frame's existing counter and increments it, failing
// ERR_NF if frame was never registered via Create.
func (t *Table) Attach(frame pmem.Frame) (*int32, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.refs[frame]
	if !ok {
		return nil, defs.ERR_NF
	}
	*n++
	return n, defs.OK
}

// Forget drops frame's tracking entry once its owner has freed it, so
// a later allocation that reuses the same frame number starts clean.
func (t *Table) Forget(frame pmem.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.refs, frame)
}
