// Package pmem implements a multi-order buddy allocator over physical
// RAM. RAM is modeled as a tree whose root has Width(maxOrder) children
// of maxOrder-1, each further subdividing down to O0, per memconst.Table.
// Every internal node is one of three states:
//
//   - Free  -- the chunk and everything beneath it is unallocated.
//   - Split -- some descendant is allocated; the chunk itself cannot be
//     handed out as a unit. A Split node only becomes eligible to merge
//     back to Free once every child is Free again.
//   - Used  -- the chunk was handed out whole by Alloc at exactly this
//     order.
//
// Allocation scans orders upward from the requested one and takes the
// leftmost free chunk at the first order that has one, then splits
// leftmost-down to the target order -- a deterministic first-fit so tests
// can predict frame assignment. A free chunk at a smaller order is taken
// before a free chunk at a larger order, even one at a lower address.
package pmem

import (
	"sync"

	"capkern/defs"
	"capkern/memconst"
	"capkern/stats"
)

// Frame identifies a physical page by its order-0 frame number.
type Frame uint64

type state uint8

const (
	stFree state = iota
	stSplit
	stUsed
)

// Allocator is a multi-order buddy allocator over nframes order-0 frames.
type Allocator struct {
	tbl       *memconst.Table
	mu        sync.Mutex
	nframes   uint64
	numChunks [memconst.MaxOrders]uint64
	status    [memconst.MaxOrders][]state
}

// New builds an Allocator managing nframes order-0 frames under the given
// order table. nframes must be exactly divisible into maxOrder-sized
// chunks.
func New(tbl *memconst.Table, nframes uint64) *Allocator {
	a := &Allocator{tbl: tbl, nframes: nframes}
	a.numChunks[0] = nframes
	for o := memconst.Order(1); o <= tbl.MaxOrder(); o++ {
		w := tbl.Width(o)
		if a.numChunks[o-1]%w != 0 {
			panic("pmem: RAM size does not divide evenly into the order table")
		}
		a.numChunks[o] = a.numChunks[o-1] / w
	}
	for o := memconst.Order(0); o <= tbl.MaxOrder(); o++ {
		a.status[o] = make([]state, a.numChunks[o])
	}
	return a
}

// FreeFrames returns the number of order-0 frames currently unallocated,
// computed by walking the top level's Free/Split/Used counts down.
func (a *Allocator) FreeFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nframes - a.usedFramesLocked()
}

// Used returns the number of order-0 frames currently allocated.
func (a *Allocator) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usedFramesLocked()
}

func (a *Allocator) usedFramesLocked() uint64 {
	var used uint64
	top := a.tbl.MaxOrder()
	for idx, st := range a.status[top] {
		used += a.usedUnder(top, uint64(idx), st)
	}
	return used
}

func (a *Allocator) usedUnder(o memconst.Order, idx uint64, st state) uint64 {
	switch st {
	case stFree:
		return 0
	case stUsed:
		return a.tbl.Size(o) / memconst.PageSize
	case stSplit:
		if o == 0 {
			panic("pmem: order-0 chunk cannot be split")
		}
		w := a.tbl.Width(o)
		base := idx * w
		var sum uint64
		for k := uint64(0); k < w; k++ {
			sum += a.usedUnder(o-1, base+k, a.status[o-1][base+k])
		}
		return sum
	}
	panic("pmem: bad state")
}

// Alloc reserves a free chunk at the requested order and returns its
// order-0-aligned starting frame. Returns ERR_OOMEM if no chunk of that
// order or larger is free.
func (a *Allocator) Alloc(order memconst.Order) (Frame, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, idx := a.firstFreeAtOrAbove(order)
	if idx < 0 {
		return 0, defs.ERR_OOMEM
	}

	for o > order {
		a.status[o][idx] = stSplit
		o--
		idx = idx * int64(a.tbl.Width(o+1))
	}
	a.status[order][idx] = stUsed

	framesPerChunk := a.tbl.Size(order) / memconst.PageSize
	start := Frame(uint64(idx) * framesPerChunk)
	stats.RAMUsage.Add(int64(a.tbl.Size(order)))
	return start, defs.OK
}

// firstFreeAtOrAbove scans orders order..maxOrder for the leftmost Free
// index, ascending, giving a deterministic first-fit tie-break. A Free
// chunk counts only at the top order or under a Split parent; beneath a
// Free or Used parent a child's own status is not consulted.
func (a *Allocator) firstFreeAtOrAbove(order memconst.Order) (memconst.Order, int64) {
	top := a.tbl.MaxOrder()
	for o := order; o <= top; o++ {
		for idx, st := range a.status[o] {
			if st != stFree {
				continue
			}
			if o == top || a.status[o+1][uint64(idx)/a.tbl.Width(o+1)] == stSplit {
				return o, int64(idx)
			}
		}
	}
	return 0, -1
}

// FreeChunk releases the chunk at frame/order back to the allocator,
// merging with siblings (and their ancestors, transitively) once every
// sibling at a level is Free again.
func (a *Allocator) FreeChunk(order memconst.Order, frame Frame) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()

	framesPerChunk := a.tbl.Size(order) / memconst.PageSize
	if uint64(frame)%framesPerChunk != 0 {
		return defs.ERR_ALIGN
	}
	idx := uint64(frame) / framesPerChunk
	if idx >= a.numChunks[order] {
		return defs.ERR_ADDR
	}
	if a.status[order][idx] != stUsed {
		return defs.ERR_INVAL
	}
	a.status[order][idx] = stFree
	stats.RAMUsage.Add(-int64(a.tbl.Size(order)))

	o := order
	for o < a.tbl.MaxOrder() {
		w := a.tbl.Width(o + 1)
		base := (idx / w) * w
		allFree := true
		for k := uint64(0); k < w; k++ {
			if a.status[o][base+k] != stFree {
				allFree = false
				break
			}
		}
		if !allFree {
			break
		}
		idx = idx / w
		o++
		a.status[o][idx] = stFree
	}
	return defs.OK
}

// Reserve marks [startFrame, startFrame+count) as permanently Used,
// without accounting against stats.RAMUsage -- reserved memory is carved
// out before any allocation happens, for the kernel image, initrd, FDT
// and boot stacks. Each order-0 frame in the range is marked
// individually so reservation can straddle chunk boundaries.
func (a *Allocator) Reserve(startFrame Frame, count uint64) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()

	if uint64(startFrame)+count > a.nframes {
		return defs.ERR_ADDR
	}
	for f := uint64(startFrame); f < uint64(startFrame)+count; f++ {
		a.markUsedAtO0Locked(f)
	}
	return defs.OK
}

func (a *Allocator) markUsedAtO0Locked(frame uint64) {
	// Walk down from the root splitting any Free ancestor that contains
	// this frame, then mark the O0 leaf Used. A no-op if already Used.
	idx := frame
	for o := memconst.Order(1); o <= a.tbl.MaxOrder(); o++ {
		idx /= a.tbl.Width(o)
	}
	// idx is now the top-level index containing `frame`; descend back
	// down splitting as needed.
	a.splitPath(a.tbl.MaxOrder(), idx, frame)
}

func (a *Allocator) splitPath(o memconst.Order, idx uint64, target uint64) {
	switch a.status[o][idx] {
	case stUsed:
		return
	case stFree:
		if o == 0 {
			a.status[0][idx] = stUsed
			return
		}
		a.status[o][idx] = stSplit
	case stSplit:
		if o == 0 {
			return
		}
	}
	childSize := a.tbl.Size(o-1) / memconst.PageSize
	childIdx := target / childSize
	a.splitPath(o-1, childIdx, target)
}
