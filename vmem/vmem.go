// Package vmem implements an architecture-agnostic page-table walker
// parameterized by a memconst.Table: map, unmap, translate, and
// copy-on-write cloning of a user address space. A tree of branch nodes
// mirrors the hardware MMU, one level per order above the target leaf
// order; each branch consumes one physical frame from a pmem.Allocator,
// matching a real walker allocating page-table pages as it descends.
package vmem

import (
	"sync"

	"golang.org/x/arch/riscv64/riscv64asm"

	"capkern/defs"
	"capkern/memconst"
	"capkern/nodes"
	"capkern/pmem"
)

// regionsPerPage is how many Region records nodes.Pool packs into one
// backing page. A Region is small (two uint64s, a Flags, a bool and a
// pointer); 64 fit comfortably in a 4KiB page with room to spare.
const regionsPerPage = 64

// Flags is a page-table entry's permission and status bits. The hardware
// bits mirror RISC-V's V,R,W,X,U,G,A,D; COW is a private software bit
// with no hardware meaning, used to mark a copy-on-write leaf.
type Flags uint16

const (
	V Flags = 1 << iota
	R
	W
	X
	U
	G
	A
	D
	COW
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

type leaf struct {
	frame pmem.Frame
	order memconst.Order
	flags Flags
	// refs counts address spaces sharing this frame. >1 only for a
	// shared region or a CoW leaf awaiting its first write.
	refs *int32
}

type node struct {
	frame    pmem.Frame
	children []any // *node, *leaf, or nil
	filled   int
}

// Region describes a user-visible mapped range: base/size in bytes,
// permission flags, and (for shared regions) a reference count shared
// with every address space mapping it.
type Region struct {
	Base  uint64
	Size  uint64
	Flags Flags
	Owner bool
	Refs  *int32
}

// AddressSpace is one process's (or the kernel's) virtual memory tree.
type AddressSpace struct {
	tbl  *memconst.Table
	pm   *pmem.Allocator
	mu   sync.Mutex
	root *node

	regionPool    *nodes.Pool[Region]
	regionHandles []nodes.Handle
}

// New builds an empty address space backed by pm, using tbl for order
// geometry.
func New(tbl *memconst.Table, pm *pmem.Allocator) (*AddressSpace, defs.Err_t) {
	rootFrame, err := pm.Alloc(0)
	if err != defs.OK {
		return nil, err
	}
	return &AddressSpace{
		tbl:        tbl,
		pm:         pm,
		root:       &node{frame: rootFrame, children: make([]any, tbl.Width(tbl.MaxOrder()))},
		regionPool: nodes.NewPool[Region](pm, 0, regionsPerPage),
	}, defs.OK
}

func childIndex(tbl *memconst.Table, vaddr uint64, order memconst.Order) uint64 {
	return (vaddr / tbl.Size(order)) % tbl.Width(order+1)
}

// Map installs a leaf mapping paddr at vaddr with the given order and
// flags, allocating any missing intermediate branch tables from the
// address space's pmem.Allocator. Returns ERR_EXT if a mapping already
// exists at vaddr.
func (as *AddressSpace) Map(vaddr uint64, frame pmem.Frame, order memconst.Order, flags Flags) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.mapLocked(vaddr, &leaf{frame: frame, order: order, flags: flags | V, refs: new(int32)}, order)
}

func (as *AddressSpace) mapLocked(vaddr uint64, lf *leaf, order memconst.Order) defs.Err_t {
	cur := as.root
	level := as.tbl.MaxOrder()
	for level > order+1 {
		idx := childIndex(as.tbl, vaddr, level-1)
		child := cur.children[idx]
		var cn *node
		switch c := child.(type) {
		case nil:
			frame, err := as.pm.Alloc(0)
			if err != defs.OK {
				return err
			}
			cn = &node{frame: frame, children: make([]any, as.tbl.Width(level-1))}
			cur.children[idx] = cn
			cur.filled++
		case *node:
			cn = c
		default:
			return defs.ERR_INVAL
		}
		cur = cn
		level--
	}
	idx := childIndex(as.tbl, vaddr, order)
	if cur.children[idx] != nil {
		return defs.ERR_EXT
	}
	cur.children[idx] = lf
	cur.filled++
	return defs.OK
}

// Unmap removes the leaf mapping at vaddr/order, freeing any
// intermediate branch table whose occupancy drops to zero back to
// pmem. Returns ERR_NF if no mapping exists there.
func (as *AddressSpace) Unmap(vaddr uint64, order memconst.Order) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	_, _, err := as.unmapRec(as.root, as.tbl.MaxOrder(), vaddr, order)
	return err
}

func (as *AddressSpace) unmapRec(cur *node, level memconst.Order, vaddr uint64, order memconst.Order) (*leaf, bool, defs.Err_t) {
	if level == order+1 {
		idx := childIndex(as.tbl, vaddr, order)
		lf, ok := cur.children[idx].(*leaf)
		if !ok || lf == nil {
			return nil, false, defs.ERR_NF
		}
		cur.children[idx] = nil
		cur.filled--
		return lf, cur.filled == 0, defs.OK
	}
	idx := childIndex(as.tbl, vaddr, level-1)
	child, ok := cur.children[idx].(*node)
	if !ok || child == nil {
		return nil, false, defs.ERR_NF
	}
	lf, childEmpty, err := as.unmapRec(child, level-1, vaddr, order)
	if err != defs.OK {
		return nil, false, err
	}
	if childEmpty {
		as.pm.FreeChunk(0, child.frame)
		cur.children[idx] = nil
		cur.filled--
	}
	return lf, cur.filled == 0, defs.OK
}

// Translate walks the tree looking for the leaf covering vaddr at any
// order, returning its frame and flags.
func (as *AddressSpace) Translate(vaddr uint64) (pmem.Frame, Flags, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	cur := as.root
	level := as.tbl.MaxOrder()
	for {
		idx := childIndex(as.tbl, vaddr, level-1)
		switch c := cur.children[idx].(type) {
		case *leaf:
			return c.frame, c.flags, true
		case *node:
			cur = c
			level--
		default:
			return 0, 0, false
		}
		if level == 0 {
			return 0, 0, false
		}
	}
}

// AddRegion records a user-visible mapped range for page-fault lookup,
// allocating its record from the address space's node pool rather than
// growing a plain slice. Regions in an address space must not overlap;
// neither AddRegion nor its callers in uapi check that, so an
// overlapping region is recorded as given.
func (as *AddressSpace) AddRegion(r Region) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	h, slot, err := as.regionPool.Get()
	if err != defs.OK {
		return err
	}
	*slot = r
	as.regionHandles = append(as.regionHandles, h)
	return defs.OK
}

// FindRegion returns the region containing vaddr, if any.
func (as *AddressSpace) FindRegion(vaddr uint64) (Region, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, h := range as.regionHandles {
		r, ok := as.regionPool.Lookup(h)
		if !ok || vaddr < r.Base || vaddr >= r.Base+r.Size {
			continue
		}
		return *r, true
	}
	return Region{}, false
}

// RemoveRegion drops the tracked record for the region containing
// vaddr, if any. It does not unmap anything; callers that also need
// the mapping gone call Unmap themselves.
func (as *AddressSpace) RemoveRegion(vaddr uint64) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i, h := range as.regionHandles {
		r, ok := as.regionPool.Lookup(h)
		if !ok || vaddr < r.Base || vaddr >= r.Base+r.Size {
			continue
		}
		as.regionPool.Free(h)
		as.regionHandles = append(as.regionHandles[:i], as.regionHandles[i+1:]...)
		return defs.OK
	}
	return defs.ERR_NF
}

// Destroy walks the entire tree freeing every frame as owns: each
// leaf's physical frame once its last sharer releases it (refs
// dropping to zero, mirroring cloneRec's increment), every branch
// table frame, the root frame, and the region pool's own backing
// pages. as must not be used after Destroy returns.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.destroyRec(as.root)
	as.pm.FreeChunk(0, as.root.frame)
	as.regionPool.Release()
	as.regionHandles = nil
}

func (as *AddressSpace) destroyRec(cur *node) {
	for _, c := range cur.children {
		switch v := c.(type) {
		case *leaf:
			if *v.refs == 0 {
				as.pm.FreeChunk(v.order, v.frame)
			} else {
				*v.refs--
			}
		case *node:
			as.destroyRec(v)
			as.pm.FreeChunk(0, v.frame)
		}
	}
}

// CloneUser copies every leaf mapping below vmKern into dst. Writable,
// non-shared leaves become copy-on-write in both address spaces (W
// cleared, COW set, refcount shared); shared or read-only leaves are
// copied by reference unchanged.
func (as *AddressSpace) CloneUser(dst *AddressSpace, vmKern uint64) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.cloneRec(as.root, as.tbl.MaxOrder(), 0, vmKern, dst)
}

func (as *AddressSpace) cloneRec(cur *node, level memconst.Order, base, vmKern uint64, dst *AddressSpace) defs.Err_t {
	for i, c := range cur.children {
		childBase := base + uint64(i)*as.tbl.Size(level-1)
		if childBase >= vmKern {
			continue // global zone: shared by reference, not copied
		}
		switch v := c.(type) {
		case *leaf:
			nl := *v
			if nl.flags.has(W) && !nl.flags.has(COW) {
				as.setCOWAt(cur, i)
				nl = *(cur.children[i].(*leaf))
			}
			*nl.refs++
			if err := dst.mapLocked(childBase, &nl, v.order); err != defs.OK {
				return err
			}
		case *node:
			if err := as.cloneRec(v, level-1, childBase, vmKern, dst); err != defs.OK {
				return err
			}
		}
	}
	return defs.OK
}

func (as *AddressSpace) setCOWAt(parent *node, idx int) {
	lf := parent.children[idx].(*leaf)
	lf.flags = (lf.flags &^ W) | COW
}

// PageFault services a fault at vaddr. If no region covers the address
// the fault is unrecoverable (caller should raise a user-visible
// notification). If the existing leaf is a CoW page being written, the
// frame is deep-copied and W restored. Otherwise a fresh frame is
// allocated and mapped per the region's flags.
func (as *AddressSpace) PageFault(vaddr uint64, write bool, copyFrame func(src, dst pmem.Frame)) defs.Err_t {
	region, ok := as.FindRegion(vaddr)
	if !ok {
		return defs.ERR_ADDR
	}

	pageBase := vaddr - vaddr%memconst.PageSize
	frame, flags, present := as.Translate(pageBase)
	if present {
		if write && flags.has(COW) {
			newFrame, err := as.pm.Alloc(0)
			if err != defs.OK {
				return err
			}
			copyFrame(frame, newFrame)
			if err := as.Unmap(pageBase, 0); err != defs.OK {
				return err
			}
			return as.Map(pageBase, newFrame, 0, (region.Flags|V|W)&^COW)
		}
		return defs.OK
	}

	newFrame, err := as.pm.Alloc(0)
	if err != defs.OK {
		return err
	}
	return as.Map(pageBase, newFrame, 0, region.Flags)
}

// ClassifyFault decodes the RISC-V instruction at the faulting PC to
// distinguish a store/AMO access from a load when the page-table leaf's
// flags alone cannot (e.g. a present, read-only CoW page: the fault
// could be a plain load racing the copy, or the write that must trigger
// it). Returns true if the instruction is a store or atomic memory
// operation.
func ClassifyFault(instrBytes []byte) (isWrite bool, err error) {
	inst, err := riscv64asm.Decode(instrBytes)
	if err != nil {
		return false, err
	}
	switch inst.Op {
	case riscv64asm.SB, riscv64asm.SH, riscv64asm.SW, riscv64asm.SD,
		riscv64asm.AMOSWAP_W, riscv64asm.AMOSWAP_D,
		riscv64asm.AMOADD_W, riscv64asm.AMOADD_D,
		riscv64asm.SC_W, riscv64asm.SC_D:
		return true, nil
	default:
		return false, nil
	}
}
