// Package nodes is a slab-like sub-page pool that hands out fixed-size
// records (the prototypical consumer is vmem's mem_region) without
// wasting a whole physical page per record. Each region is backed by one
// page drawn from a pmem.Allocator; a bitmap tracks slot occupancy.
//
// Handles carry a generation counter alongside (region, slot) so a freed
// and reused slot invalidates old handles instead of aliasing them: a
// handle whose generation is stale fails Lookup rather than dereferencing
// a slot that now belongs to someone else.
package nodes

import (
	"sync"

	"capkern/defs"
	"capkern/memconst"
	"capkern/pmem"
)

// Handle identifies a slot in a Pool. It is safe to copy and store
// indefinitely; Lookup validates it against the slot's current
// generation.
type Handle struct {
	region int
	slot   int
	gen    uint32
}

type region[T any] struct {
	frame     pmem.Frame
	slots     []T
	occupied  []bool
	gen       []uint32
	used      int
	lastFreed int // bookkeeping: return-to-allocator skips the single remaining region
}

// Pool allocates fixed-size T records from a chain of page-backed regions.
type Pool[T any] struct {
	mu        sync.Mutex
	pm        *pmem.Allocator
	order     memconst.Order
	perRegion int
	regions   []*region[T]
}

// NewPool creates a Pool whose regions are backed by one chunk of the
// given order each, holding slotsPerRegion records per region.
func NewPool[T any](pm *pmem.Allocator, order memconst.Order, slotsPerRegion int) *Pool[T] {
	if slotsPerRegion <= 0 {
		panic("nodes: slotsPerRegion must be positive")
	}
	return &Pool[T]{pm: pm, order: order, perRegion: slotsPerRegion}
}

func (p *Pool[T]) newRegion() (*region[T], defs.Err_t) {
	frame, err := p.pm.Alloc(p.order)
	if err != defs.OK {
		return nil, err
	}
	return &region[T]{
		frame:    frame,
		slots:    make([]T, p.perRegion),
		occupied: make([]bool, p.perRegion),
		gen:      make([]uint32, p.perRegion),
	}, defs.OK
}

// Get returns a free slot, allocating a new backing region if every
// existing region is full.
func (p *Pool[T]) Get() (Handle, *T, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ri, r := range p.regions {
		if r.used < p.perRegion {
			for si, occ := range r.occupied {
				if !occ {
					r.occupied[si] = true
					r.used++
					r.slots[si] = *new(T)
					return Handle{region: ri, slot: si, gen: r.gen[si]}, &r.slots[si], defs.OK
				}
			}
		}
	}

	r, err := p.newRegion()
	if err != defs.OK {
		return Handle{}, nil, err
	}
	r.occupied[0] = true
	r.used = 1
	p.regions = append(p.regions, r)
	ri := len(p.regions) - 1
	return Handle{region: ri, slot: 0, gen: r.gen[0]}, &r.slots[0], defs.OK
}

// Lookup validates h and returns a pointer to its slot, or false if the
// handle is stale (its slot was freed and the generation no longer
// matches).
func (p *Pool[T]) Lookup(h Handle) (*T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.region < 0 || h.region >= len(p.regions) {
		return nil, false
	}
	r := p.regions[h.region]
	if h.slot < 0 || h.slot >= len(r.occupied) || !r.occupied[h.slot] || r.gen[h.slot] != h.gen {
		return nil, false
	}
	return &r.slots[h.slot], true
}

// Free releases h's slot. When a region becomes completely empty and it
// is not the pool's only region, its backing page is returned to the
// page allocator.
func (p *Pool[T]) Free(h Handle) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.region < 0 || h.region >= len(p.regions) {
		return defs.ERR_INVAL
	}
	r := p.regions[h.region]
	if h.slot < 0 || h.slot >= len(r.occupied) || !r.occupied[h.slot] || r.gen[h.slot] != h.gen {
		return defs.ERR_INVAL
	}

	r.occupied[h.slot] = false
	r.gen[h.slot]++
	r.used--
	r.slots[h.slot] = *new(T)

	if r.used == 0 && len(p.regions) > 1 {
		if err := p.pm.FreeChunk(p.order, r.frame); err != defs.OK {
			return err
		}
		p.regions = append(p.regions[:h.region], p.regions[h.region+1:]...)
	}
	return defs.OK
}

// Len returns the number of live (allocated) slots across all regions.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.regions {
		n += r.used
	}
	return n
}

// Release returns every backing page to the allocator and drops all
// slots. Call this once when the owner of the pool itself is being
// torn down; every outstanding Handle becomes invalid.
func (p *Pool[T]) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.regions {
		p.pm.FreeChunk(p.order, r.frame)
	}
	p.regions = nil
}
