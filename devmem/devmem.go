// Package devmem maps MMIO device regions into an address space, either
// as an identity mapping (virtual address equals physical) or as a
// windowed mapping at a caller-chosen virtual base. Unlike pmem-backed
// user memory, device frames are never allocated or freed through the
// physical allocator -- they're fixed ranges handed to the kernel by
// firmware.
package devmem

import (
	"sync"

	"capkern/defs"
	"capkern/memconst"
	"capkern/pmem"
	"capkern/vmem"
)

// WindowID identifies one registered MMIO window.
type WindowID uint64

type window struct {
	base  uint64
	size  uint64
	owner uint64 // owning driver thread id
}

// Registry tracks every MMIO window mapped into one address space so
// that unmapping can be restricted to the registering thread (or a
// thread holding CAP_IRQ, the device-ownership capability).
type Registry struct {
	mu      sync.Mutex
	next    WindowID
	windows map[WindowID]window
}

func NewRegistry() *Registry {
	return &Registry{windows: make(map[WindowID]window)}
}

// IdentityMap maps [physBase, physBase+size) at the same virtual
// address, one O0 page at a time, with the given flags plus V.
func IdentityMap(as *vmem.AddressSpace, physBase, size uint64, flags vmem.Flags) defs.Err_t {
	return mapRange(as, physBase, physBase, size, flags)
}

// Register maps [physBase, physBase+size) at vbase (which may differ
// from physBase, unlike IdentityMap) and records ownerTid as the
// thread allowed to unmap it later. Returns the window's id.
func (r *Registry) Register(as *vmem.AddressSpace, vbase, physBase, size uint64, flags vmem.Flags, ownerTid uint64) (WindowID, defs.Err_t) {
	if err := mapRange(as, vbase, physBase, size, flags); err != defs.OK {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.windows[id] = window{base: vbase, size: size, owner: ownerTid}
	return id, defs.OK
}

// Find reports the window, if any, registered at exactly vbase.
func (r *Registry) Find(vbase uint64) (WindowID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.windows {
		if w.base == vbase {
			return id, true
		}
	}
	return 0, false
}

// Unregister unmaps a previously registered window. Only the
// registering thread, or a thread presenting hasIRQCap (holds
// CAP_IRQ, the device-ownership capability), may unmap it.
func (r *Registry) Unregister(as *vmem.AddressSpace, id WindowID, requesterTid uint64, hasIRQCap bool) defs.Err_t {
	r.mu.Lock()
	w, ok := r.windows[id]
	if !ok {
		r.mu.Unlock()
		return defs.ERR_NF
	}
	if w.owner != requesterTid && !hasIRQCap {
		r.mu.Unlock()
		return defs.ERR_PERM
	}
	delete(r.windows, id)
	r.mu.Unlock()

	for off := uint64(0); off < w.size; off += memconst.PageSize {
		if err := as.Unmap(w.base+off, 0); err != defs.OK {
			return err
		}
	}
	return defs.OK
}

func mapRange(as *vmem.AddressSpace, vbase, physBase, size uint64, flags vmem.Flags) defs.Err_t {
	if size%memconst.PageSize != 0 || vbase%memconst.PageSize != 0 || physBase%memconst.PageSize != 0 {
		return defs.ERR_ALIGN
	}
	for off := uint64(0); off < size; off += memconst.PageSize {
		frame := pmem.Frame((physBase + off) / memconst.PageSize)
		if err := as.Map(vbase+off, frame, 0, flags); err != defs.OK {
			return err
		}
	}
	return defs.OK
}
