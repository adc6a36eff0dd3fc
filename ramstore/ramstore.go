// Package ramstore owns the byte-addressable backing store that stands in
// for physical RAM when this kernel runs as a hosted model -- there is no
// real machine to map, so pmem and vmem operate on whatever backing store
// they're given. It mmaps an anonymous region with golang.org/x/sys/unix
// so the store is page-aligned and can be protected like real memory.
package ramstore

import (
	"fmt"

	"golang.org/x/sys/unix"

	"capkern/memconst"
)

// Store is a page-aligned, fixed-size byte region representing physical
// RAM, addressed by byte offset from its base (the "physical address 0"
// of this simulated machine).
type Store struct {
	mem []byte
}

// New mmaps an anonymous, zero-filled region of the given size (rounded
// up to a whole number of O0 pages) to back physical RAM.
func New(size uint64) (*Store, error) {
	size = uint64(memconst.PageSize) * ((size + memconst.PageSize - 1) / memconst.PageSize)
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("ramstore: mmap %d bytes: %w", size, err)
	}
	return &Store{mem: mem}, nil
}

// Close unmaps the backing region. Safe to call once; a kernel image
// never actually calls it in practice (RAM is mapped for the machine's
// lifetime), but tests that allocate many Stores need it to avoid
// exhausting address space.
func (s *Store) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	return err
}

// Size returns the store's size in bytes.
func (s *Store) Size() uint64 {
	return uint64(len(s.mem))
}

// Slice returns a byte slice view of [off, off+n) within the store. It
// panics on an out-of-bounds range -- callers (pmem, vmem, nodes) are
// expected to have already validated the frame/order arithmetic that
// produced off and n.
func (s *Store) Slice(off, n uint64) []byte {
	if off+n > uint64(len(s.mem)) || off+n < off {
		panic("ramstore: slice out of bounds")
	}
	return s.mem[off : off+n]
}

// Zero clears [off, off+n) to zero, used when PMEM hands out a fresh
// frame for a leaf page-table or a zero-filled mapping.
func (s *Store) Zero(off, n uint64) {
	clear(s.Slice(off, n))
}
