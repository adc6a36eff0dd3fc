// Package memconst holds a runtime-configured table of memory "orders"
// O0..O9, immutable once initialized at boot. Every other memory package
// (nodes, pmem, vmem, devmem) reads order geometry from here instead of
// hardcoding page arithmetic, and instead of reaching through a global --
// a Table is an explicit value threaded through constructors.
package memconst

import "capkern/util"

// MaxOrders bounds the order table at ten levels.
const MaxOrders = 10

// PageShift is the base-2 exponent of the smallest page (O0), 4096 bytes
// on every platform this kernel targets.
const PageShift = 12

// PageSize is the size in bytes of an order-0 page.
const PageSize = 1 << PageShift

// Order identifies one of the table's size classes, 0..MaxOrder.
type Order int

// Table is the immutable, runtime-initialized order geometry: widths,
// shifts and sizes for every order up to MaxOrder. Sv39 on 64-bit RISC-V
// uses MaxOrder=2 with Bits={9,9,9} (4 KiB / 2 MiB / 1 GiB); Sv32 uses
// MaxOrder=1 with Bits={10,10}.
type Table struct {
	maxOrder Order
	bits     [MaxOrders]uint
	shift    [MaxOrders]uint
	width    [MaxOrders]uint64
	size     [MaxOrders]uint64
}

// NewTable builds the order table for the given per-order bit widths.
// bits[0] is the page-table fan-out consumed at O0 (always present);
// len(bits) becomes maxOrder+1. Panics on an invalid configuration --
// this runs once at boot, before any allocation is possible.
func NewTable(bits []uint) *Table {
	if len(bits) == 0 || len(bits) > MaxOrders {
		panic("memconst: bad order count")
	}
	t := &Table{maxOrder: Order(len(bits) - 1)}
	t.shift[0] = PageShift
	t.width[0] = 1 << bits[0]
	t.size[0] = PageSize
	t.bits[0] = bits[0]

	for i := 1; i <= int(t.maxOrder); i++ {
		t.bits[i] = bits[i]
		t.width[i] = 1 << bits[i]
		t.shift[i] = t.shift[i-1] + bits[i]
		t.size[i] = 1 << t.shift[i]
	}
	return t
}

// Sv39 is the standard 64-bit RISC-V order table: 4 KiB / 2 MiB / 1 GiB
// pages, three levels of 512-way fan-out.
func Sv39() *Table {
	return NewTable([]uint{9, 9, 9})
}

// Sv32 is the 32-bit RISC-V order table: 4 KiB / 4 MiB pages.
func Sv32() *Table {
	return NewTable([]uint{10, 10})
}

// MaxOrder returns the highest valid order for this table.
func (t *Table) MaxOrder() Order { return t.maxOrder }

// Width returns the number of order-(o-1) children an order-o chunk has.
// Width(0) is the page-table fan-out at the leaf level.
func (t *Table) Width(o Order) uint64 {
	t.checkOrder(o)
	return t.width[o]
}

// Size returns the byte size of an order-o chunk.
func (t *Table) Size(o Order) uint64 {
	t.checkOrder(o)
	return t.size[o]
}

// Shift returns the number of low address bits an order-o chunk spans.
func (t *Table) Shift(o Order) uint {
	t.checkOrder(o)
	return t.shift[o]
}

// Bits returns the page-table index width consumed at order o.
func (t *Table) Bits(o Order) uint {
	t.checkOrder(o)
	return t.bits[o]
}

func (t *Table) checkOrder(o Order) {
	if o < 0 || o > t.maxOrder {
		panic("memconst: order out of range")
	}
}

// NearestOrder returns the smallest order whose Size is >= size,
// following the original source's nearest_order (common/mem.c).
func (t *Table) NearestOrder(size uint64) Order {
	for o := Order(0); o <= t.maxOrder; o++ {
		if t.size[o] >= size {
			return o
		}
	}
	return t.maxOrder
}

// Align rounds addr down to the start of its containing order-o chunk.
func (t *Table) Align(addr uint64, o Order) uint64 {
	return util.Rounddown(addr, t.Size(o))
}
