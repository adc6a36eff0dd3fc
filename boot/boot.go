// Package boot assembles the kernel's memory and thread subsystems into
// a running Kernel and spawns init, the root thread every orphan
// reparents to. There is no earlier stage to hand off from here: boot
// is where physical memory first becomes an Allocator, where the order
// table is fixed for the platform, and where the first TCB is created.
package boot

import (
	"time"

	"capkern/defs"
	"capkern/devmem"
	"capkern/ipc"
	"capkern/ipi"
	"capkern/irq"
	"capkern/memconst"
	"capkern/pmem"
	"capkern/shmem"
	"capkern/tcb"
	"capkern/timers"
	"capkern/uapi"
	"capkern/util"
)

// reapPeriod is how long init's reaper sleeps between passes. Orphan
// cleanup isn't latency-sensitive; a short period just keeps a hosted
// build from spinning a whole OS thread on an idle kernel.
const reapPeriod = 10 * time.Millisecond

// MemRegion is one span of physical memory discovered at boot, typically
// from a flattened device tree. Reserved spans (firmware, the kernel
// image itself, device MMIO windows already claimed by a bootloader) are
// excluded from the allocator's free pool but still count toward the
// address space the allocator must be able to name frames within.
type MemRegion struct {
	Base     uint64
	Size     uint64
	Reserved bool
}

// MemRegionSource supplies the physical memory map discovered at boot.
// A real platform backs this with its flattened device tree; tests back
// it with a literal slice.
type MemRegionSource interface {
	Regions() []MemRegion
}

// ELFLoader loads a binary image into a freshly created address space
// and reports its entry point. It is exactly tcb.ELFLoader: boot never
// needs more than Spawn already requires of a loader, so there is no
// separate boot-level interface to keep in sync with it.
type ELFLoader = tcb.ELFLoader

// Config selects the platform order geometry and the clock/power hooks
// Entry wires into the Kernel it builds.
type Config struct {
	// OrderTable defaults to memconst.Sv39() when nil.
	OrderTable *memconst.Table
	Now        func() uint64
	Poweroff   func(defs.PoweroffType)
}

// Entry brings up the allocator, every registry a syscall handler needs,
// the thread table, and init itself, loaded from binaryAddr by loader.
// It starts init's reaper loop and returns the assembled Kernel along
// with init's TCB.
func Entry(src MemRegionSource, loader ELFLoader, binaryAddr uint64, cfg Config) (*uapi.Kernel, *tcb.TCB, defs.Err_t) {
	ordtbl := cfg.OrderTable
	if ordtbl == nil {
		ordtbl = memconst.Sv39()
	}

	var total uint64
	for _, r := range src.Regions() {
		total += r.Size
	}

	chunk := ordtbl.Size(ordtbl.MaxOrder())
	nframes := util.Roundup(total, chunk) / memconst.PageSize

	pm := pmem.New(ordtbl, nframes)

	var off uint64
	for _, r := range src.Regions() {
		frames := r.Size / memconst.PageSize
		if r.Reserved {
			if err := pm.Reserve(pmem.Frame(off/memconst.PageSize), frames); err != defs.OK {
				return nil, nil, err
			}
		}
		off += r.Size
	}
	// The padding Roundup added beyond the last region is unbacked by
	// real RAM; reserve it too so nothing is ever handed out there.
	if pad := nframes*memconst.PageSize - total; pad > 0 {
		if err := pm.Reserve(pmem.Frame(total/memconst.PageSize), pad/memconst.PageSize); err != defs.OK {
			return nil, nil, err
		}
	}

	tb := tcb.NewTable(pm, ordtbl)

	now := cfg.Now
	if now == nil {
		now = func() uint64 { return 0 }
	}
	poweroff := cfg.Poweroff
	if poweroff == nil {
		poweroff = func(defs.PoweroffType) {}
	}

	k := &uapi.Kernel{
		Tcb:      tb,
		IPC:      ipc.NewRegistry(),
		IPI:      ipi.NewQueue(),
		IRQ:      irq.NewTable(),
		Timers:   timers.NewList(),
		Dev:      devmem.NewRegistry(),
		Shared:   shmem.NewTable(),
		PM:       pm,
		Ord:      ordtbl,
		Loader:   loader,
		Now:      now,
		Poweroff: poweroff,
	}

	init, err := tb.Spawn(loader, binaryAddr, defs.CAP_ALL)
	if err != defs.OK {
		return nil, nil, err
	}
	if init.Tid != defs.TID_INIT {
		return nil, nil, defs.ERR_INVAL
	}

	go reapLoop(tb)

	return k, init, defs.OK
}

// reapLoop runs init's perpetual low-priority reaper pass. It never
// returns; Entry starts it in its own goroutine for the lifetime of the
// kernel, same as init itself never exits.
func reapLoop(tb *tcb.Table) {
	for {
		tb.Reap()
		time.Sleep(reapPeriod)
	}
}
