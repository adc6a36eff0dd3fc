// Package diag provides debug-dump support for the kernel's memory
// subsystems: a pprof-compatible heap snapshot and a locale-formatted
// usage report.
package diag

import (
	"io"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"capkern/memconst"
	"capkern/pmem"
	"capkern/stats"
)

// NodePool is satisfied by nodes.Pool[T] for any T: HeapProfile only
// needs the slot count, not the element type.
type NodePool interface {
	Len() int
}

// HeapProfile builds a pprof Profile with two samples from pm (frames in
// use and frames free, with their byte sizes), plus one sample per named
// slab pool reporting its live slot count. The result
// can be written with (*profile.Profile).Write for inspection in any
// pprof-compatible viewer.
func HeapProfile(pm *pmem.Allocator, ordtbl *memconst.Table, pools map[string]NodePool) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "objects", Unit: "count"},
			{Type: "space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}

	funcID := uint64(1)
	locID := uint64(1)
	addFrame := func(name string, value1, value2 int64) {
		fn := &profile.Function{ID: funcID, Name: name, SystemName: name}
		loc := &profile.Location{ID: locID, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{value1, value2},
		})
		funcID++
		locID++
	}

	addFrame("pmem.total_used", int64(pm.Used()), int64(pm.Used())*int64(ordtbl.Size(0)))
	addFrame("pmem.free_frames", int64(pm.FreeFrames()), int64(pm.FreeFrames())*int64(ordtbl.Size(0)))

	for name, pool := range pools {
		addFrame("nodes."+name, int64(pool.Len()), 0)
	}

	return p
}

// FormatUsage writes a locale-aware, human-readable dump of the given
// counters to w: thousands-separated RAM usage and thread counts.
func FormatUsage(w io.Writer, ramUsage, tidCount *stats.Counter_t) error {
	p := message.NewPrinter(language.English)
	_, err := p.Fprintf(w, "ram_usage: %d bytes\nthread_count: %d\n", ramUsage.Load(), tidCount.Load())
	return err
}

// FormatUsageDefaults is a convenience wrapper over the package-level
// stats.RAMUsage/stats.TidCount counters.
func FormatUsageDefaults(w io.Writer) error {
	return FormatUsage(w, &stats.RAMUsage, &stats.TidCount)
}
