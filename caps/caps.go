// Package caps implements the per-thread capability bitflag set and the
// delegation rule that governs it: a holder may only grant a subset of
// its own capabilities to another thread, and only if it holds CAP_CAPS
// itself.
package caps

import "capkern/defs"

// Holder is anything with a capability set that can be queried and
// mutated under its own lock. tcb.TCB implements this.
type Holder interface {
	Caps() defs.Cap_t
	SetCapsUnchecked(defs.Cap_t)
}

// Has reports whether h holds every bit in want.
func Has(h Holder, want defs.Cap_t) bool {
	return h.Caps()&want == want
}

// Delegate sets target's capability set to new, as requested by holder.
// Fails with ERR_PERM if holder lacks CAP_CAPS, and ERR_INVAL if new is
// not a subset of holder's own capabilities.
func Delegate(holder Holder, target Holder, new defs.Cap_t) defs.Err_t {
	if !Has(holder, defs.CAP_CAPS) {
		return defs.ERR_PERM
	}
	if new&^holder.Caps() != 0 {
		return defs.ERR_INVAL
	}
	target.SetCapsUnchecked(new)
	return defs.OK
}
