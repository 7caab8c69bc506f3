package concache

import (
	"runtime"
	"weak"
)

// Strength selects how a cache holds onto keys or values (spec component
// C2 / C5's Reclaimable variant). Guava distinguishes Strong/Soft/Weak;
// Go's runtime exposes a single reclaimable-reference primitive
// (weak.Pointer, backed by the tracing garbage collector), so Soft is
// folded into Weak here exactly as spec §9's pattern-translation notes
// sanction ("model as strong-only... or integrate with a weak-reference
// primitive if one is provided by the runtime").
type Strength uint8

const (
	// Strong keeps a normal Go reference; the runtime never reclaims it
	// behind the cache's back.
	Strong Strength = iota
	// Weak lets the garbage collector reclaim the referent once no
	// strong references to it remain outside the cache.
	Weak
)

// reclaimSignal is pushed onto a stripe's reclamation channel by a
// runtime.AddCleanup callback when a weakly-held key or value is
// collected. It carries the entry's identity directly: the entry object
// itself is not kept alive by this signal (it is already reachable from
// the stripe's bucket table), only referenced by it.
type reclaimSignal[K comparable, V any] struct {
	entry    *entry[K, V]
	keySide  bool // true: key was collected; false: value was collected
}

// reclaimChannel is the concrete form of spec component C2. It is a
// no-op producer when both key and value strength are Strong: New never
// registers cleanups in that case, so the channel simply stays empty and
// drains cost nothing beyond a non-blocking receive.
type reclaimChannel[K comparable, V any] struct {
	ch chan reclaimSignal[K, V]
}

func newReclaimChannel[K comparable, V any](capacity int) *reclaimChannel[K, V] {
	return &reclaimChannel[K, V]{ch: make(chan reclaimSignal[K, V], capacity)}
}

func (r *reclaimChannel[K, V]) push(sig reclaimSignal[K, V]) {
	select {
	case r.ch <- sig:
	default:
		// Channel full: the signal is dropped and later drains never see
		// it. The entry stays in the table until CleanUp's sweep of the
		// buckets flagged in reclaimIndex finds it (cache/reclaim.go), or
		// until a write or load on its key notices the collected value.
	}
}

// drain pops up to limit signals (spec §4.8: "16 items per drain to avoid
// long pauses") and reports the entries to evict. Must be called with the
// owning stripe's lock held.
func (r *reclaimChannel[K, V]) drain(limit int) []*entry[K, V] {
	out := make([]*entry[K, V], 0, limit)
	for i := 0; i < limit; i++ {
		select {
		case sig := <-r.ch:
			out = append(out, sig.entry)
		default:
			return out
		}
	}
	return out
}

// weakBox wraps a key or value so weak.Make has a distinct heap object to
// point at (weak.Pointer requires a *T, and cache keys/values are often
// passed by value).
type weakBox[T any] struct{ v T }

// newWeakRef boxes v, arms a runtime.AddCleanup that fires owner when the
// box becomes unreachable, and returns a weak pointer to the box. owner is
// whatever identity the caller wants delivered to the cleanup (here,
// always the owning *entry).
func newWeakRef[T any, O any](v T, owner O, onCollected func(O)) weak.Pointer[weakBox[T]] {
	box := &weakBox[T]{v: v}
	wp := weak.Make(box)
	runtime.AddCleanup(box, onCollected, owner)
	return wp
}

// weakValue dereferences a weak pointer produced by newWeakRef, reporting
// whether the referent is still alive.
func weakValue[T any](wp weak.Pointer[weakBox[T]]) (T, bool) {
	box := wp.Value()
	if box == nil {
		var zero T
		return zero, false
	}
	return box.v, true
}
