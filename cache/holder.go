package concache

import (
	"weak"

	"github.com/avkirilov/concache/internal/singleflight"
)

// holderKind tags the variant of valueHolder, spec component C5's sum
// type: Strong(v, weight), Reclaimable(ref→v, weight, back-pointer),
// Loading(old, future), Unset.
type holderKind uint8

const (
	kindUnset holderKind = iota
	kindStrong
	kindReclaimable
	kindLoading
)

// valueHolder is the carrier of an entry's value. Every entry's holder
// field is swapped atomically (entry.holder), so readers on the lock-free
// path always observe a fully-formed holder, never a partially-written
// one.
type valueHolder[K comparable, V any] struct {
	kind holderKind

	strong V
	weight int32

	ref weak.Pointer[weakBox[V]] // kindReclaimable

	future *singleflight.Future[V] // kindLoading
	old    *valueHolder[K, V]      // kindLoading: holder being refreshed/loaded-over
}

func unsetHolder[K comparable, V any]() *valueHolder[K, V] {
	return &valueHolder[K, V]{kind: kindUnset}
}

func strongHolder[K comparable, V any](v V, weight int32) *valueHolder[K, V] {
	return &valueHolder[K, V]{kind: kindStrong, strong: v, weight: weight}
}

// reclaimableHolder builds a Weak-value holder for owner (the entry this
// holder will be installed on) and arms the stripe's reclamation channel
// so a GC collection of v is observed by cleanup (spec §4.8).
func reclaimableHolder[K comparable, V any](s *stripe[K, V], owner *entry[K, V], v V, weight int32) *valueHolder[K, V] {
	wp := newWeakRef(v, owner, func(e *entry[K, V]) {
		s.values.push(reclaimSignal[K, V]{entry: e, keySide: false})
	})
	return &valueHolder[K, V]{kind: kindReclaimable, ref: wp, weight: weight}
}

func loadingHolder[K comparable, V any](old *valueHolder[K, V]) *valueHolder[K, V] {
	return &valueHolder[K, V]{kind: kindLoading, old: old, future: singleflight.NewFuture[V]()}
}

// Value returns the current value and whether one is present. A Loading
// holder has no current value (the caller either waits on future or
// reads old via Stale for refresh-ahead).
func (h *valueHolder[K, V]) Value() (V, bool) {
	switch h.kind {
	case kindStrong:
		return h.strong, true
	case kindReclaimable:
		return weakValue(h.ref)
	default:
		var zero V
		return zero, false
	}
}

// Stale returns the value a refresh-ahead read should return while a
// Loading holder's future settles: the old holder's live value, if any.
func (h *valueHolder[K, V]) Stale() (V, bool) {
	if h.kind != kindLoading || h.old == nil {
		var zero V
		return zero, false
	}
	return h.old.Value()
}

func (h *valueHolder[K, V]) Weight() int32 { return h.weight }

func (h *valueHolder[K, V]) IsLoading() bool { return h.kind == kindLoading }

// IsActive reports whether this holder (or, for Loading, the holder it
// supersedes) ever carried a real value. A fresh Loading holder installed
// over Unset is not active (spec glossary: "Active holder").
func (h *valueHolder[K, V]) IsActive() bool {
	switch h.kind {
	case kindStrong, kindReclaimable:
		return true
	case kindLoading:
		return h.old != nil && h.old.IsActive()
	default:
		return false
	}
}

// IsCollected reports whether this is a Reclaimable holder whose referent
// has already been collected by the runtime.
func (h *valueHolder[K, V]) IsCollected() bool {
	if h.kind != kindReclaimable {
		return false
	}
	_, alive := weakValue(h.ref)
	return !alive
}
