package concache

import (
	"sync/atomic"
	"weak"
)

// entry is one cached mapping. Rather than the eight compile-time shape
// variants spec §3/§9 describe (the cartesian product of {strong,
// reclaimable key} × {access-tracked?} × {write-tracked?}), this
// implementation uses one struct for every shape and gates behavior at
// runtime via the owning cache's cacheConfig flags. Go's GC can hold
// cyclic/self-referential structures safely (unlike the ownership-based
// languages spec §9 targets with its arena-of-indices translation), so
// intrusive pointers are used directly, matching the teacher's node.go.
// DESIGN.md records why the 8-shape split was collapsed.
type entry[K comparable, V any] struct {
	key    K                        // zero value when keyRef is set
	keyRef weak.Pointer[weakBox[K]] // valid only when hasKeyRef is true
	hasKeyRef bool

	hash uint32 // spread hash, precomputed once

	next atomic.Pointer[entry[K, V]] // hash-chain link; mutated under stripe lock, read lock-free

	holder atomic.Pointer[valueHolder[K, V]]

	inTable atomic.Bool // true while linked into the owning stripe's bucket table

	accessNanos atomic.Int64
	writeNanos  atomic.Int64

	// Queue links, touched only under the owning stripe's lock. A
	// self-reference (accPrev == this) means "not currently linked",
	// per spec §3's invariant; this holds for the sentinel entries too.
	accPrev, accNext *entry[K, V]
	wrPrev, wrNext   *entry[K, V]
}

// newSentinel returns a dummy entry used only as a queue anchor; it is
// never inserted into a stripe's bucket table.
func newSentinel[K comparable, V any]() *entry[K, V] {
	e := &entry[K, V]{}
	e.accPrev, e.accNext = e, e
	e.wrPrev, e.wrNext = e, e
	return e
}

func newStrongKeyEntry[K comparable, V any](key K, hash uint32) *entry[K, V] {
	e := &entry[K, V]{key: key, hash: hash}
	e.accPrev, e.accNext = e, e
	e.wrPrev, e.wrNext = e, e
	return e
}

// newWeakKeyEntry builds an entry whose key is held through a weak
// reference, arming s.keys so a GC collection of key is observed.
func newWeakKeyEntry[K comparable, V any](s *stripe[K, V], key K, hash uint32) *entry[K, V] {
	e := &entry[K, V]{hash: hash, hasKeyRef: true}
	e.accPrev, e.accNext = e, e
	e.wrPrev, e.wrNext = e, e
	e.keyRef = newWeakRef(key, e, func(owner *entry[K, V]) {
		s.keys.push(reclaimSignal[K, V]{entry: owner, keySide: true})
	})
	return e
}

// Key returns the entry's key and whether it is still live. A reclaimable
// key entry whose key was collected reports absent, per spec §4.8.
func (e *entry[K, V]) Key() (K, bool) {
	if !e.hasKeyRef {
		return e.key, true
	}
	return weakValue(e.keyRef)
}

func (e *entry[K, V]) inAccessQueue() bool { return e.accPrev != e }
func (e *entry[K, V]) inWriteQueue() bool  { return e.wrPrev != e }
