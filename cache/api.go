package concache

import "context"

// Cache is a striped, in-memory key/value cache interface. All methods are
// safe for concurrent use by multiple goroutines.
//
// Typical complexity is amortized O(1) for single-key operations: a
// lock-free bucket-chain walk on the read path, or a stripe lock plus
// constant-time queue adjustments on the write path. ContainsValue is O(n)
// in the number of resident entries; AsMap and Iterator are O(n) as well,
// each walking every stripe once. Size and IsEmpty are O(stripes), summing
// each stripe's entry count.
type Cache[K comparable, V any] interface {
	// Get returns the value for key and a presence flag. On hit, the
	// entry is recorded as accessed for LRU and access-expiration
	// purposes.
	Get(key K) (V, bool)

	// GetOrLoad returns the value for key, loading it via the cache's
	// configured Loader on miss. Concurrent loads for the same key are
	// coalesced: exactly one goroutine calls the loader, the rest wait
	// on its result. Returns ErrNoLoader if no Loader was configured,
	// *InvalidLoadError if the loader reported no value, *ExecutionError
	// if it returned an error, *UncheckedExecutionError if it panicked,
	// or *RecursiveLoadError if ctx is already loading key.
	GetOrLoad(ctx context.Context, key K) (V, error)

	// GetOrLoadWith is GetOrLoad using loader instead of the cache's
	// configured default, for call sites that need a one-off loading
	// strategy.
	GetOrLoadWith(ctx context.Context, key K, loader Loader[K, V]) (V, error)

	// GetAllPresent returns every currently cached value among keys,
	// without triggering any load.
	GetAllPresent(keys []K) map[K]V

	// GetAll returns a value for every key in keys, loading whatever is
	// missing. If the configured Loader also implements BatchLoader, the
	// missing keys are loaded in one call; otherwise they are loaded one
	// at a time. Fails on the first load error or absent key.
	GetAll(ctx context.Context, keys []K) (map[K]V, error)

	// Put inserts or updates key→value, returning the value it replaced
	// (if any).
	Put(key K, value V) (old V, hadOld bool)

	// PutIfAbsent inserts key→value only if key is not already present,
	// returning the existing value when it was.
	PutIfAbsent(key K, value V) (existing V, hadExisting bool)

	// Replace updates key→value only if key is already present,
	// returning the value it replaced.
	Replace(key K, value V) (old V, hadOld bool)

	// ReplaceExpected updates key→value only if key is present and its
	// current value equals expected (per Options.ValueEqual).
	ReplaceExpected(key K, expected, value V) bool

	// Invalidate removes key, returning the value it held.
	Invalidate(key K) (old V, hadOld bool)

	// InvalidateExpected removes key only if its current value equals
	// expected (per Options.ValueEqual).
	InvalidateExpected(key K, expected V) bool

	// InvalidateAll removes every key in keys.
	InvalidateAll(keys ...K)

	// InvalidateEverything removes every entry currently in the cache.
	InvalidateEverything()

	// Refresh triggers an asynchronous reload for key if it is present
	// and a Loader is configured. It is a no-op otherwise and never
	// returns an error to the caller; failures are logged.
	Refresh(ctx context.Context, key K)

	// Size returns the total number of resident entries across all
	// stripes.
	Size() int64

	// IsEmpty reports whether the cache currently holds no entries.
	IsEmpty() bool

	// ContainsValue reports whether any resident value equals value (per
	// Options.ValueEqual). It is a full scan and is not linearizable
	// with concurrent writes.
	ContainsValue(value V) bool

	// AsMap returns a weakly-consistent point-in-time copy of every live
	// entry.
	AsMap() map[K]V

	// Iterator returns a weakly-consistent iterator over every live
	// entry, reflecting the cache's state at the moment Iterator was
	// called.
	Iterator() *Iterator[K, V]

	// CleanUp runs the maintenance work that would otherwise happen
	// lazily on reads and writes: expiration, a bounded reclamation
	// drain, and a full sweep for entries whose garbage-collection
	// notification was dropped.
	CleanUp()

	// Stats returns an aggregated, point-in-time snapshot of cache
	// activity.
	Stats() Stats
}
