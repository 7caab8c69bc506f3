package concache

import "time"

// Options configures a cache instance (spec §6, "configuration/builder
// surface", an external collaborator spec.md treats as out of scope but
// which a real module still ships — following the teacher's
// cache/options.go functional-options-by-struct pattern). Zero values are
// safe: an Options{} cache has no capacity bound, no expiration, strong
// keys and values, and a NoopStatsSink.
type Options[K comparable, V any] struct {
	// MaxWeight bounds total weight across all stripes (spec §3's global
	// cap, spread across stripes per §4.1). Zero disables size eviction.
	MaxWeight int64

	// ConcurrencyLevel is the estimated number of goroutines that will
	// access the cache concurrently; it drives the stripe count (spec
	// §4.1). Zero picks a value from runtime.GOMAXPROCS.
	ConcurrencyLevel int

	// KeyStrength / ValueStrength select Strong or Weak holding (spec
	// component C2). Reclamation is a no-op when both are Strong.
	KeyStrength   Strength
	ValueStrength Strength

	// ExpireAfterAccess / ExpireAfterWrite configure the two independent
	// expiration policies of spec §4.6. Zero disables the policy.
	ExpireAfterAccess time.Duration
	ExpireAfterWrite  time.Duration

	// RefreshAfterWrite configures refresh-ahead (spec §4.5). Zero
	// disables it.
	RefreshAfterWrite time.Duration

	// Weigher computes the weight of a value (spec §6). Nil defaults to
	// a constant weight of 1 per entry.
	Weigher func(key K, value V) int32

	// Loader is the default loader consulted by GetOrLoad/GetAll (spec
	// component C10). Nil is fine as long as callers never invoke
	// GetOrLoad/GetAll.
	Loader Loader[K, V]

	// RemovalListener receives removal notifications (spec component
	// C11). Nil means notifications are generated internally for stats
	// but never delivered.
	RemovalListener RemovalListener[K, V]

	// Stats receives live hit/miss/load/evict/size events (spec
	// component C7). Nil defaults to NoopStatsSink.
	Stats StatsSink

	// Clock overrides the time source (spec component C1); nil uses the
	// system clock. Tests inject a deterministic Clock.
	Clock Clock

	// Logger receives swallowed errors from refresh and the removal
	// listener (spec §7); nil logs via the standard library's log
	// package.
	Logger Logger

	// ValueEqual decides value equality for ReplaceExpected,
	// InvalidateExpected, and ContainsValue. Nil defaults to
	// reflect.DeepEqual, the Go analogue of Java's Object.equals used by
	// the original's compare-and-swap style operations.
	ValueEqual func(a, b V) bool
}
