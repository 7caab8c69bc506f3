// Package concache provides a fast, generic, striped in-memory cache with
// strong or weak key/value holding, independent access/write expiration,
// refresh-ahead loading, and removal notifications.
//
// Design
//
//   - Concurrency: the cache is split into stripes, each owning its own
//     lock-free hash-chained bucket table and protected by a single mutex
//     for writes only; reads never block. The stripe count is chosen by a
//     heuristic (util.ReasonableConcurrency) and is always a power of two,
//     following the same intuition as sync.Map sharding but sized for
//     lock contention rather than map-internal resizing.
//
//   - Storage: each stripe keeps an array of lock-free hash-chain buckets
//     plus two intrusive doubly linked queues, one in access order and
//     one in write order, shared between LRU eviction, access expiration,
//     and write expiration/refresh-ahead.
//
//   - Holding strength: keys and values can be Strong (never collected by
//     the cache itself) or Weak (wrapped in a weak.Pointer and reclaimed
//     via runtime.AddCleanup once the runtime's GC collects the
//     referent). A reclaimIndex backstops the rare case where the
//     reclamation channel is full and a cleanup notification is dropped.
//
//   - Expiration: ExpireAfterAccess and ExpireAfterWrite are independent
//     and both lazy, checked on read and enforced opportunistically on
//     write, with CleanUp available for an explicit full pass.
//
//   - Loading: GetOrLoad coalesces concurrent loads for the same key into
//     one Loader call; RefreshAfterWrite starts an asynchronous reload
//     once an entry is stale enough, continuing to serve the old value
//     until the reload completes.
//
//   - Stats and notifications: Options.Stats receives live Hit/Miss/
//     Load/Evict/Size events; Options.RemovalListener receives a
//     RemovalNotification for every entry that leaves the cache, with
//     the cause (explicit, replaced, collected, expired, or size).
//
// Basic usage
//
//	c := concache.New[string, []byte](concache.Options[string, []byte]{
//	    MaxWeight: 10_000,
//	})
//	c.Put("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v // use value
//	}
//	c.Invalidate("a")
//
// With expiration
//
//	c := concache.New[string, string](concache.Options[string, string]{
//	    ExpireAfterWrite: 200 * time.Millisecond,
//	})
//	c.Put("tmp", "v")
//	time.Sleep(300 * time.Millisecond)
//	_, ok := c.Get("tmp") // ok == false (expired)
//
// With GetOrLoad
//
//	c := concache.New[string, string](concache.Options[string, string]{
//	    MaxWeight: 1024,
//	    Loader: concache.LoaderFunc[string, string](func(ctx context.Context, k string) (string, error) {
//	        return "v:" + k, nil // e.g. fetch from a database
//	    }),
//	})
//	v, err := c.GetOrLoad(context.Background(), "key")
//
// With weak values
//
//	c := concache.New[string, *Resource](concache.Options[string, *Resource]{
//	    ValueStrength: concache.Weak,
//	})
//
// Exporting metrics (example Prometheus adapter)
//
//	m := prom.New(nil, "concache", "demo", nil) // implements StatsSink
//	c := concache.New[string, []byte](concache.Options[string, []byte]{
//	    MaxWeight: 10_000,
//	    Stats:     m,
//	})
//
// Thread-safety & complexity
//
// All methods on Cache are safe for concurrent use. Get is lock-free;
// single-key writes take one stripe's lock for amortized O(1) time.
// Multi-key and whole-cache operations never hold more than one stripe
// lock at a time and are weakly consistent across stripes.
//
// See package cache/options.go for all available Options fields and
// package cache/loader.go for the Loader/BatchLoader/Reloader interfaces
// used to implement custom loading strategies.
package concache
