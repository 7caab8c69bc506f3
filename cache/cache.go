package concache

import (
	"context"
	"reflect"

	"github.com/avkirilov/concache/internal/util"
)

// ErrNoLoader is returned by GetOrLoad/GetAll when no Loader was
// configured in Options.
var ErrNoLoader = errNoLoader{}

type errNoLoader struct{}

func (errNoLoader) Error() string { return "concache: no Loader configured" }

// cache is a striped, generic, in-memory key/value cache implementing
// Cache[K,V]. All methods are safe for concurrent use, following the
// teacher's cache/cache.go top-level shape (New picks a hash, methods
// fan out to a shard) generalized from a flat shard array to striping,
// load coordination, refresh-ahead, and weak reclamation.
type cache[K comparable, V any] struct {
	stripes    []*stripe[K, V]
	stripeBits uint
	cfg        *cacheConfig[K, V]
	equal      func(a, b V) bool
}

// New constructs a cache from opt. Zero-valued fields pick the defaults
// documented on Options.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	concurrency := opt.ConcurrencyLevel
	if concurrency <= 0 {
		concurrency = util.ReasonableConcurrency()
	}
	n := util.StripeCount(concurrency, opt.MaxWeight)
	bits := util.StripeBits(n)

	weigher := opt.Weigher
	if weigher == nil {
		weigher = defaultWeigher[K, V]()
	}

	clock := opt.Clock
	if clock == nil {
		clock = newSystemClock()
	}

	stats := opt.Stats
	if stats == nil {
		stats = NoopStatsSink{}
	}

	bus := newNotificationBus[K, V](256, opt.RemovalListener, opt.Logger)

	cfg := &cacheConfig[K, V]{
		weigher:                weigher,
		expireAfterAccessNanos: opt.ExpireAfterAccess.Nanoseconds(),
		expireAfterWriteNanos:  opt.ExpireAfterWrite.Nanoseconds(),
		refreshAfterWriteNanos: opt.RefreshAfterWrite.Nanoseconds(),
		keyStrength:            opt.KeyStrength,
		valueStrength:          opt.ValueStrength,
		trackAccess:            opt.ExpireAfterAccess > 0 || opt.MaxWeight > 0,
		trackWrite:             opt.ExpireAfterWrite > 0 || opt.RefreshAfterWrite > 0,
		loader:                 opt.Loader,
		bus:                    bus,
		stats:                  stats,
		clock:                  clock,
		logger:                 opt.Logger,
	}

	perStripeWeight := int64(0)
	remainder := int64(0)
	if opt.MaxWeight > 0 {
		perStripeWeight = opt.MaxWeight / int64(n)
		remainder = opt.MaxWeight % int64(n)
		if perStripeWeight < 1 {
			perStripeWeight = 1
		}
	}

	stripes := make([]*stripe[K, V], n)
	for i := range stripes {
		w := perStripeWeight
		if int64(i) < remainder {
			w++ // spread MaxWeight's remainder across the first few stripes
		}
		stripes[i] = newStripe[K, V](cfg, minTableSize, w)
	}

	equal := opt.ValueEqual
	if equal == nil {
		equal = func(a, b V) bool { return reflect.DeepEqual(a, b) }
	}

	return &cache[K, V]{
		stripes:    stripes,
		stripeBits: bits,
		cfg:        cfg,
		equal:      equal,
	}
}

func (c *cache[K, V]) locate(key K) (*stripe[K, V], uint32) {
	h := util.Fnv64a(key)
	spread := util.Spread(h)
	idx := util.StripeIndex(spread, c.stripeBits)
	return c.stripes[idx], spread
}

// ---- Cache[K,V] ----

func (c *cache[K, V]) Get(key K) (V, bool) {
	s, hash := c.locate(key)
	return s.Get(hash, key)
}

func (c *cache[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	return c.getOrLoadWith(ctx, key, c.cfg.loader)
}

func (c *cache[K, V]) GetOrLoadWith(ctx context.Context, key K, loader Loader[K, V]) (V, error) {
	return c.getOrLoadWith(ctx, key, loader)
}

func (c *cache[K, V]) getOrLoadWith(ctx context.Context, key K, loader Loader[K, V]) (V, error) {
	if loader == nil {
		var zero V
		return zero, ErrNoLoader
	}
	s, hash := c.locate(key)
	return s.GetOrLoad(ctx, hash, key, loader)
}

func (c *cache[K, V]) GetAllPresent(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// GetAll fans out per key (spec §4.9): present keys are returned
// directly, missing keys go through the configured Loader's BatchLoader
// capability when available, or one GetOrLoad call per key otherwise.
func (c *cache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	var missing []K
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			out[k] = v
		} else {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	if c.cfg.loader == nil {
		return nil, ErrNoLoader
	}

	if batch, ok := c.cfg.loader.(BatchLoader[K, V]); ok {
		loaded, err := batch.LoadAll(ctx, missing)
		if err != nil {
			return nil, &ExecutionError{Cause: err}
		}
		for _, k := range missing {
			v, ok := loaded[k]
			if !ok || isNilLike(v) {
				return nil, &InvalidLoadError{Key: k}
			}
			c.Put(k, v)
			out[k] = v
		}
		return out, nil
	}

	for _, k := range missing {
		v, err := c.GetOrLoad(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (c *cache[K, V]) Put(key K, value V) (old V, hadOld bool) {
	s, hash := c.locate(key)
	return s.Put(hash, key, value)
}

func (c *cache[K, V]) PutIfAbsent(key K, value V) (existing V, hadExisting bool) {
	s, hash := c.locate(key)
	return s.PutIfAbsent(hash, key, value)
}

func (c *cache[K, V]) Replace(key K, value V) (old V, hadOld bool) {
	s, hash := c.locate(key)
	return s.Replace(hash, key, value)
}

func (c *cache[K, V]) ReplaceExpected(key K, expected, value V) bool {
	s, hash := c.locate(key)
	return s.ReplaceExpected(hash, key, expected, value, c.equal)
}

func (c *cache[K, V]) Invalidate(key K) (old V, hadOld bool) {
	s, hash := c.locate(key)
	return s.Remove(hash, key)
}

func (c *cache[K, V]) InvalidateExpected(key K, expected V) bool {
	s, hash := c.locate(key)
	return s.RemoveExpected(hash, key, expected, c.equal)
}

func (c *cache[K, V]) InvalidateAll(keys ...K) {
	for _, k := range keys {
		s, hash := c.locate(k)
		s.Invalidate(hash, k)
	}
}

// InvalidateEverything clears every entry in the cache. Snapshotting the
// key set first (rather than walking and mutating a stripe's table at
// once) keeps each removal going through the normal write path, so
// notifications and stats stay consistent.
func (c *cache[K, V]) InvalidateEverything() {
	for _, n := range c.collectAll() {
		s, hash := c.locate(n.Key)
		s.Invalidate(hash, n.Key)
	}
}

// Refresh triggers a background reload for key if it is present and a
// loader is configured; it never raises to the caller (spec §6).
func (c *cache[K, V]) Refresh(ctx context.Context, key K) {
	if c.cfg.loader == nil {
		return
	}
	s, hash := c.locate(key)
	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	if e == nil {
		return
	}
	h := e.holder.Load()
	if h == nil || h.IsLoading() {
		return
	}
	s.maybeScheduleRefreshNow(e, h)
}

func (c *cache[K, V]) Size() int64 {
	var total int64
	for _, s := range c.stripes {
		total += s.Len()
	}
	return total
}

func (c *cache[K, V]) IsEmpty() bool { return c.Size() == 0 }

// ContainsValue implements spec §4.9's bounded-retry scan: each stripe
// gets up to three passes via a ghostScan; a pass whose modCount held
// steady and found no match confirms that stripe's negative. A stripe
// that never stabilizes within three passes is accepted as negative
// anyway, an accepted false-negative under adversarial interleaving
// (spec §9's open question).
func (c *cache[K, V]) ContainsValue(value V) bool {
	scan := newGhostScan(len(c.stripes))
	for pass := 0; pass < 3 && !scan.Empty(); pass++ {
		for _, idx := range scan.Take() {
			found, stable := c.stripes[idx].ScanForValue(func(v V) bool { return c.equal(v, value) })
			if found {
				return true
			}
			if !stable {
				scan.Retry(idx)
			}
		}
	}
	return false
}

// AsMap returns a weakly-consistent point-in-time snapshot of every live
// entry (spec §4.10).
func (c *cache[K, V]) AsMap() map[K]V {
	out := make(map[K]V)
	for _, n := range c.collectAll() {
		out[n.Key] = n.Value
	}
	return out
}

func (c *cache[K, V]) collectAll() []RemovalNotification[K, V] {
	var all []RemovalNotification[K, V]
	for _, s := range c.stripes {
		all = append(all, s.Snapshot()...)
	}
	return all
}

// CleanUp runs the explicit-call maintenance tier on every stripe: the
// same cleanup reads and writes trigger opportunistically (reclamation
// drain, expiration), plus the RoaringBitmap-backed reclaimed-bucket
// sweep that catches entries whose collection notification was dropped
// (spec §4.7, §4.8).
func (c *cache[K, V]) CleanUp() {
	for _, s := range c.stripes {
		s.mu.Lock()
		s.cleanupLocked()
		s.mu.Unlock()
		s.cfg.bus.drain()
		s.SweepReclaimed()
		s.cfg.bus.drain()
	}
}

// Stats aggregates every stripe's counters into one snapshot.
func (c *cache[K, V]) Stats() Stats {
	var total Stats
	total.EvictionsByCause = map[RemovalCause]int64{}
	for _, s := range c.stripes {
		total = plus(total, s.stats.snapshot())
	}
	return total
}

// Iterator returns a weakly-consistent iterator over the whole cache
// (spec §4.10).
func (c *cache[K, V]) Iterator() *Iterator[K, V] {
	return newIterator(c.collectAll())
}
