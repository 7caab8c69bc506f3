package concache

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/avkirilov/concache/internal/singleflight"
	"github.com/avkirilov/concache/internal/util"
)

const (
	minTableSize      = 16
	maxTableSize      = 1 << 30
	growLoadFactor    = 0.75
	readDrainInterval = 64 // post-read cleanup trigger, spec §4.2/§4.7
	reclaimDrainLimit = 16 // spec §4.8
)

// bucketTable is a stripe's hash table: a power-of-two array of bucket
// heads, each an atomically settable cell so the read path can walk a
// chain without the stripe lock (spec §5). Growing the table swaps in an
// entirely new bucketTable rather than mutating this one in place.
type bucketTable[K comparable, V any] struct {
	buckets []atomic.Pointer[entry[K, V]]
	mask    uint32
}

func newBucketTable[K comparable, V any](size int) *bucketTable[K, V] {
	return &bucketTable[K, V]{buckets: make([]atomic.Pointer[entry[K, V]], size), mask: uint32(size - 1)}
}

// stripe is spec component C8, the engine: intra-stripe hash table,
// eviction/expiration, load coordination, and reclamation. It generalizes
// the teacher's cache/shard.go (map + intrusive MRU/LRU list guarded by
// one lock) into the fuller protocol of spec §4.2-§4.8.
type stripe[K comparable, V any] struct {
	mu sync.Mutex // guards everything below except table/count, which also support lock-free reads

	table    atomic.Pointer[bucketTable[K, V]]
	count    atomic.Int64  // spec §3: "volatile integer written only under the lock"
	modCount atomic.Uint64 // bumped on every insert/remove/value-replace; backs contains_value's stability check

	totalWeight int64 // guarded by mu
	maxWeight   int64 // 0 = unbounded; constant after construction
	threshold   int   // guarded by mu; grow when count > threshold

	accessQueue *entryQueue[K, V]
	writeQueue  *entryQueue[K, V]

	recency *recencyBuffer[K, V]

	keys   *reclaimChannel[K, V] // fed when a Weak key is collected
	values *reclaimChannel[K, V] // fed when a Weak value is collected
	index  *reclaimIndex         // bucket-level backstop for dropped channel pushes

	stats *stripeStats

	reads atomic.Uint32 // post-read cleanup trigger (spec §4.2)

	recursion *singleflight.RecursionGuard // de-duplicates concurrent refresh starts per entry

	cfg *cacheConfig[K, V]
}

func newStripe[K comparable, V any](cfg *cacheConfig[K, V], initialSize int, maxWeight int64) *stripe[K, V] {
	if initialSize < minTableSize {
		initialSize = minTableSize
	}
	s := &stripe[K, V]{
		maxWeight:   maxWeight,
		accessQueue: newAccessQueue[K, V](),
		writeQueue:  newWriteQueue[K, V](),
		recency:     newRecencyBuffer[K, V](256),
		keys:        newReclaimChannel[K, V](64),
		values:      newReclaimChannel[K, V](64),
		index:       newReclaimIndex(),
		stats:       &stripeStats{},
		recursion:   singleflight.NewRecursionGuard(),
		cfg:         cfg,
	}
	s.table.Store(newBucketTable[K, V](initialSize))
	s.threshold = int(float64(initialSize) * growLoadFactor)
	return s
}

func (s *stripe[K, V]) Len() int64 { return s.count.Load() }

// newEntryFor allocates an entry honoring the configured key strength.
func (s *stripe[K, V]) newEntryFor(key K, hash uint32) *entry[K, V] {
	if s.cfg.keyStrength == Weak {
		return newWeakKeyEntry(s, key, hash)
	}
	return newStrongKeyEntry[K, V](key, hash)
}

// newValueHolderFor builds a Strong or Reclaimable holder for v honoring
// the configured value strength.
func (s *stripe[K, V]) newValueHolderFor(owner *entry[K, V], v V, weight int32) *valueHolder[K, V] {
	if s.cfg.valueStrength == Weak {
		return reclaimableHolder(s, owner, v, weight)
	}
	return strongHolder[K, V](v, weight)
}

func keyEquivalent[K comparable](a, b K) bool { return a == b }

// find walks the bucket chain for hash/key without acquiring the lock
// (spec §4.2). It returns the first live chain entry whose key compares
// equal, regardless of whether its holder is Loading/Unset/stale — callers
// decide how to treat each holder kind.
func (s *stripe[K, V]) find(tbl *bucketTable[K, V], hash uint32, key K) *entry[K, V] {
	idx := util.BucketIndex(hash, len(tbl.buckets))
	for e := tbl.buckets[idx].Load(); e != nil; e = e.next.Load() {
		if e.hash != hash {
			continue
		}
		if k, ok := e.Key(); ok && keyEquivalent(k, key) {
			return e
		}
	}
	return nil
}

// Get is the lock-free read path (spec §4.2), and the plain get_if_present
// entry point: every absent result counts a miss (spec §6's get_if_present
// contract; Testable Property S1 "stats.hits=2, misses=1").
func (s *stripe[K, V]) Get(hash uint32, key K) (V, bool) {
	v, ok := s.tryGet(hash, key)
	if !ok {
		s.recordMiss()
	}
	return v, ok
}

// tryGet is Get's counting-free core, shared with GetOrLoad's optimistic
// pre-check (spec §4.4 step 1): GetOrLoad records its own, single miss per
// call (Testable Property #5: "miss-count increases by N" for N concurrent
// loaders, not 2N), so the shared fast path must not also count one here.
func (s *stripe[K, V]) tryGet(hash uint32, key K) (V, bool) {
	var zero V
	if s.count.Load() == 0 {
		return zero, false
	}
	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	if e == nil {
		s.afterRead()
		return zero, false
	}

	h := e.holder.Load()
	if h == nil {
		s.afterRead()
		return zero, false
	}
	if h.IsLoading() {
		// A refresh (spec §4.5) is in flight: fall back to the stale
		// value it is shadowing instead of reporting a miss, matching
		// the original's LoadingValueReference.get() behavior. A fresh
		// load with nothing to fall back to is still a miss.
		if v, ok := h.Stale(); ok {
			s.recency.Record(e)
			s.stats.recordHit()
			s.cfg.stats.Hit()
			s.afterRead()
			return v, true
		}
		s.afterRead()
		return zero, false
	}
	if !s.isLiveLocked_unsynced(e, h) {
		s.afterRead()
		return zero, false
	}

	v, ok := h.Value()
	if !ok {
		s.afterRead()
		return zero, false
	}
	if s.cfg.trackAccess {
		e.accessNanos.Store(s.cfg.clock.Now())
	}
	s.recency.Record(e)
	s.stats.recordHit()
	s.cfg.stats.Hit()
	s.maybeScheduleRefresh(e, h)
	s.afterRead()
	return v, true
}

func (s *stripe[K, V]) recordMiss() {
	s.stats.recordMiss()
	s.cfg.stats.Miss()
}

// isLiveLocked_unsynced checks liveness without the stripe lock: key not
// reclaimed, value holder reports a value, and neither expiration policy
// has elapsed. Reading accessNanos/writeNanos lock-free is safe because
// both are atomics: writeNanos is only written under the lock, and
// accessNanos is written under the lock and by the lock-free read path on
// a hit.
func (s *stripe[K, V]) isLiveLocked_unsynced(e *entry[K, V], h *valueHolder[K, V]) bool {
	if s.cfg.keyStrength == Weak {
		if _, ok := e.Key(); !ok {
			return false
		}
	}
	now := s.cfg.clock.Now()
	if s.cfg.expireAfterAccessNanos > 0 {
		if now-e.accessNanos.Load() >= s.cfg.expireAfterAccessNanos {
			return false
		}
	}
	if s.cfg.expireAfterWriteNanos > 0 {
		if now-e.writeNanos.Load() >= s.cfg.expireAfterWriteNanos {
			return false
		}
	}
	return true
}

func (s *stripe[K, V]) afterRead() {
	n := s.reads.Add(1)
	if n%readDrainInterval == 0 {
		if s.mu.TryLock() {
			s.cleanupLocked()
			s.mu.Unlock()
		}
	}
}

// maybeScheduleRefresh implements spec §4.5: if the entry is stale under
// refreshAfterWrite, atomically install a Loading holder that preserves
// the current holder, and kick off the reload outside the lock. The
// calling read already has its value; this never blocks it.
func (s *stripe[K, V]) maybeScheduleRefresh(e *entry[K, V], h *valueHolder[K, V]) {
	if s.cfg.refreshAfterWriteNanos <= 0 || s.cfg.loader == nil {
		return
	}
	now := s.cfg.clock.Now()
	if now-e.writeNanos.Load() < s.cfg.refreshAfterWriteNanos {
		return
	}
	s.startRefresh(e, h)
}

// maybeScheduleRefreshNow forces a refresh-ahead reload regardless of
// elapsed time, backing the caller-triggered Refresh operation (spec §6).
// It is still a no-op if a load/refresh for e is already in flight.
func (s *stripe[K, V]) maybeScheduleRefreshNow(e *entry[K, V], h *valueHolder[K, V]) {
	if s.cfg.loader == nil {
		return
	}
	s.startRefresh(e, h)
}

func (s *stripe[K, V]) startRefresh(e *entry[K, V], h *valueHolder[K, V]) {
	if !s.recursion.Enter(e) {
		return // a refresh (or load) for this entry is already in flight
	}
	loading := loadingHolder[K, V](h)
	if !e.holder.CompareAndSwap(h, loading) {
		s.recursion.Exit(e)
		return
	}
	key, ok := e.Key()
	if !ok {
		s.recursion.Exit(e)
		return
	}
	oldVal, _ := h.Value()
	go s.runReload(e, loading, key, oldVal)
}

func (s *stripe[K, V]) runReload(e *entry[K, V], loading *valueHolder[K, V], key K, oldVal V) {
	defer s.recursion.Exit(e)
	start := s.cfg.clock.Now()
	ch := reload[K, V](context.Background(), s.cfg.loader, key, oldVal)
	res := <-ch
	elapsed := s.cfg.clock.Now() - start

	if res.Err != nil {
		s.logf("concache: refresh failed for key %v: %v", key, res.Err)
		s.stats.recordLoad(false, elapsed)
		s.cfg.stats.Load(false, elapsed)
		loading.future.Complete(oldVal, res.Err) // wake any waiter; value is unused on error
		s.abandonLoading(e, loading)
		return
	}
	s.stats.recordLoad(true, elapsed)
	s.cfg.stats.Load(true, elapsed)
	loading.future.Complete(res.Value, nil)
	s.storeLoadedValue(e, loading, key, res.Value)
}

func (s *stripe[K, V]) logf(format string, args ...any) {
	if s.cfg.logger != nil {
		s.cfg.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// abandonLoading removes a Loading holder that failed, restoring the old
// holder it was shadowing so the entry remains usable (refresh failures
// must not surface to readers; spec §4.5, §7).
func (s *stripe[K, V]) abandonLoading(e *entry[K, V], loading *valueHolder[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.holder.CompareAndSwap(loading, loading.old) {
		return
	}
	// Someone else already replaced the Loading holder (e.g. a direct
	// Put); nothing to restore.
}

// GetOrLoad implements spec §4.4, the hardest control path: at-most-one
// concurrent load per (key, cache) entry, recursive-load detection, and
// miss/load accounting.
func (s *stripe[K, V]) GetOrLoad(ctx context.Context, hash uint32, key K, loader Loader[K, V]) (V, error) {
	var zero V

	if v, ok := s.tryGet(hash, key); ok {
		return v, nil
	}

	s.mu.Lock()
	s.cleanupLocked()

	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	var loading *valueHolder[K, V]
	leader := false

	if e != nil {
		h := e.holder.Load()
		switch {
		case h != nil && h.IsLoading():
			loading = h
		case h != nil && (h.IsCollected() || !s.isLiveLocked_unsynced(e, h)):
			cause := CauseExpired
			if h.IsCollected() {
				cause = CauseCollected
			}
			key, hasKey := e.Key()
			val, hasVal := prevLiveValue(h)
			s.removeEntryLocked(e, cause)
			if hasKey {
				s.enqueueLocked(key, val, hasVal, cause)
			} else if cause == CauseCollected {
				s.enqueueLocked(zeroOf[K](), val, false, cause)
			}
			e = nil
		case h != nil:
			if v, ok := h.Value(); ok {
				if s.cfg.trackAccess {
					e.accessNanos.Store(s.cfg.clock.Now())
				}
				s.mu.Unlock()
				s.recency.Record(e)
				s.stats.recordHit()
				s.cfg.stats.Hit()
				s.maybeScheduleRefresh(e, h)
				return v, nil
			}
		}
	}

	if e == nil {
		e = s.newEntryFor(key, hash)
		loading = loadingHolder[K, V](nil)
		e.holder.Store(loading)
		s.linkNewEntryLocked(tbl, hash, e)
		leader = true
	} else if loading == nil {
		// e existed but neither the Loading, collected/expired, nor live
		// branches above matched; impossible under the lock, but fall
		// back to becoming the leader rather than wedging the caller.
		loading = loadingHolder[K, V](nil)
		e.holder.Store(loading)
		leader = true
	}

	s.mu.Unlock()
	s.cfg.bus.drain()

	if leader {
		loadCtx, _ := enterLoadChain(ctx, e)

		start := s.cfg.clock.Now()
		v, err := func() (v V, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = recoverAsUncheckedExecutionError(key, r)
				}
			}()
			return loader.Load(loadCtx, key)
		}()
		elapsed := s.cfg.clock.Now() - start

		s.stats.recordMiss()
		s.cfg.stats.Miss()

		if err == nil && isNilLike(v) {
			err = &InvalidLoadError{Key: key}
		}

		if err != nil {
			s.stats.recordLoad(false, elapsed)
			s.cfg.stats.Load(false, elapsed)
			loading.future.Complete(zero, err)
			s.removeLoadingLocked(e, loading)
			switch err.(type) {
			case *InvalidLoadError, *UncheckedExecutionError:
				return zero, err
			}
			return zero, &ExecutionError{Key: key, Cause: err}
		}
		s.stats.recordLoad(true, elapsed)
		s.cfg.stats.Load(true, elapsed)
		loading.future.Complete(v, nil)
		if !s.storeLoadedValue(e, loading, key, v) {
			s.notifyReplaced(key, v)
		}
		return v, nil
	}

	// Not the leader: someone else (possibly this same logical call,
	// nested through the loader) is already loading e. If e is already in
	// this call's chain, waiting would deadlock against ourselves — fail
	// fast instead (spec §4.4's recursive-load error).
	if inLoadChain(ctx, e) {
		return zero, &RecursiveLoadError{Key: key}
	}

	v, err := loading.future.Wait()
	s.stats.recordMiss()
	s.cfg.stats.Miss()
	if err != nil {
		switch err.(type) {
		case *InvalidLoadError, *UncheckedExecutionError:
			return zero, err
		}
		return zero, &ExecutionError{Key: key, Cause: err}
	}
	return v, nil
}

// linkNewEntryLocked publishes a freshly allocated entry into the bucket
// chain and updates count. Must hold the lock.
func (s *stripe[K, V]) linkNewEntryLocked(tbl *bucketTable[K, V], hash uint32, e *entry[K, V]) {
	idx := util.BucketIndex(hash, len(tbl.buckets))
	head := tbl.buckets[idx].Load()
	e.next.Store(head)
	tbl.buckets[idx].Store(e)
	e.inTable.Store(true)
	s.modCount.Add(1)
	if s.cfg.keyStrength == Weak {
		s.index.markKey(uint32(idx))
	}
	if s.cfg.valueStrength == Weak {
		s.index.markValue(uint32(idx))
	}
	s.count.Add(1)
	s.growIfNeededLocked()
	s.cfg.stats.Size(s.count.Load(), s.totalWeight)
}

// SweepReclaimed is the explicit-call tier of amortized cleanup (spec
// §4.7): it rechecks every bucket ever flagged by reclaimIndex for a
// key or value whose weak reference was collected but whose
// runtime.AddCleanup notification was dropped because the reclamation
// channel was full at the time. Must be called without the lock held;
// it acquires it itself.
func (s *stripe[K, V]) SweepReclaimed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := s.table.Load()
	for _, b := range s.index.flaggedBuckets() {
		if int(b) >= len(tbl.buckets) {
			continue
		}
		var dead []*entry[K, V]
		for e := tbl.buckets[b].Load(); e != nil; e = e.next.Load() {
			if _, ok := e.Key(); !ok {
				dead = append(dead, e)
				continue
			}
			if h := e.holder.Load(); h != nil && h.IsCollected() {
				dead = append(dead, e)
			}
		}
		for _, e := range dead {
			key, hasKey := e.Key()
			val, hasVal := prevLiveValue(e.holder.Load())
			s.removeEntryLocked(e, CauseCollected)
			if hasKey {
				s.enqueueLocked(key, val, hasVal, CauseCollected)
			} else {
				s.enqueueLocked(zeroOf[K](), val, hasVal, CauseCollected)
			}
		}
	}
}

// removeLoadingLocked removes a Loading placeholder that failed to load
// and had no prior value to fall back to (a fresh miss, not a refresh).
func (s *stripe[K, V]) removeLoadingLocked(e *entry[K, V], loading *valueHolder[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.holder.Load() == loading {
		s.unlinkEntryLocked(e)
	}
}

// storeLoadedValue implements spec §4.4's store_loaded_value: publish the
// freshly loaded value if, and only if, the Loading holder we installed
// is still current. Returns false if a concurrent writer clobbered it
// (the load result is then dropped, reported as Replaced).
func (s *stripe[K, V]) storeLoadedValue(e *entry[K, V], loading *valueHolder[K, V], key K, v V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.holder.Load() != loading {
		return false
	}

	weight := s.cfg.weigher(key, v)
	newHolder := s.newValueHolderFor(e, v, weight)
	e.holder.Store(newHolder)
	s.modCount.Add(1)

	now := s.cfg.clock.Now()
	e.writeNanos.Store(now)
	e.accessNanos.Store(now)

	if s.cfg.trackWrite {
		s.writeQueue.MoveToTail(e)
	}
	if s.cfg.trackAccess {
		s.accessQueue.MoveToTail(e)
	}

	wasActive := loading.old != nil && loading.old.IsActive()
	if !wasActive {
		s.totalWeight += int64(weight)
	} else {
		s.totalWeight += int64(weight) - int64(loading.old.Weight())
	}

	s.evictForSizeLocked()
	s.cfg.stats.Size(s.count.Load(), s.totalWeight)
	return true
}

func (s *stripe[K, V]) notifyReplaced(key K, v V) {
	if s.cfg.bus == nil {
		return
	}
	s.cfg.bus.enqueue(RemovalNotification[K, V]{Value: v, HasValue: true, Cause: CauseReplaced})
	s.cfg.bus.drain()
	_ = key
}

// ---- write path: Put / PutIfAbsent / Replace / Remove (spec §4.3) ----

func (s *stripe[K, V]) Put(hash uint32, key K, v V) (old V, hadOld bool) {
	s.mu.Lock()
	s.cleanupLocked()

	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	weight := s.cfg.weigher(key, v)
	now := s.cfg.clock.Now()

	if e == nil {
		e = s.newEntryFor(key, hash)
		e.holder.Store(s.newValueHolderFor(e, v, weight))
		e.writeNanos.Store(now)
		e.accessNanos.Store(now)
		s.linkNewEntryLocked(tbl, hash, e)
		if s.cfg.trackWrite {
			s.writeQueue.PushTail(e)
		}
		if s.cfg.trackAccess {
			s.accessQueue.PushTail(e)
		}
		s.totalWeight += int64(weight)
		s.evictForSizeLocked()
		s.mu.Unlock()
		s.cfg.bus.drain()
		var zero V
		return zero, false
	}

	prev := e.holder.Load()
	prevVal, prevOK := prevLiveValue(prev)
	newHolder := s.newValueHolderFor(e, v, weight)
	e.holder.Store(newHolder)
	s.modCount.Add(1)
	e.writeNanos.Store(now)
	e.accessNanos.Store(now)

	if s.cfg.trackWrite {
		s.writeQueue.MoveToTail(e)
	}
	if s.cfg.trackAccess {
		s.accessQueue.MoveToTail(e)
	}

	if prev != nil && prev.IsActive() {
		s.totalWeight += int64(weight) - int64(prev.Weight())
	} else {
		s.totalWeight += int64(weight)
	}
	s.evictForSizeLocked()

	if prevOK {
		s.enqueueLocked(key, prevVal, true, CauseReplaced)
	} else if prev != nil && prev.IsCollected() {
		s.enqueueLocked(key, prevVal, false, CauseCollected)
	}
	s.mu.Unlock()
	s.cfg.bus.drain()
	return prevVal, prevOK
}

func prevLiveValue[K comparable, V any](h *valueHolder[K, V]) (V, bool) {
	if h == nil {
		var zero V
		return zero, false
	}
	return h.Value()
}

// PutIfAbsent returns the existing live value without writing, or writes
// v and returns absent.
func (s *stripe[K, V]) PutIfAbsent(hash uint32, key K, v V) (existing V, hadExisting bool) {
	s.mu.Lock()
	s.cleanupLocked()

	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	if e != nil {
		h := e.holder.Load()
		if h != nil {
			if val, ok := h.Value(); ok {
				s.mu.Unlock()
				return val, true
			}
		}
	}

	weight := s.cfg.weigher(key, v)
	now := s.cfg.clock.Now()
	if e == nil {
		e = s.newEntryFor(key, hash)
		s.linkNewEntryLocked(tbl, hash, e)
	}
	e.holder.Store(s.newValueHolderFor(e, v, weight))
	s.modCount.Add(1)
	e.writeNanos.Store(now)
	e.accessNanos.Store(now)
	if s.cfg.trackWrite {
		s.writeQueue.MoveToTail(e)
	}
	if s.cfg.trackAccess {
		s.accessQueue.MoveToTail(e)
	}
	s.totalWeight += int64(weight)
	s.evictForSizeLocked()
	s.mu.Unlock()
	s.cfg.bus.drain()
	var zero V
	return zero, false
}

// Replace implements unconditional replace(k,v): returns the prior value
// if, and only if, a live entry existed.
func (s *stripe[K, V]) Replace(hash uint32, key K, v V) (old V, hadOld bool) {
	s.mu.Lock()
	s.cleanupLocked()

	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	if e == nil {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	prev := e.holder.Load()
	prevVal, prevOK := prevLiveValue(prev)
	if prev == nil || (!prevOK && !prev.IsCollected()) {
		s.mu.Unlock()
		var zero V
		return zero, false
	}

	weight := s.cfg.weigher(key, v)
	now := s.cfg.clock.Now()
	e.holder.Store(s.newValueHolderFor(e, v, weight))
	s.modCount.Add(1)
	e.writeNanos.Store(now)
	e.accessNanos.Store(now)
	if s.cfg.trackWrite {
		s.writeQueue.MoveToTail(e)
	}
	if s.cfg.trackAccess {
		s.accessQueue.MoveToTail(e)
	}
	if prev.IsActive() {
		s.totalWeight += int64(weight) - int64(prev.Weight())
	} else {
		s.totalWeight += int64(weight)
	}
	s.evictForSizeLocked()
	if prevOK {
		s.enqueueLocked(key, prevVal, true, CauseReplaced)
	} else {
		s.enqueueLocked(key, prevVal, false, CauseCollected)
	}
	s.mu.Unlock()
	s.cfg.bus.drain()
	return prevVal, prevOK
}

// ReplaceExpected implements replace(k, expected, v) using value
// equivalence (spec §4.3).
func (s *stripe[K, V]) ReplaceExpected(hash uint32, key K, expected, v V, equal func(V, V) bool) bool {
	s.mu.Lock()
	s.cleanupLocked()

	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	if e == nil {
		s.mu.Unlock()
		return false
	}
	prev := e.holder.Load()
	prevVal, prevOK := prevLiveValue(prev)
	if !prevOK || !equal(prevVal, expected) {
		s.mu.Unlock()
		return false
	}

	weight := s.cfg.weigher(key, v)
	now := s.cfg.clock.Now()
	e.holder.Store(s.newValueHolderFor(e, v, weight))
	s.modCount.Add(1)
	e.writeNanos.Store(now)
	e.accessNanos.Store(now)
	if s.cfg.trackWrite {
		s.writeQueue.MoveToTail(e)
	}
	if s.cfg.trackAccess {
		s.accessQueue.MoveToTail(e)
	}
	s.totalWeight += int64(weight) - int64(prev.Weight())
	s.evictForSizeLocked()
	s.enqueueLocked(key, prevVal, true, CauseReplaced)
	s.mu.Unlock()
	s.cfg.bus.drain()
	return true
}

func (s *stripe[K, V]) Remove(hash uint32, key K) (old V, hadOld bool) {
	s.mu.Lock()
	s.cleanupLocked()

	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	if e == nil {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	h := e.holder.Load()
	val, ok := prevLiveValue(h)
	cause := CauseExplicit
	if !ok && h != nil && h.IsCollected() {
		cause = CauseCollected
	}
	s.removeEntryLocked(e, cause)
	if ok {
		s.enqueueLocked(key, val, true, cause)
	} else if cause == CauseCollected {
		s.enqueueLocked(key, val, false, cause)
	}
	s.mu.Unlock()
	s.cfg.bus.drain()
	return val, ok
}

func (s *stripe[K, V]) RemoveExpected(hash uint32, key K, expected V, equal func(V, V) bool) bool {
	s.mu.Lock()
	s.cleanupLocked()

	tbl := s.table.Load()
	e := s.find(tbl, hash, key)
	if e == nil {
		s.mu.Unlock()
		return false
	}
	h := e.holder.Load()
	val, ok := prevLiveValue(h)
	if !ok || !equal(val, expected) {
		s.mu.Unlock()
		return false
	}
	s.removeEntryLocked(e, CauseExplicit)
	s.enqueueLocked(key, val, true, CauseExplicit)
	s.mu.Unlock()
	s.cfg.bus.drain()
	return true
}

// Invalidate removes a key unconditionally without reporting the prior
// value (used by the facade's InvalidateAll fan-out).
func (s *stripe[K, V]) Invalidate(hash uint32, key K) {
	s.Remove(hash, key)
}

// ---- locked internals ----

// enqueueLocked stages a removal notification; actual delivery happens
// in the caller's post-write cleanup, after the lock is released.
func (s *stripe[K, V]) enqueueLocked(key K, val V, hasVal bool, cause RemovalCause) {
	s.stats.recordEviction(cause)
	s.cfg.stats.Evict(cause)
	if s.cfg.bus == nil {
		return
	}
	s.cfg.bus.enqueue(RemovalNotification[K, V]{Key: key, HasKey: true, Value: val, HasValue: hasVal, Cause: cause})
}

// removeEntryLocked unlinks e from the table and both ordering queues and
// decrements count/totalWeight. Must hold the lock.
func (s *stripe[K, V]) removeEntryLocked(e *entry[K, V], cause RemovalCause) {
	h := e.holder.Load()
	s.modCount.Add(1)
	s.unlinkEntryLocked(e)
	if h != nil && h.IsActive() {
		s.totalWeight -= int64(h.Weight())
		if s.totalWeight < 0 {
			s.totalWeight = 0
		}
	}
	s.cfg.stats.Size(s.count.Load(), s.totalWeight)
}

func (s *stripe[K, V]) unlinkEntryLocked(e *entry[K, V]) {
	tbl := s.table.Load()
	idx := util.BucketIndex(e.hash, len(tbl.buckets))
	head := tbl.buckets[idx].Load()
	if head == e {
		tbl.buckets[idx].Store(e.next.Load())
	} else {
		for cur := head; cur != nil; cur = cur.next.Load() {
			if cur.next.Load() == e {
				cur.next.Store(e.next.Load())
				break
			}
		}
	}
	e.next.Store(nil)
	e.inTable.Store(false)

	if s.cfg.trackAccess {
		s.accessQueue.Remove(e)
	}
	if s.cfg.trackWrite {
		s.writeQueue.Remove(e)
	}
	s.count.Add(-1)
}

// cleanupLocked runs pre-write cleanup (spec §4.7): drain reclamation
// channels, expire past-due entries (draining recency first so access
// times are current), unconditionally. Must hold the lock.
func (s *stripe[K, V]) cleanupLocked() {
	s.drainReclamationLocked()
	if s.cfg.trackAccess {
		s.recency.Drain(s.accessQueue)
	}
	s.expireEntriesLocked()
}

func (s *stripe[K, V]) drainReclamationLocked() {
	for _, e := range s.keys.drain(reclaimDrainLimit) {
		if e.inTable.Load() {
			s.removeEntryLocked(e, CauseCollected)
			s.enqueueLocked(zeroOf[K](), zeroOf[V](), false, CauseCollected)
		}
	}
	for _, e := range s.values.drain(reclaimDrainLimit) {
		if e.inTable.Load() {
			key, hasKey := e.Key()
			s.removeEntryLocked(e, CauseCollected)
			if hasKey {
				s.enqueueLocked(key, zeroOf[V](), false, CauseCollected)
			}
		}
	}
}

func zeroOf[T any]() T {
	var z T
	return z
}

// expireEntriesLocked evicts entries past their write or access deadline,
// walking each queue from the eldest end (spec §4.6). Must hold the lock.
func (s *stripe[K, V]) expireEntriesLocked() {
	now := s.cfg.clock.Now()

	if s.cfg.trackWrite && s.cfg.expireAfterWriteNanos > 0 {
		for {
			e := s.writeQueue.Front()
			if e == nil || now-e.writeNanos.Load() < s.cfg.expireAfterWriteNanos {
				break
			}
			key, hasKey := e.Key()
			val, hasVal := prevLiveValue(e.holder.Load())
			s.removeEntryLocked(e, CauseExpired)
			if hasKey {
				s.enqueueLocked(key, val, hasVal, CauseExpired)
			}
		}
	}

	if s.cfg.trackAccess && s.cfg.expireAfterAccessNanos > 0 {
		for {
			e := s.accessQueue.Front()
			if e == nil || now-e.accessNanos.Load() < s.cfg.expireAfterAccessNanos {
				break
			}
			key, hasKey := e.Key()
			val, hasVal := prevLiveValue(e.holder.Load())
			s.removeEntryLocked(e, CauseExpired)
			if hasKey {
				s.enqueueLocked(key, val, hasVal, CauseExpired)
			}
		}
	}
}

// evictForSizeLocked implements spec §4.3's weight-based approximation:
// if the cap is set and exceeded, evict from the access-queue head
// (skipping zero-weight holders) until back under budget. Must hold the
// lock.
func (s *stripe[K, V]) evictForSizeLocked() {
	if s.maxWeight > 0 {
		for s.totalWeight > s.maxWeight {
			var victim *entry[K, V]
			s.accessQueue.Each(func(e *entry[K, V]) bool {
				h := e.holder.Load()
				if h != nil && h.Weight() > 0 {
					victim = e
					return false
				}
				return true
			})
			if victim == nil {
				break
			}
			key, hasKey := victim.Key()
			val, hasVal := prevLiveValue(victim.holder.Load())
			s.removeEntryLocked(victim, CauseSize)
			if hasKey {
				s.enqueueLocked(key, val, hasVal, CauseSize)
			}
		}
	}
	s.growIfNeededLocked()
}

// growIfNeededLocked doubles the table when the load factor is exceeded,
// up to maxTableSize (spec §4.1). Existing entries are relinked into the
// new table in place; a concurrent lock-free reader that began walking
// the old table may, in the narrow window of this relink, fail to find an
// entry that moved to a different bucket. This mirrors Guava's
// Segment.expand, which carries the identical tiny non-linearizability
// window; the spec's Non-goals already exclude strict cross-operation
// ordering guarantees.
func (s *stripe[K, V]) growIfNeededLocked() {
	if int(s.count.Load()) <= s.threshold {
		return
	}
	old := s.table.Load()
	newSize := len(old.buckets) * 2
	if newSize > maxTableSize {
		return
	}
	next := newBucketTable[K, V](newSize)
	for i := range old.buckets {
		for e := old.buckets[i].Load(); e != nil; {
			nxt := e.next.Load()
			idx := util.BucketIndex(e.hash, newSize)
			e.next.Store(next.buckets[idx].Load())
			next.buckets[idx].Store(e)
			e = nxt
		}
	}
	s.table.Store(next)
	s.threshold = int(float64(newSize) * growLoadFactor)
}

// Snapshot returns every live (key, value) pair for iteration (spec
// §4.10). It is weakly consistent: no lock is held across the whole
// walk, only while reading each bucket head.
func (s *stripe[K, V]) Snapshot() []RemovalNotification[K, V] {
	tbl := s.table.Load()
	out := make([]RemovalNotification[K, V], 0, s.count.Load())
	for i := len(tbl.buckets) - 1; i >= 0; i-- {
		for e := tbl.buckets[i].Load(); e != nil; e = e.next.Load() {
			h := e.holder.Load()
			if h == nil || h.IsLoading() {
				continue
			}
			key, hasKey := e.Key()
			if !hasKey {
				continue
			}
			v, ok := h.Value()
			if !ok {
				continue
			}
			out = append(out, RemovalNotification[K, V]{Key: key, HasKey: true, Value: v, HasValue: true})
		}
	}
	return out
}

// ScanForValue implements one contains_value pass over this stripe (spec
// §4.9). found reports a match; stable reports whether modCount held
// steady across the scan, meaning a negative result can be trusted without
// another pass.
func (s *stripe[K, V]) ScanForValue(equal func(V) bool) (found, stable bool) {
	before := s.modCount.Load()
	tbl := s.table.Load()
	for i := range tbl.buckets {
		for e := tbl.buckets[i].Load(); e != nil; e = e.next.Load() {
			h := e.holder.Load()
			if h == nil || h.IsLoading() {
				continue
			}
			if v, ok := h.Value(); ok && equal(v) {
				return true, true
			}
		}
	}
	after := s.modCount.Load()
	return false, before == after
}
