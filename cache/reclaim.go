package concache

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// reclaimIndex tracks, per stripe, which bucket indices have ever held a
// Weak-strength key or value. It is an over-approximation by design: a
// bucket is flagged the first time a reclaimable entry lands there and is
// never unflagged, so the worst case is a sweep visiting a few buckets
// that no longer need it, never missing one that does.
//
// This exists because a reclamation channel push can be dropped when the
// channel is full (cache/weakref.go); a dropped push permanently loses
// that one collection notification since runtime.AddCleanup fires once.
// CleanUp's full sweep (spec §4.7's explicit-call cleanup tier) uses this
// index to find and recheck exactly the buckets that could possibly be
// holding a silently-collected entry, instead of walking every bucket in
// the table.
type reclaimIndex struct {
	mu     sync.Mutex
	keys   *roaring.Bitmap
	values *roaring.Bitmap
}

func newReclaimIndex() *reclaimIndex {
	return &reclaimIndex{keys: roaring.New(), values: roaring.New()}
}

func (r *reclaimIndex) markKey(bucket uint32) {
	r.mu.Lock()
	r.keys.Add(bucket)
	r.mu.Unlock()
}

func (r *reclaimIndex) markValue(bucket uint32) {
	r.mu.Lock()
	r.values.Add(bucket)
	r.mu.Unlock()
}

// flaggedBuckets returns every bucket index ever marked as holding a
// reclaimable key or value.
func (r *reclaimIndex) flaggedBuckets() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	union := roaring.Or(r.keys, r.values)
	return union.ToArray()
}
