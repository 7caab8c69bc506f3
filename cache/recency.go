package concache

// recencyBuffer is spec component C4: lock-free MPSC staging of
// recently-read entries, drained under the stripe lock. Using a buffered
// channel as the MPSC queue keeps the read path free of the stripe mutex
// (many goroutines send concurrently without coordinating with each
// other) while still giving the single drain loop an ordinary, safe
// receive. A full buffer drops the append rather than blocking the
// reader, which only delays that entry's access-queue promotion until
// its next read — an acceptable approximation under spec's per-stripe
// LRU non-goal ("strict global LRU" is explicitly out of scope).
type recencyBuffer[K comparable, V any] struct {
	ch chan *entry[K, V]
}

func newRecencyBuffer[K comparable, V any](capacity int) *recencyBuffer[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &recencyBuffer[K, V]{ch: make(chan *entry[K, V], capacity)}
}

// Record appends e to the buffer without blocking. Called from the
// lock-free read path.
func (b *recencyBuffer[K, V]) Record(e *entry[K, V]) {
	select {
	case b.ch <- e:
	default:
	}
}

// Drain moves every buffered entry to the tail of accessQueue if it is
// still linked there, dropping entries that were concurrently evicted.
// Must be called with the owning stripe's lock held.
func (b *recencyBuffer[K, V]) Drain(accessQueue *entryQueue[K, V]) {
	for {
		select {
		case e := <-b.ch:
			if e.inAccessQueue() {
				accessQueue.MoveToTail(e)
			}
		default:
			return
		}
	}
}
