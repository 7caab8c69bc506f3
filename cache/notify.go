package concache

import "log"

// notificationBus is spec component C6: a queue of pending removal
// notifications, appended while holding the stripe lock and drained after
// it is released (spec §4.3, §4.7: "post-write cleanup... drain the
// removal-notification bus and invoke the listener for each event").
// A buffered channel gives the bounded-capacity MPMC behavior the spec
// calls for without a custom lock-free structure: many stripes enqueue
// concurrently, and whichever goroutine happens to drain next (not
// necessarily the enqueuer) delivers the notifications.
type notificationBus[K comparable, V any] struct {
	ch       chan RemovalNotification[K, V]
	listener RemovalListener[K, V]
	logger   Logger
}

func newNotificationBus[K comparable, V any](capacity int, listener RemovalListener[K, V], logger Logger) *notificationBus[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &notificationBus[K, V]{ch: make(chan RemovalNotification[K, V], capacity), listener: listener, logger: logger}
}

// enqueue is non-blocking: a full bus drops the oldest undelivered event
// rather than stalling the writer, which usually still holds its stripe
// lock at this point. Under extreme backlog a removal notification is
// lost instead of memory growing without bound or callers blocking.
func (b *notificationBus[K, V]) enqueue(n RemovalNotification[K, V]) {
	if b.listener == nil {
		return
	}
	select {
	case b.ch <- n:
	default:
		select {
		case <-b.ch:
		default:
		}
		select {
		case b.ch <- n:
		default:
		}
	}
}

// drain delivers every currently queued notification to the listener,
// catching and logging any panic so a misbehaving listener can never
// corrupt a caller's write path (spec §7: "Errors from the removal
// listener are caught and logged").
func (b *notificationBus[K, V]) drain() {
	if b.listener == nil {
		return
	}
	for {
		select {
		case n := <-b.ch:
			b.deliver(n)
		default:
			return
		}
	}
}

func (b *notificationBus[K, V]) deliver(n RemovalNotification[K, V]) {
	defer func() {
		if r := recover(); r != nil {
			b.logf("concache: removal listener panicked: %v", r)
		}
	}()
	b.listener.OnRemoval(n)
}

func (b *notificationBus[K, V]) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Logger is the injectable logging sink used for swallowed errors (spec
// §7: refresh and removal-listener failures are "caught and logged").
// None of the cache-shaped repos in the retrieval pack pull in a
// structured logging library for this concern, and the teacher carries
// none either, so this intentionally stays on the standard library's
// log.Logger shape rather than adopting one; see SPEC_FULL.md §3.
type Logger interface {
	Printf(format string, args ...any)
}
