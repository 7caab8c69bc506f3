package concache

import "time"

// Clock is the time source consumed by a cache (spec component C1). Now
// must return a monotonically non-decreasing nanosecond count; it need not
// relate to wall-clock time. Tests inject a deterministic Clock to avoid
// timing flakiness, following the teacher's fakeClock pattern in
// cache/cache_test.go.
type Clock interface {
	Now() int64
}

// systemClock is the default Clock, backed by the monotonic reading that
// time.Time carries internally. Anchoring to a fixed start instant and
// using time.Since (rather than time.Now().UnixNano()) keeps the result
// monotonic even across NTP adjustments to the wall clock.
type systemClock struct {
	start time.Time
}

func newSystemClock() *systemClock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Now() int64 {
	return int64(time.Since(c.start))
}
