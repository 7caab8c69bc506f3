package concache

import (
	"github.com/avkirilov/concache/internal/util"
)

// stripeStats is spec component C7's per-stripe half: padded atomic
// counters so hot read/write paths on different stripes never false-share
// a cache line, following the teacher's shard.go hits/misses/evicts
// fields.
type stripeStats struct {
	_           util.CacheLinePad
	hits        util.PaddedAtomicInt64
	misses      util.PaddedAtomicInt64
	loadSuccess util.PaddedAtomicInt64
	loadFailure util.PaddedAtomicInt64
	loadNanos   util.PaddedAtomicInt64
	evictions   [5]util.PaddedAtomicInt64 // indexed by RemovalCause
}

func (s *stripeStats) recordHit()  { s.hits.Add(1) }
func (s *stripeStats) recordMiss() { s.misses.Add(1) }

func (s *stripeStats) recordLoad(success bool, nanos int64) {
	if success {
		s.loadSuccess.Add(1)
	} else {
		s.loadFailure.Add(1)
	}
	s.loadNanos.Add(nanos)
}

func (s *stripeStats) recordEviction(cause RemovalCause) {
	if int(cause) < len(s.evictions) {
		s.evictions[cause].Add(1)
	}
}

func (s *stripeStats) snapshot() Stats {
	st := Stats{EvictionsByCause: map[RemovalCause]int64{}}
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	st.LoadSuccessCount = s.loadSuccess.Load()
	st.LoadFailureCount = s.loadFailure.Load()
	st.TotalLoadNanos = s.loadNanos.Load()
	for c := range s.evictions {
		n := s.evictions[c].Load()
		st.EvictionCount += n
		st.EvictionsByCause[RemovalCause(c)] = n
	}
	return st
}

// Stats is the aggregated, point-in-time view of cache activity (spec
// §4.9's stats() operation and component C7's global aggregator).
type Stats struct {
	Hits             int64
	Misses           int64
	LoadSuccessCount int64
	LoadFailureCount int64
	TotalLoadNanos   int64
	EvictionCount    int64
	EvictionsByCause map[RemovalCause]int64
}

// RequestCount is Hits+Misses.
func (s Stats) RequestCount() int64 { return s.Hits + s.Misses }

// HitRate is Hits/RequestCount, or 1.0 when there have been no requests
// (matching Guava's convention of reporting a perfect rate on no data).
func (s Stats) HitRate() float64 {
	total := s.RequestCount()
	if total == 0 {
		return 1.0
	}
	return float64(s.Hits) / float64(total)
}

// AverageLoadPenalty is the mean nanoseconds spent per load attempt
// (success or failure).
func (s Stats) AverageLoadPenalty() float64 {
	n := s.LoadSuccessCount + s.LoadFailureCount
	if n == 0 {
		return 0
	}
	return float64(s.TotalLoadNanos) / float64(n)
}

func plus(a, b Stats) Stats {
	out := Stats{
		Hits:             a.Hits + b.Hits,
		Misses:           a.Misses + b.Misses,
		LoadSuccessCount: a.LoadSuccessCount + b.LoadSuccessCount,
		LoadFailureCount: a.LoadFailureCount + b.LoadFailureCount,
		TotalLoadNanos:   a.TotalLoadNanos + b.TotalLoadNanos,
		EvictionCount:    a.EvictionCount + b.EvictionCount,
		EvictionsByCause: map[RemovalCause]int64{},
	}
	for c, n := range a.EvictionsByCause {
		out.EvictionsByCause[c] += n
	}
	for c, n := range b.EvictionsByCause {
		out.EvictionsByCause[c] += n
	}
	return out
}

// StatsSink receives live observability events as they happen, in
// addition to the pull-based Stats() snapshot (spec component C7,
// generalizing the teacher's Metrics interface in cache/options.go). The
// default NoopStatsSink costs nothing; metrics/prom adapts this interface
// to Prometheus collectors.
type StatsSink interface {
	Hit()
	Miss()
	Load(success bool, nanos int64)
	Evict(cause RemovalCause)
	Size(entries int64, totalWeight int64)
}

// NoopStatsSink implements StatsSink with no-ops; it is the default.
type NoopStatsSink struct{}

func (NoopStatsSink) Hit()                            {}
func (NoopStatsSink) Miss()                           {}
func (NoopStatsSink) Load(success bool, nanos int64)  {}
func (NoopStatsSink) Evict(cause RemovalCause)        {}
func (NoopStatsSink) Size(entries, totalWeight int64) {}

var _ StatsSink = NoopStatsSink{}
