package concache

import "testing"

func TestStripeStats_RecordAndSnapshot(t *testing.T) {
	var s stripeStats
	s.recordHit()
	s.recordHit()
	s.recordMiss()
	s.recordLoad(true, 100)
	s.recordLoad(false, 50)
	s.recordEviction(CauseSize)
	s.recordEviction(CauseSize)
	s.recordEviction(CauseExpired)

	snap := s.snapshot()
	if snap.Hits != 2 || snap.Misses != 1 {
		t.Fatalf("got hits=%d misses=%d", snap.Hits, snap.Misses)
	}
	if snap.LoadSuccessCount != 1 || snap.LoadFailureCount != 1 || snap.TotalLoadNanos != 150 {
		t.Fatalf("unexpected load stats: %+v", snap)
	}
	if snap.EvictionCount != 3 {
		t.Fatalf("EvictionCount = %d, want 3", snap.EvictionCount)
	}
	if snap.EvictionsByCause[CauseSize] != 2 || snap.EvictionsByCause[CauseExpired] != 1 {
		t.Fatalf("unexpected eviction breakdown: %+v", snap.EvictionsByCause)
	}
}

func TestStats_HitRateAndAverageLoadPenalty(t *testing.T) {
	empty := Stats{}
	if empty.HitRate() != 1.0 {
		t.Fatalf("HitRate() on no requests = %v, want 1.0", empty.HitRate())
	}
	if empty.AverageLoadPenalty() != 0 {
		t.Fatalf("AverageLoadPenalty() on no loads = %v, want 0", empty.AverageLoadPenalty())
	}

	st := Stats{Hits: 3, Misses: 1, LoadSuccessCount: 2, LoadFailureCount: 2, TotalLoadNanos: 400}
	if got := st.RequestCount(); got != 4 {
		t.Fatalf("RequestCount() = %d, want 4", got)
	}
	if got := st.HitRate(); got != 0.75 {
		t.Fatalf("HitRate() = %v, want 0.75", got)
	}
	if got := st.AverageLoadPenalty(); got != 100 {
		t.Fatalf("AverageLoadPenalty() = %v, want 100", got)
	}
}

func TestStats_Plus(t *testing.T) {
	a := Stats{Hits: 1, Misses: 2, EvictionCount: 1, EvictionsByCause: map[RemovalCause]int64{CauseSize: 1}}
	b := Stats{Hits: 5, Misses: 0, EvictionCount: 2, EvictionsByCause: map[RemovalCause]int64{CauseSize: 1, CauseExplicit: 1}}

	sum := plus(a, b)
	if sum.Hits != 6 || sum.Misses != 2 || sum.EvictionCount != 3 {
		t.Fatalf("unexpected sum: %+v", sum)
	}
	if sum.EvictionsByCause[CauseSize] != 2 || sum.EvictionsByCause[CauseExplicit] != 1 {
		t.Fatalf("unexpected eviction breakdown: %+v", sum.EvictionsByCause)
	}
}

func TestNoopStatsSink_DoesNothing(t *testing.T) {
	var sink StatsSink = NoopStatsSink{}
	// Exercised purely for side-effect-free coverage; no panics, no state.
	sink.Hit()
	sink.Miss()
	sink.Load(true, 10)
	sink.Evict(CauseExplicit)
	sink.Size(1, 1)
}

func TestRemovalCause_String(t *testing.T) {
	cases := map[RemovalCause]string{
		CauseExplicit:     "explicit",
		CauseReplaced:     "replaced",
		CauseCollected:    "collected",
		CauseExpired:      "expired",
		CauseSize:         "size",
		RemovalCause(255): "unknown",
	}
	for cause, want := range cases {
		if got := cause.String(); got != want {
			t.Fatalf("RemovalCause(%d).String() = %q, want %q", cause, got, want)
		}
	}
}
