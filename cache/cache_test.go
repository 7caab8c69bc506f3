package concache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct{ t int64 }

func (f *fakeClock) Now() int64          { return f.t }
func (f *fakeClock) add(d time.Duration) { f.t += int64(d) }

// Uses a fake clock to avoid timing flakiness. Ensures that
// ExpireAfterWrite is respected.
func TestCache_ExpireAfterWrite_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, string](Options[string, string]{
		ExpireAfterWrite: 100 * time.Millisecond,
		Clock:            clk,
	})

	c.Put("x", "v")
	if _, ok := c.Get("x"); !ok {
		t.Fatal("fresh miss")
	}
	clk.add(200 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatal("expired hit")
	}
}

// Basic Put/PutIfAbsent/Get/Invalidate semantics.
func TestCache_BasicPutGetInvalidate(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})

	if _, had := c.PutIfAbsent("a", 1); had {
		t.Fatal("PutIfAbsent a=1 must report no existing value")
	}
	if existing, had := c.PutIfAbsent("a", 2); !had || existing != 1 {
		t.Fatalf("PutIfAbsent duplicate must return the existing value, got %v had=%v", existing, had)
	}

	c.Put("a", 11)
	if v, ok := c.Get("a"); !ok || v != 11 {
		t.Fatalf("Get a want 11, got %v ok=%v", v, ok)
	}

	if old, had := c.Invalidate("a"); !had || old != 11 {
		t.Fatalf("Invalidate a must report the old value, got %v had=%v", old, had)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a must be absent after Invalidate")
	}
}

// ReplaceExpected / InvalidateExpected only act when the current value
// matches, using the default reflect.DeepEqual comparator.
func TestCache_ReplaceExpectedInvalidateExpected(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	c.Put("a", 1)

	if c.ReplaceExpected("a", 2, 99) {
		t.Fatal("ReplaceExpected with a stale expected value must fail")
	}
	if !c.ReplaceExpected("a", 1, 2) {
		t.Fatal("ReplaceExpected with the current value must succeed")
	}
	if v, _ := c.Get("a"); v != 2 {
		t.Fatalf("want 2 after ReplaceExpected, got %v", v)
	}

	if c.InvalidateExpected("a", 1) {
		t.Fatal("InvalidateExpected with a stale expected value must fail")
	}
	if !c.InvalidateExpected("a", 2) {
		t.Fatal("InvalidateExpected with the current value must succeed")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a must be gone after InvalidateExpected")
	}
}

func TestCache_ContainsValueAndAsMap(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{})
	c.Put("a", "1")
	c.Put("b", "2")

	if !c.ContainsValue("2") {
		t.Fatal("ContainsValue must find b's value")
	}
	if c.ContainsValue("3") {
		t.Fatal("ContainsValue must not find an absent value")
	}

	m := c.AsMap()
	if m["a"] != "1" || m["b"] != "2" || len(m) != 2 {
		t.Fatalf("unexpected AsMap snapshot: %+v", m)
	}
}

// Deterministic LRU eviction: a single stripe and a tight weight bound.
func TestCache_EvictionLRU(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{
		MaxWeight:        2,
		ConcurrencyLevel: 1, // force a single stripe so LRU is global
	})

	c.Put("a", 1) // LRU = a
	c.Put("b", 2) // MRU = b

	if _, ok := c.Get("a"); !ok { // promote a -> MRU
		t.Fatal("expect hit for a")
	}
	c.Put("c", 3) // overflow -> evict LRU (b)

	if _, ok := c.Get("b"); ok {
		t.Fatal("b must be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a must survive (promoted)")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatal("c must be present")
	}
}

// Concurrent GetOrLoad calls for the same key must trigger the Loader at
// most once; subsequent calls are cache hits.
func TestCache_GetOrLoad_Coalesced(t *testing.T) {
	var calls int64

	c := New[string, string](Options[string, string]{
		Loader: LoaderFunc[string, string](func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(5 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		}),
	})

	const N = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.GetOrLoad(ctx, "k")
			if err != nil {
				return err
			}
			if v != "v:k" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}
	if st := c.Stats(); st.Misses != N {
		t.Fatalf("Stats().Misses = %d, want %d (one miss per caller, not per Get call)", st.Misses, N)
	}

	if v, err := c.GetOrLoad(context.Background(), "k"); err != nil || v != "v:k" {
		t.Fatalf("second GetOrLoad failed: v=%q err=%v", v, err)
	}
}

// A loader returning a nil pointer is treated as InvalidLoadError, the
// closest Go analogue of "loader returned no value for key".
func TestCache_GetOrLoad_InvalidLoad(t *testing.T) {
	t.Parallel()

	c := New[string, *string](Options[string, *string]{
		Loader: LoaderFunc[string, *string](func(_ context.Context, k string) (*string, error) {
			return nil, nil
		}),
	})

	_, err := c.GetOrLoad(context.Background(), "missing")
	if _, ok := err.(*InvalidLoadError); !ok {
		t.Fatalf("want *InvalidLoadError, got %v (%T)", err, err)
	}
}

// A loader calling back into GetOrLoad for the same key, on the same
// logical call chain, must fail fast rather than deadlock. The nested call
// returns *RecursiveLoadError; the loader passes it up as its own error,
// so the outer call reports it wrapped in *ExecutionError.
func TestCache_GetOrLoad_Recursive(t *testing.T) {
	t.Parallel()

	var c Cache[string, string]
	c = New[string, string](Options[string, string]{
		Loader: LoaderFunc[string, string](func(ctx context.Context, k string) (string, error) {
			return c.GetOrLoad(ctx, k)
		}),
	})

	_, err := c.GetOrLoad(context.Background(), "k")
	var execErr *ExecutionError
	var recErr *RecursiveLoadError
	if !errors.As(err, &execErr) || !errors.As(err, &recErr) {
		t.Fatalf("want *ExecutionError wrapping *RecursiveLoadError, got %v (%T)", err, err)
	}
}

// RemovalListener observes every eviction with the correct cause.
func TestCache_RemovalListenerObservesExplicitRemoval(t *testing.T) {
	t.Parallel()

	var got []RemovalNotification[string, int]
	c := New[string, int](Options[string, int]{
		RemovalListener: RemovalListenerFunc[string, int](func(n RemovalNotification[string, int]) {
			got = append(got, n)
		}),
	})

	c.Put("a", 1)
	c.Invalidate("a")
	c.CleanUp()

	if len(got) != 1 || got[0].Cause != CauseExplicit || got[0].Key != "a" {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}
