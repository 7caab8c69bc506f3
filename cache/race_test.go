package concache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// A mixed workload of concurrent Put/Get/PutIfAbsent/Invalidate on random
// keys, with expiration enabled. Should pass under -race without reports.
func TestRace_Basic(t *testing.T) {
	c := New[string, []byte](Options[string, []byte]{
		MaxWeight:         8_192,
		ConcurrencyLevel:  32,
		ExpireAfterWrite:  50 * time.Millisecond,
		ExpireAfterAccess: 30 * time.Millisecond,
	})

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 50_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% - Invalidate
					c.Invalidate(k)
				case 5, 6, 7, 8, 9: // ~5% - PutIfAbsent
					c.PutIfAbsent(k, []byte("x"))
				case 10, 11, 12, 13, 14, 15, 16, 17, 18, 19: // ~10% - Put
					c.Put(k, []byte("x"))
				default: // ~80% - Get
					c.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()
}

// One hundred goroutines call GetOrLoad on the same key concurrently. The
// Loader should run at most once (load coalescing).
func TestRace_GetOrLoad(t *testing.T) {
	var calls int64

	c := New[string, string](Options[string, string]{
		Loader: LoaderFunc[string, string](func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(2 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		}),
	})

	const goroutines = 100
	key := "same-key"

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, err := c.GetOrLoad(context.Background(), key)
			if err != nil {
				t.Errorf("GetOrLoad error: %v", err)
				return
			}
			if v != "v:"+key {
				t.Errorf("unexpected value: %q", v)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got > 1 {
		t.Fatalf("loader should run at most once, got %d", got)
	}

	if v, err := c.GetOrLoad(context.Background(), key); err != nil || v != "v:"+key {
		t.Fatalf("second GetOrLoad failed: v=%q err=%v", v, err)
	}
}

// Concurrent CleanUp/Stats/AsMap calls interleaved with writers should
// never race or panic, exercising every stripe's lock-free Snapshot path.
func TestRace_MaintenanceDuringWrites(t *testing.T) {
	c := New[int, int](Options[int, int]{
		ConcurrencyLevel: 16,
		MaxWeight:        4_096,
	})

	deadline := time.Now().Add(500 * time.Millisecond)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r := rand.New(rand.NewSource(1))
		for time.Now().Before(deadline) {
			c.Put(r.Intn(10_000), r.Int())
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for time.Now().Before(deadline) {
			c.CleanUp()
			_ = c.Stats()
			_ = c.AsMap()
			_ = c.Size()
		}
	}()

	wg.Wait()
}
