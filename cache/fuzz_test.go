//go:build go1.18

package concache

import (
	"strings"
	"testing"
)

// Fuzz basic Put/Get/Invalidate semantics under arbitrary string inputs.
// Guards against panics and ensures core invariants hold.
func FuzzCache_PutGetInvalidate(f *testing.F) {
	f.Add("", "")
	f.Add("a", "1")
	f.Add("b", "2")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		// Cap lengths to keep memory bounded during fuzzing.
		const limit = 1 << 12 // 4096
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		c := New[string, string](Options[string, string]{})

		// Put -> Get must return the same value.
		c.Put(k, v)
		got, ok := c.Get(k)
		if !ok || got != v {
			t.Fatalf("after Put/Get: want %q, got %q ok=%v", v, got, ok)
		}

		// PutIfAbsent on an existing key must not overwrite and must
		// report the existing value.
		if existing, had := c.PutIfAbsent(k, "other"); !had || existing != v {
			t.Fatalf("PutIfAbsent on existing key: want existing=%q had=true, got %q had=%v", v, existing, had)
		}
		if got2, ok := c.Get(k); !ok || got2 != v {
			t.Fatalf("after blocked PutIfAbsent: want %q, got %q ok=%v", v, got2, ok)
		}

		// Invalidate must delete and report the old value once.
		if old, had := c.Invalidate(k); !had || old != v {
			t.Fatalf("Invalidate must report the old value, got %q had=%v", old, had)
		}
		if _, ok := c.Get(k); ok {
			t.Fatalf("key must be absent after Invalidate")
		}

		// After removal, PutIfAbsent should succeed again.
		if _, had := c.PutIfAbsent(k, v); had {
			t.Fatalf("PutIfAbsent after Invalidate must report no existing value")
		}
	})
}
