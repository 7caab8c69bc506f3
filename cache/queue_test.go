package concache

import "testing"

func TestEntryQueue_PushTailOrder(t *testing.T) {
	q := newAccessQueue[string, string]()
	if !q.Empty() {
		t.Fatal("new queue should be empty")
	}

	e1 := newStrongKeyEntry[string, string]("a", 1)
	e2 := newStrongKeyEntry[string, string]("b", 2)
	e3 := newStrongKeyEntry[string, string]("c", 3)

	q.PushTail(e1)
	q.PushTail(e2)
	q.PushTail(e3)

	var order []string
	q.Each(func(e *entry[string, string]) bool {
		k, _ := e.Key()
		order = append(order, k)
		return true
	})
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}

	if f, _ := q.Front().Key(); f != "a" {
		t.Fatalf("Front() = %v, want a", f)
	}
}

func TestEntryQueue_MoveToTail(t *testing.T) {
	q := newAccessQueue[string, string]()
	e1 := newStrongKeyEntry[string, string]("a", 1)
	e2 := newStrongKeyEntry[string, string]("b", 2)
	e3 := newStrongKeyEntry[string, string]("c", 3)
	q.PushTail(e1)
	q.PushTail(e2)
	q.PushTail(e3)

	q.MoveToTail(e1) // promote a to MRU: b, c, a

	var order []string
	q.Each(func(e *entry[string, string]) bool {
		k, _ := e.Key()
		order = append(order, k)
		return true
	})
	want := []string{"b", "c", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}

func TestEntryQueue_Remove(t *testing.T) {
	q := newWriteQueue[string, string]()
	e1 := newStrongKeyEntry[string, string]("a", 1)
	e2 := newStrongKeyEntry[string, string]("b", 2)
	q.PushTail(e1)
	q.PushTail(e2)

	q.Remove(e1)
	if e1.inWriteQueue() {
		t.Fatal("removed entry should report not-in-queue")
	}
	if f, _ := q.Front().Key(); f != "b" {
		t.Fatalf("Front() = %v, want b", f)
	}

	// Removing an already-unlinked entry is a no-op, not a panic.
	q.Remove(e1)

	q.Remove(e2)
	if !q.Empty() {
		t.Fatal("queue should be empty after removing all entries")
	}
}

func TestEntryQueue_EachEarlyStop(t *testing.T) {
	q := newAccessQueue[string, string]()
	for _, k := range []string{"a", "b", "c", "d"} {
		q.PushTail(newStrongKeyEntry[string, string](k, 0))
	}
	var seen int
	q.Each(func(e *entry[string, string]) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Fatalf("Each should stop after 2 visits, saw %d", seen)
	}
}

func TestSentinel_SelfReferential(t *testing.T) {
	s := newSentinel[string, string]()
	if s.accPrev != s || s.accNext != s {
		t.Fatal("fresh sentinel must be self-referential")
	}
	if s.inAccessQueue() {
		t.Fatal("sentinel should never report inAccessQueue")
	}
}
