package concache

import "container/list"

// ghostScan schedules stripes for another contains_value pass. It adapts
// the teacher's policy/twoq ghost-list idiom — a container/list FIFO of
// "give this another look" candidates, there used to track recently
// evicted keys for 2Q re-admission — to a different candidate set: stripe
// indices whose modCount changed mid-scan, per spec's bounded-retry
// contains_value algorithm (spec §4.9, §9 "source retry bound of three").
// 2Q's admission policy itself is not used; only its container/list
// bookkeeping shape survives, repurposed.
type ghostScan struct {
	pending *list.List
}

func newGhostScan(stripeCount int) *ghostScan {
	g := &ghostScan{pending: list.New()}
	for i := 0; i < stripeCount; i++ {
		g.pending.PushBack(i)
	}
	return g
}

func (g *ghostScan) Empty() bool { return g.pending.Len() == 0 }

// Take drains every currently pending stripe index for one pass.
func (g *ghostScan) Take() []int {
	out := make([]int, 0, g.pending.Len())
	for e := g.pending.Front(); e != nil; {
		next := e.Next()
		out = append(out, e.Value.(int))
		g.pending.Remove(e)
		e = next
	}
	return out
}

// Retry re-queues idx for the next pass.
func (g *ghostScan) Retry(idx int) { g.pending.PushBack(idx) }
