package concache

import "context"

// loadChainKey is the context key under which GetOrLoad threads the set of
// entries already being loaded by this call stack. Go has no stable
// thread-local identity to hang recursive-load detection on the way
// Guava's LocalCache does with a ThreadLocal, but context.Context already
// carries exactly the call-scoped propagation needed: a nested GetOrLoad
// invoked from inside a Loader.Load call receives the same ctx (or a
// derived one), so the chain travels with the logical call, not the
// goroutine (spec §4.4: "recursive load on the same key from the same
// logical call must fail fast").
type loadChainKey struct{}

// enterLoadChain reports whether entryID is new to ctx's chain, returning
// a derived context carrying entryID added to it. A false second return
// means entryID is already present, i.e. this call is a recursive load.
func enterLoadChain(ctx context.Context, entryID any) (context.Context, bool) {
	chain, _ := ctx.Value(loadChainKey{}).(map[any]struct{})
	if _, ok := chain[entryID]; ok {
		return ctx, false
	}
	next := make(map[any]struct{}, len(chain)+1)
	for k := range chain {
		next[k] = struct{}{}
	}
	next[entryID] = struct{}{}
	return context.WithValue(ctx, loadChainKey{}, next), true
}

// inLoadChain reports whether entryID is already being loaded somewhere up
// this call stack, without modifying ctx.
func inLoadChain(ctx context.Context, entryID any) bool {
	chain, _ := ctx.Value(loadChainKey{}).(map[any]struct{})
	_, ok := chain[entryID]
	return ok
}
