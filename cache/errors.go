package concache

import (
	"fmt"
	"reflect"
)

// InvalidLoadError reports that a Loader (or a batch Loader) returned no
// value for a key that was requested, per spec §7.
type InvalidLoadError struct {
	Key any
}

func (e *InvalidLoadError) Error() string {
	return fmt.Sprintf("concache: loader returned no value for key %v", e.Key)
}

// ExecutionError wraps an error returned by a Loader's Load/Reload/LoadAll
// call. It is the Go analogue of Guava's checked ExecutionException: the
// loader reported failure through its error return rather than panicking.
type ExecutionError struct {
	Key   any
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("concache: load failed for key %v: %v", e.Key, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// UncheckedExecutionError wraps a panic recovered from inside a Loader
// call. It is the analogue of Guava's UncheckedExecutionException: the
// loader did not return an error, it misbehaved at the runtime level.
type UncheckedExecutionError struct {
	Key   any
	Cause error
}

func (e *UncheckedExecutionError) Error() string {
	return fmt.Sprintf("concache: loader panicked for key %v: %v", e.Key, e.Cause)
}

func (e *UncheckedExecutionError) Unwrap() error { return e.Cause }

// RecursiveLoadError reports that GetOrLoad was re-entered for a key whose
// load is already in progress further up the same logical call chain, as
// tracked through the context handed to the Loader (see recursion.go).
type RecursiveLoadError struct {
	Key any
}

func (e *RecursiveLoadError) Error() string {
	return fmt.Sprintf("concache: recursive load detected for key %v", e.Key)
}

// AssertionError reports a broken internal invariant (spec §7). It is
// fatal in the sense that the cache's bookkeeping can no longer be
// trusted, but it is still returned to the caller rather than panicking,
// so a host process can decide how to react.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string {
	return "concache: internal invariant violated: " + e.Msg
}

// isNilLike reports whether v is a nullable Go value (pointer, interface,
// map, slice, chan, or func) currently holding nil. Non-nullable V (int,
// string, struct) can never be "absent" this way, matching Go's lack of a
// universal null: spec §7's InvalidLoadError only applies when V's zero
// value is itself a meaningful "no value" (spec: "loader returned absent
// for a key").
func isNilLike(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

func recoverAsUncheckedExecutionError(key any, r any) error {
	if err, ok := r.(error); ok {
		return &UncheckedExecutionError{Key: key, Cause: err}
	}
	return &UncheckedExecutionError{Key: key, Cause: fmt.Errorf("%v", r)}
}
