package fault

import "errors"

var (
	// ErrEmptyInput marks input that is empty after normalization. It
	// is the only condition surfaced to callers as a rejection.
	ErrEmptyInput = errors.New("fault: empty input text")

	// ErrStoreUnavailable marks an unreachable graph or case store.
	// Recovered locally: the affected stage contributes nothing.
	ErrStoreUnavailable = errors.New("fault: store unavailable")

	// ErrIndexInconsistent marks a corrupt case vector table. Fatal for
	// the affected query; the index rebuilds on next use.
	ErrIndexInconsistent = errors.New("fault: case index inconsistent")
)
