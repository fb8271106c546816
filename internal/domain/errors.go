package domain

import "errors"

// Sentinel errors shared by the relay, registry and stores.
// Wrap with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	// ErrBackendUnavailable means a backend could not be reached (network or timeout).
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTimeout is joined with ErrBackendUnavailable when the failure was a deadline.
	ErrTimeout = errors.New("backend request timed out")

	// ErrModelNotFound means prefix resolution or validation found no model.
	ErrModelNotFound = errors.New("model not found")

	// ErrAmbiguousModel means a model is claimed by both backends.
	ErrAmbiguousModel = errors.New("model claimed by more than one backend")

	// ErrPersistence means the transcript or default-model store could not be read or written.
	ErrPersistence = errors.New("persistence error")

	// ErrBackendCallFailed means a generation call returned non-2xx or an unusable body.
	ErrBackendCallFailed = errors.New("backend call failed")

	// ErrInstallFailed means a model pull on the local backend failed.
	ErrInstallFailed = errors.New("model install failed")
)
