package domain

import "errors"

// Error taxonomy. Validation errors are rejected before a run is created;
// everything after run start is captured into the run's terminal result.
var (
	// ErrInvalidArgument marks malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks an unknown or out-of-scope run/approval. A scope
	// mismatch is indistinguishable from true absence.
	ErrNotFound = errors.New("not found")

	// ErrInterrupted marks a wait that was cut short by run cancellation
	// or timeout. Not an application error.
	ErrInterrupted = errors.New("run interrupted")
)
