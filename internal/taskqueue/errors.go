package taskqueue

import "errors"

// Sentinel errors returned by the broker core. Callers match them with
// errors.Is; wrapped messages carry the offending identifiers.
var (
	// ErrInvalidArgument flags blank or malformed identifiers. Rejected before
	// any state change.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound means the task id is unknown. Callers should treat it as
	// "already gone".
	ErrNotFound = errors.New("not found")

	// ErrAlreadyQueued means the task id is already present in a queue.
	ErrAlreadyQueued = errors.New("already queued")

	// ErrAlreadyLeased means an active lease exists for the task id. Under
	// correct queue use this is an internal consistency fault: it fails the
	// request and gets logged, never silently ignored.
	ErrAlreadyLeased = errors.New("already leased")

	// ErrInvalidTransition means a conflicting terminal-state write. The
	// existing terminal state is preserved.
	ErrInvalidTransition = errors.New("invalid state transition")
)
