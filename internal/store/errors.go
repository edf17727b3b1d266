package store

import "errors"

// Typed store errors. Callers check them with errors.Is; the orchestrator
// catches the first three per subject turn and continues the round, while
// ErrLockTimeout is fatal for the run.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrOwnerMismatch     = errors.New("owner mismatch")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrLockTimeout       = errors.New("state lock timeout")
)
