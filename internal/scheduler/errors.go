package scheduler

import "errors"

var (
	// ErrNotFound is returned for unknown session or task ids.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed plans, unknown assignees and illegal requests.
	ErrValidation = errors.New("validation failed")
	// ErrAIClient is returned when the planner collaborator output is unusable.
	ErrAIClient = errors.New("ai collaborator error")
	// ErrCancelled marks work aborted by the session cancellation signal.
	ErrCancelled = errors.New("cancelled")
	// ErrInvalidTransition is returned when a task mutation breaks the transition table.
	ErrInvalidTransition = errors.New("invalid task state transition")
	// ErrNotRunning is returned when a task would start in a session that is not running.
	ErrNotRunning = errors.New("session not running")
)
