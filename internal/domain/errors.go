package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Failure taxonomy. Callers match with errors.Is.
	ErrValidation    = errors.New("validation failed")
	ErrRemote        = errors.New("remote call failed")
	ErrLockTimeout   = errors.New("lock acquisition timed out")
	ErrTaskExecution = errors.New("task execution failed")

	// Engine errors
	ErrTaskPanic      = errors.New("task panicked")
	ErrEmptyGraph     = errors.New("task graph is empty")
	ErrTaskNotInGraph = errors.New("task is not part of the graph")
	ErrDuplicateTask  = errors.New("task is already part of the graph")
	ErrNilTask        = errors.New("task is nil")
	ErrEngineClosed   = errors.New("job engine is shut down")
	ErrGraphSplice    = errors.New("sub-graph shares tasks with the running graph")

	// Lookup errors
	ErrNotFound    = errors.New("entity not found")
	ErrJobNotFound = errors.New("job not found")
)
