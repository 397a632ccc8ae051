package models

import (
	"errors"
	"fmt"
	"strings"
)

// Reason codes carried by structured errors. Every rejection is
// machine-checkable by code, with a human-readable message alongside.
const (
	ReasonCycleDetected      = "CYCLE_DETECTED"
	ReasonSelfDependency     = "SELF_DEPENDENCY"
	ReasonUnknownPrereq      = "UNKNOWN_PREREQUISITE"
	ReasonInvalidPriority    = "INVALID_PRIORITY"
	ReasonInvalidSource      = "INVALID_SOURCE"
	ReasonUnknownHandler     = "UNKNOWN_HANDLER"
	ReasonInvalidTransition  = "INVALID_TRANSITION"
	ReasonTaskNotFound       = "TASK_NOT_FOUND"
	ReasonBreakerOpen        = "BREAKER_OPEN"
	ReasonStuckTimeout       = "STUCK_TIMEOUT"
	ReasonPosthocCycle       = "POSTHOC_CYCLE"
	ReasonOrphanedBlock      = "ORPHANED_BLOCK"
	ReasonInterruptedRestart = "INTERRUPTED_RESTART"
)

// ErrTaskNotFound indicates a lookup by id matched no task.
var ErrTaskNotFound = errors.New("task not found")

// ValidationError is a synchronous submission rejection. The task is never
// enqueued when one of these is returned.
type ValidationError struct {
	// Code is the machine-checkable reason code.
	Code string
	// Message is the human-readable explanation.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CycleError reports a dependency cycle, naming the offending chain.
type CycleError struct {
	// Path is the cycle as a sequence of task IDs, first repeated last.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: dependency cycle: %s", ReasonCycleDetected, strings.Join(e.Path, " -> "))
}

// Code returns the reason code for the cycle rejection.
func (e *CycleError) Code() string { return ReasonCycleDetected }

// TransitionError reports an illegal state-machine transition. Illegal
// transitions are rejected, never silently coerced.
type TransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: task %s: %s -> %s", ReasonInvalidTransition, e.TaskID, e.From, e.To)
}
