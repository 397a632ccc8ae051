// Package engine runs the orchestration loop: scheduling, dispatch,
// retries, and liveness for the task queue.
package engine

import (
	"time"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventTaskSubmitted indicates a task was accepted into the queue.
	EventTaskSubmitted EventType = "task_submitted"
	// EventTaskReady indicates a task's prerequisites are all complete.
	EventTaskReady EventType = "task_ready"
	// EventTaskDispatched indicates a task was handed to its collaborator.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates an attempt failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetry indicates a failed task was requeued for another attempt.
	EventTaskRetry EventType = "task_retry"
	// EventTaskCanceled indicates a task was canceled.
	EventTaskCanceled EventType = "task_canceled"
	// EventBreakerOpen indicates a handler's circuit breaker opened.
	EventBreakerOpen EventType = "breaker_open"
	// EventBreakerClosed indicates a handler's circuit breaker closed again.
	EventBreakerClosed EventType = "breaker_closed"
	// EventLiveness carries a diagnostic from the liveness sweep.
	EventLiveness EventType = "liveness"
)

// Event represents an observable state change emitted by the engine.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// TaskTitle is the title of the related task, if applicable.
	TaskTitle string
	// Handler is the related execution target, if applicable.
	Handler string
	// Reason is the structured reason code for failure and liveness events.
	Reason string
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
