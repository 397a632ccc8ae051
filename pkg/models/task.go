package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been accepted but not evaluated.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusBlocked indicates the task is waiting on prerequisites.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusReady indicates all prerequisites are complete and the task
	// is eligible for dispatch.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates the task is currently being executed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusComplete indicates the task finished successfully.
	TaskStatusComplete TaskStatus = "complete"
	// TaskStatusFailed indicates the task failed. Non-terminal until retries
	// are exhausted; the engine requeues failed tasks with budget remaining.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCanceled indicates the task was canceled, either directly or
	// by cascade from a canceled dependency.
	TaskStatusCanceled TaskStatus = "canceled"
	// TaskStatusBlockedFailed indicates a prerequisite reached a terminal
	// non-success state, so the task can never become ready.
	TaskStatusBlockedFailed TaskStatus = "blocked_failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusBlocked, TaskStatusReady, TaskStatusRunning,
		TaskStatusComplete, TaskStatusFailed, TaskStatusCanceled, TaskStatusBlockedFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed out of s,
// except failed, which stays non-terminal while retry budget remains.
// The engine decides failed-vs-exhausted; this reports the static view.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusComplete, TaskStatusCanceled, TaskStatusBlockedFailed:
		return true
	default:
		return false
	}
}

// transitions is the allowed state machine. Failed -> Pending covers retry
// requeue; everything non-terminal can be canceled.
var transitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusPending: {
		TaskStatusReady:         {},
		TaskStatusBlocked:       {},
		TaskStatusCanceled:      {},
		TaskStatusBlockedFailed: {},
	},
	TaskStatusBlocked: {
		TaskStatusReady:         {},
		TaskStatusCanceled:      {},
		TaskStatusBlockedFailed: {},
	},
	TaskStatusReady: {
		TaskStatusRunning:  {},
		TaskStatusCanceled: {},
	},
	TaskStatusRunning: {
		TaskStatusComplete: {},
		TaskStatusFailed:   {},
		TaskStatusCanceled: {},
	},
	TaskStatusFailed: {
		TaskStatusPending:  {},
		TaskStatusCanceled: {},
	},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// Source classifies where a task originated. It feeds the priority
// calculator's source boost.
type Source string

const (
	// SourceHuman is directly human-requested work.
	SourceHuman Source = "human"
	// SourceScheduler is work generated by the engine itself (retries,
	// recovery requeues).
	SourceScheduler Source = "scheduler"
	// SourceAgent is work produced by an execution collaborator.
	SourceAgent Source = "agent"
	// SourceFollowup is internally generated follow-up work.
	SourceFollowup Source = "followup"
)

// Valid returns true if the source is a known value.
func (s Source) Valid() bool {
	switch s {
	case SourceHuman, SourceScheduler, SourceAgent, SourceFollowup:
		return true
	default:
		return false
	}
}

// Outcome is the result of one execution attempt.
type Outcome int

const (
	// OutcomeSuccess indicates the attempt succeeded.
	OutcomeSuccess Outcome = iota
	// OutcomeFailureRetryable indicates a transient failure worth retrying.
	OutcomeFailureRetryable
	// OutcomeFailureTerminal indicates a failure that retrying cannot fix.
	OutcomeFailureTerminal
	// OutcomeTimedOut indicates the attempt exceeded its execution timeout.
	OutcomeTimedOut
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailureRetryable:
		return "failure_retryable"
	case OutcomeFailureTerminal:
		return "failure_terminal"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MinBasePriority and MaxBasePriority bound the declared base priority scale.
const (
	MinBasePriority = 0
	MaxBasePriority = 10
)

// Task represents a unit of schedulable work.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information passed to the handler.
	Description string `json:"description,omitempty"`
	// Handler names the execution target class this task is routed to.
	Handler string `json:"handler"`
	// Source classifies who or what originated the task.
	Source Source `json:"source"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Prerequisites lists task IDs that must complete before this task.
	Prerequisites []string `json:"prerequisites,omitempty"`
	// BasePriority is the declared priority on the 0-10 scale.
	BasePriority int `json:"base_priority"`
	// Score is the last computed composite priority score.
	Score float64 `json:"score"`
	// Deadline, if set, drives the urgency component of the score.
	Deadline *time.Time `json:"deadline,omitempty"`
	// SyncPoint forces all later waves to wait for this task's wave.
	SyncPoint bool `json:"sync_point,omitempty"`
	// RetryCount is the number of attempts made so far.
	RetryCount int `json:"retry_count"`
	// MaxRetries is the retry budget before the task fails terminally.
	MaxRetries int `json:"max_retries"`
	// RetryContext accumulates causal notes from prior failed attempts.
	RetryContext []string `json:"retry_context,omitempty"`
	// LastError is the most recent failure message.
	LastError string `json:"last_error,omitempty"`
	// CreatedAt is when the task was accepted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the most recent attempt began.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// UpdatedAt is when the task was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
}

// RetriesExhausted reports whether the retry budget is spent.
func (t *Task) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// HasDeadline reports whether the task carries a deadline.
func (t *Task) HasDeadline() bool {
	return t.Deadline != nil && !t.Deadline.IsZero()
}
