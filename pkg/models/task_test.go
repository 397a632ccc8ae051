package models

import (
	"errors"
	"testing"
	"time"
)

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusBlocked, TaskStatusReady, TaskStatusRunning,
		TaskStatusComplete, TaskStatusFailed, TaskStatusCanceled, TaskStatusBlockedFailed,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if TaskStatus("bogus").Valid() {
		t.Error("expected bogus status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusBlocked, false},
		{TaskStatusReady, false},
		{TaskStatusRunning, false},
		{TaskStatusFailed, false},
		{TaskStatusComplete, true},
		{TaskStatusCanceled, true},
		{TaskStatusBlockedFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestCanTransitionAllowed(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{TaskStatusPending, TaskStatusReady},
		{TaskStatusPending, TaskStatusBlocked},
		{TaskStatusBlocked, TaskStatusReady},
		{TaskStatusReady, TaskStatusRunning},
		{TaskStatusRunning, TaskStatusComplete},
		{TaskStatusRunning, TaskStatusFailed},
		{TaskStatusFailed, TaskStatusPending},
		{TaskStatusPending, TaskStatusCanceled},
		{TaskStatusReady, TaskStatusCanceled},
		{TaskStatusBlocked, TaskStatusCanceled},
		{TaskStatusRunning, TaskStatusCanceled},
		{TaskStatusBlocked, TaskStatusBlockedFailed},
	}
	for _, tt := range allowed {
		if !tt.from.CanTransition(tt.to) {
			t.Errorf("expected %s -> %s to be allowed", tt.from, tt.to)
		}
	}
}

func TestCanTransitionRejected(t *testing.T) {
	rejected := []struct{ from, to TaskStatus }{
		{TaskStatusComplete, TaskStatusRunning},
		{TaskStatusComplete, TaskStatusPending},
		{TaskStatusCanceled, TaskStatusReady},
		{TaskStatusBlockedFailed, TaskStatusReady},
		{TaskStatusPending, TaskStatusRunning},
		{TaskStatusPending, TaskStatusComplete},
		{TaskStatusBlocked, TaskStatusRunning},
		{TaskStatusReady, TaskStatusComplete},
		{TaskStatusFailed, TaskStatusRunning},
		{TaskStatusFailed, TaskStatusComplete},
	}
	for _, tt := range rejected {
		if tt.from.CanTransition(tt.to) {
			t.Errorf("expected %s -> %s to be rejected", tt.from, tt.to)
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	task := &Task{MaxRetries: 3}
	for i := 0; i < 3; i++ {
		if task.RetriesExhausted() {
			t.Fatalf("retries exhausted at count %d with budget 3", task.RetryCount)
		}
		task.RetryCount++
	}
	if !task.RetriesExhausted() {
		t.Error("expected retries exhausted at count 3")
	}
}

func TestHasDeadline(t *testing.T) {
	task := &Task{}
	if task.HasDeadline() {
		t.Error("expected no deadline")
	}
	zero := time.Time{}
	task.Deadline = &zero
	if task.HasDeadline() {
		t.Error("expected zero deadline to count as unset")
	}
	d := time.Now().Add(time.Hour)
	task.Deadline = &d
	if !task.HasDeadline() {
		t.Error("expected deadline")
	}
}

func TestValidationError(t *testing.T) {
	err := Validationf(ReasonInvalidPriority, "priority %d out of range", 42)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected ValidationError")
	}
	if ve.Code != ReasonInvalidPriority {
		t.Errorf("expected code %s, got %s", ReasonInvalidPriority, ve.Code)
	}
	if ve.Error() != "INVALID_PRIORITY: priority 42 out of range" {
		t.Errorf("unexpected message: %s", ve.Error())
	}
}

func TestCycleErrorPath(t *testing.T) {
	err := &CycleError{Path: []string{"a", "b", "a"}}
	want := "CYCLE_DETECTED: dependency cycle: a -> b -> a"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeSuccess, "success"},
		{OutcomeFailureRetryable, "failure_retryable"},
		{OutcomeFailureTerminal, "failure_terminal"},
		{OutcomeTimedOut, "timed_out"},
		{Outcome(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}
