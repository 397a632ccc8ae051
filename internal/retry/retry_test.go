package retry

import (
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestBareDelayExponentialShape(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0, Jitter: 0.1}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, time.Minute}, // capped
	}
	for _, tt := range tests {
		if got := p.BareDelay(tt.attempt); got != tt.want {
			t.Errorf("BareDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNextDelayWithinJitterBounds(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0, Jitter: 0.3}

	for attempt := 0; attempt < 5; attempt++ {
		bare := p.BareDelay(attempt)
		lo := time.Duration(float64(bare) * (1 - p.Jitter))
		hi := time.Duration(float64(bare) * (1 + p.Jitter))
		if hi > p.MaxDelay {
			hi = p.MaxDelay
		}
		for i := 0; i < 20; i++ {
			got := p.NextDelay(attempt)
			if got < lo || got > hi {
				t.Fatalf("NextDelay(%d) = %v outside [%v, %v]", attempt, got, lo, hi)
			}
		}
	}
}

func TestNextDelayNeverExceedsMax(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 3.0, Jitter: 0.5}
	for attempt := 0; attempt < 12; attempt++ {
		if got := p.NextDelay(attempt); got > p.MaxDelay {
			t.Fatalf("NextDelay(%d) = %v exceeds max %v", attempt, got, p.MaxDelay)
		}
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	p := Policy{}.normalize()
	d := DefaultPolicy()
	if p.InitialDelay != d.InitialDelay || p.MaxDelay != d.MaxDelay ||
		p.Multiplier != d.Multiplier || p.Jitter != d.Jitter {
		t.Errorf("normalize did not fill defaults: %+v", p)
	}
}

func TestContextNote(t *testing.T) {
	note := ContextNote(2, models.OutcomeTimedOut, "handler unreachable")
	if !strings.Contains(note, "attempt 2") || !strings.Contains(note, "timed_out") ||
		!strings.Contains(note, "handler unreachable") {
		t.Errorf("note missing causal detail: %q", note)
	}

	empty := ContextNote(1, models.OutcomeFailureRetryable, "")
	if !strings.Contains(empty, "(no error recorded)") {
		t.Errorf("expected placeholder for empty reason, got %q", empty)
	}
}

func TestApplyAccumulatesContext(t *testing.T) {
	task := &models.Task{ID: "t1", MaxRetries: 3}

	Apply(task, models.OutcomeFailureRetryable, "connection refused")
	Apply(task, models.OutcomeTimedOut, "deadline exceeded")

	if task.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", task.RetryCount)
	}
	if task.LastError != "deadline exceeded" {
		t.Errorf("expected last error updated, got %q", task.LastError)
	}
	if len(task.RetryContext) != 2 {
		t.Fatalf("expected 2 context notes, got %d", len(task.RetryContext))
	}
	if !strings.Contains(task.RetryContext[0], "attempt 1") {
		t.Errorf("first note should record attempt 1: %q", task.RetryContext[0])
	}
	if !strings.Contains(task.RetryContext[1], "attempt 2") {
		t.Errorf("second note should record attempt 2: %q", task.RetryContext[1])
	}
}
