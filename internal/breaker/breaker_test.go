package breaker

import (
	"testing"
	"time"
)

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New(cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })
	return b, &now
}

func TestAllowUnknownHandler(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	if !b.Allow("worker") {
		t.Error("unknown handler should be allowed")
	}
	if b.State("worker") != Closed {
		t.Error("unknown handler should be closed")
	}
}

func TestOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 5, Window: time.Minute, ResetTimeout: time.Minute})

	for i := 0; i < 4; i++ {
		if opened := b.RecordFailure("worker"); opened {
			t.Fatalf("breaker opened early at failure %d", i+1)
		}
	}
	if !b.Allow("worker") {
		t.Fatal("breaker should still allow below threshold")
	}
	if opened := b.RecordFailure("worker"); !opened {
		t.Fatal("expected breaker to open at 5th failure")
	}
	if b.Allow("worker") {
		t.Error("open breaker must hold dispatch")
	}
	if b.State("worker") != Open {
		t.Errorf("expected open, got %s", b.State("worker"))
	}
}

func TestWindowExpiryForgetsFailures(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 3, Window: time.Minute, ResetTimeout: time.Minute})

	b.RecordFailure("worker")
	b.RecordFailure("worker")
	// Old failures age out of the trailing window.
	*now = now.Add(2 * time.Minute)
	if opened := b.RecordFailure("worker"); opened {
		t.Error("failures outside the window must not count toward the threshold")
	}
	if b.State("worker") != Closed {
		t.Errorf("expected closed, got %s", b.State("worker"))
	}
}

func TestHalfOpenSingleTrial(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 2, Window: time.Minute, ResetTimeout: 30 * time.Second})

	b.RecordFailure("worker")
	b.RecordFailure("worker")
	if b.Allow("worker") {
		t.Fatal("expected open breaker")
	}

	*now = now.Add(31 * time.Second)
	if b.State("worker") != HalfOpen {
		t.Fatalf("expected half-open past reset deadline, got %s", b.State("worker"))
	}
	if !b.Allow("worker") {
		t.Fatal("half-open breaker should permit one trial")
	}
	if b.Allow("worker") {
		t.Error("only one trial dispatch is permitted while half-open")
	}
}

func TestHalfOpenClosesOnSuccess(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 2, Window: time.Minute, ResetTimeout: time.Second})

	b.RecordFailure("worker")
	b.RecordFailure("worker")
	*now = now.Add(2 * time.Second)
	if !b.Allow("worker") {
		t.Fatal("expected trial dispatch allowed")
	}

	b.RecordSuccess("worker")
	if b.State("worker") != Closed {
		t.Errorf("expected closed after trial success, got %s", b.State("worker"))
	}
	// Failure history is cleared: a single new failure must not reopen.
	if opened := b.RecordFailure("worker"); opened {
		t.Error("breaker reopened from stale failure history")
	}
}

func TestAbandonTrialFreesHalfOpen(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 2, Window: time.Minute, ResetTimeout: time.Second})

	b.RecordFailure("worker")
	b.RecordFailure("worker")
	*now = now.Add(2 * time.Second)
	if !b.Allow("worker") {
		t.Fatal("expected trial dispatch allowed")
	}
	if b.Allow("worker") {
		t.Fatal("trial reservation should hold further dispatch")
	}

	// The trial resolved without an outcome, e.g. it was canceled.
	b.AbandonTrial("worker")
	if b.State("worker") != HalfOpen {
		t.Errorf("expected half-open after abandoned trial, got %s", b.State("worker"))
	}
	if !b.Allow("worker") {
		t.Error("abandoned trial must free the slot for a fresh trial")
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 2, Window: time.Minute, ResetTimeout: time.Second})

	b.RecordFailure("worker")
	b.RecordFailure("worker")
	*now = now.Add(2 * time.Second)
	if !b.Allow("worker") {
		t.Fatal("expected trial dispatch allowed")
	}

	if opened := b.RecordFailure("worker"); !opened {
		t.Fatal("trial failure must reopen the breaker")
	}
	if b.Allow("worker") {
		t.Error("reopened breaker must hold dispatch")
	}
}

func TestBreakersAreIndependentPerHandler(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, Window: time.Minute, ResetTimeout: time.Minute})

	b.RecordFailure("bad")
	b.RecordFailure("bad")
	if b.Allow("bad") {
		t.Error("bad handler should be held")
	}
	if !b.Allow("good") {
		t.Error("unrelated handler must stay dispatchable")
	}
}

func TestOpenHandlers(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, Window: time.Minute, ResetTimeout: time.Minute})

	b.RecordFailure("bad")
	open := b.OpenHandlers()
	if len(open) != 1 || open[0] != "bad" {
		t.Errorf("expected [bad], got %v", open)
	}
}

func TestReap(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 5, Window: time.Minute, ResetTimeout: time.Minute})

	b.RecordFailure("idle")
	b.RecordSuccess("idle") // closed again
	*now = now.Add(2 * time.Hour)

	if reaped := b.Reap(time.Hour); reaped != 1 {
		t.Errorf("expected 1 reaped record, got %d", reaped)
	}
	// Open breakers are never reaped.
	b.RecordFailure("hot")
	b.RecordFailure("hot")
	b.RecordFailure("hot")
	b.RecordFailure("hot")
	b.RecordFailure("hot")
	*now = now.Add(2 * time.Hour)
	if reaped := b.Reap(time.Hour); reaped != 0 {
		t.Errorf("open breaker must not be reaped, got %d", reaped)
	}
}
