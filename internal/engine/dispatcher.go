package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/conductor/internal/breaker"
	"github.com/ShayCichocki/conductor/internal/exec"
	"github.com/ShayCichocki/conductor/internal/retry"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// slot tracks one in-flight execution. The heartbeat field has its own
// mutex so collaborators can beat without touching the engine lock.
type slot struct {
	taskID    string
	handler   string
	startedAt time.Time
	cancel    context.CancelFunc

	mu        sync.Mutex
	heartbeat time.Time
	released  bool
}

func newSlot(taskID, handler string, started time.Time, cancel context.CancelFunc) *slot {
	return &slot{
		taskID:    taskID,
		handler:   handler,
		startedAt: started,
		cancel:    cancel,
		heartbeat: started,
	}
}

func (s *slot) beat(t time.Time) {
	s.mu.Lock()
	s.heartbeat = t
	s.mu.Unlock()
}

func (s *slot) lastBeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat
}

// claimRelease marks the slot as released and reports whether this caller
// won the claim. Exactly one of the liveness reaper and the returning
// execute goroutine gets to release the semaphore and apply an outcome.
func (s *slot) claimRelease() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	return true
}

func (s *slot) cancelExec() {
	s.cancel()
}

// dispatchLocked moves a ready task to running and hands it to its
// collaborator on a fresh goroutine. Caller holds e.mu and has already
// verified a semaphore slot is free.
func (e *Engine) dispatchLocked(t *models.Task, now time.Time) bool {
	select {
	case e.sem <- struct{}{}:
	default:
		return false
	}

	if err := e.applyTransitionLocked(t, models.TaskStatusRunning, now); err != nil {
		<-e.sem
		e.logger.Log("[engine] dispatch %s: %v", t.ID, err)
		return false
	}
	started := now
	t.StartedAt = &started
	e.persistLocked(t)

	ctx, cancel := context.WithTimeout(e.baseCtx, e.opts.execTimeout)
	s := newSlot(t.ID, t.Handler, now, cancel)
	e.slots.Store(t.ID, s)
	e.inflight++

	e.emit(Event{Type: EventTaskDispatched, TaskID: t.ID, TaskTitle: t.Title, Handler: t.Handler, Timestamp: now})

	e.wg.Add(1)
	go e.execute(ctx, s, cloneTask(t))
	return true
}

// execute runs one attempt. It never touches engine state directly; all
// bookkeeping goes through finishAttempt.
func (e *Engine) execute(ctx context.Context, s *slot, t *models.Task) {
	defer e.wg.Done()
	defer s.cancel()

	collab, err := e.registry.Resolve(t.Handler)
	if err != nil {
		e.finishAttempt(ctx, s, t.ID, exec.Result{Outcome: models.OutcomeFailureTerminal, Detail: err.Error()}, nil)
		return
	}

	res, execErr := collab.Execute(ctx, t)
	e.finishAttempt(ctx, s, t.ID, res, execErr)
}

// finishAttempt releases the slot and applies the attempt outcome under
// the engine lock. If the liveness reaper released the slot first, the
// late return is dropped; the timeout outcome was already applied.
func (e *Engine) finishAttempt(ctx context.Context, s *slot, taskID string, res exec.Result, execErr error) {
	if !s.claimRelease() {
		return
	}
	e.slots.Delete(taskID)
	<-e.sem

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight--

	now := e.opts.now()
	t := e.graph.Task(taskID)
	if t == nil {
		return
	}

	// A cancel request already transitioned the task, so the attempt
	// result is dropped. Any half-open trial reservation is handed back
	// since neither success nor failure will be recorded for it.
	if t.Status == models.TaskStatusCanceled {
		e.breaker.AbandonTrial(t.Handler)
		return
	}

	outcome, reason := classifyAttempt(ctx, res, execErr)
	if outcome == models.OutcomeSuccess {
		e.completeLocked(t, now)
		return
	}
	e.failAttemptLocked(t, outcome, reason, now)
}

// classifyAttempt folds the collaborator result and context state into a
// single outcome. Deadline expiry counts as a timeout.
func classifyAttempt(ctx context.Context, res exec.Result, execErr error) (models.Outcome, string) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(execErr, context.DeadlineExceeded) {
		return models.OutcomeTimedOut, "execution timed out"
	}
	if execErr != nil {
		return models.OutcomeFailureRetryable, execErr.Error()
	}
	reason := res.Detail
	if reason == "" {
		reason = res.Outcome.String()
	}
	return res.Outcome, reason
}

// completeLocked finishes a successful attempt and promotes dependents.
func (e *Engine) completeLocked(t *models.Task, now time.Time) {
	if err := e.applyTransitionLocked(t, models.TaskStatusComplete, now); err != nil {
		e.logger.Log("[engine] complete %s: %v", t.ID, err)
		return
	}
	t.CompletedAt = &now
	t.LastError = ""
	e.persistLocked(t)

	wasOpen := e.breaker.State(t.Handler) != breaker.Closed
	e.breaker.RecordSuccess(t.Handler)
	if wasOpen && e.breaker.State(t.Handler) == breaker.Closed {
		e.emit(Event{Type: EventBreakerClosed, Handler: t.Handler, Timestamp: now})
	}

	e.emit(Event{Type: EventTaskCompleted, TaskID: t.ID, TaskTitle: t.Title, Handler: t.Handler, Timestamp: now})

	for _, depID := range e.graph.Dependents(t.ID) {
		if dep := e.graph.Task(depID); dep != nil {
			e.refreshStatusLocked(dep, now)
		}
	}
}

// failAttemptLocked applies one failed attempt: the task moves to failed,
// the breaker records the failure, and the task either requeues with
// backoff or finishes terminally when the budget is spent or the failure
// is not retryable.
func (e *Engine) failAttemptLocked(t *models.Task, outcome models.Outcome, reason string, now time.Time) {
	if err := e.applyTransitionLocked(t, models.TaskStatusFailed, now); err != nil {
		e.logger.Log("[engine] fail %s: %v", t.ID, err)
		return
	}
	t.LastError = reason

	if opened := e.breaker.RecordFailure(t.Handler); opened {
		e.emit(Event{Type: EventBreakerOpen, Handler: t.Handler, Timestamp: now,
			Message: fmt.Sprintf("breaker opened after repeated failures on %s", t.Handler)})
	}

	terminal := outcome == models.OutcomeFailureTerminal || t.RetriesExhausted()
	if terminal {
		t.CompletedAt = &now
		e.persistLocked(t)
		e.emit(Event{Type: EventTaskFailed, TaskID: t.ID, TaskTitle: t.Title, Handler: t.Handler,
			Reason: reason, Message: "failed terminally", Timestamp: now})
		e.cascadeBlockedFailedLocked(t.ID, now)
		return
	}

	retry.Apply(t, outcome, reason)
	delay := e.opts.retryPolicy.NextDelay(t.RetryCount)
	e.retryAt[t.ID] = now.Add(delay)
	e.persistLocked(t)
	e.emit(Event{Type: EventTaskRetry, TaskID: t.ID, TaskTitle: t.Title, Handler: t.Handler,
		Reason: reason, Message: fmt.Sprintf("attempt %d failed, requeue in %s", t.RetryCount, delay), Timestamp: now})
}

// cascadeBlockedFailedLocked marks every non-terminal transitive
// dependent of a dead task. Pending and blocked dependents become
// blocked_failed; failed dependents awaiting retry are canceled since
// their prerequisite can never complete.
func (e *Engine) cascadeBlockedFailedLocked(rootID string, now time.Time) {
	for _, depID := range e.graph.TransitiveDependents(rootID) {
		dep := e.graph.Task(depID)
		if dep == nil || dep.Status.Terminal() {
			continue
		}
		switch dep.Status {
		case models.TaskStatusPending, models.TaskStatusBlocked:
			if err := e.applyTransitionLocked(dep, models.TaskStatusBlockedFailed, now); err != nil {
				e.logger.Log("[engine] cascade %s: %v", depID, err)
				continue
			}
			dep.LastError = fmt.Sprintf("%s: prerequisite %s failed terminally", models.ReasonOrphanedBlock, rootID)
			dep.CompletedAt = &now
			e.persistLocked(dep)
			e.emit(Event{Type: EventTaskFailed, TaskID: dep.ID, TaskTitle: dep.Title,
				Reason: models.ReasonOrphanedBlock, Message: dep.LastError, Timestamp: now})
		case models.TaskStatusFailed:
			e.cancelOneLocked(dep, fmt.Sprintf("prerequisite %s failed terminally", rootID), now)
		}
	}
}
