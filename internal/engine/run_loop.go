package engine

import (
	"context"
	"time"

	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// runLoop is the fixed-interval control loop: requeue due retries, run
// the liveness sweep, refresh scores, then schedule and dispatch.
func (e *Engine) runLoop(ctx context.Context) {
	defer close(e.loopDone)

	ticker := time.NewTicker(e.opts.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick runs one control loop pass. Tests drive it directly instead of
// waiting on the wall-clock loop.
func (e *Engine) tick() {
	e.mu.Lock()
	now := e.opts.now()

	e.absorbNewTasksLocked(now)
	e.requeueDueRetriesLocked(now)
	e.livenessSweepLocked(now)
	e.refreshScoresLocked(now)

	for _, t := range e.scheduleLocked(now) {
		e.dispatchLocked(t, now)
	}
	e.mu.Unlock()
}

// absorbNewTasksLocked pulls tasks submitted by other processes (the
// CLI writes straight to the shared store) into the in-memory graph.
// Multi-pass insertion keeps prerequisites ahead of dependents.
func (e *Engine) absorbNewTasksLocked(now time.Time) {
	tasks, err := e.store.ListTasks(state.Filter{})
	if err != nil {
		e.logger.Log("[engine] absorb: %v", err)
		return
	}

	var missing []*models.Task
	for _, t := range tasks {
		if e.graph.Task(t.ID) == nil {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return
	}

	for len(missing) > 0 {
		var deferred []*models.Task
		progress := false
		for _, t := range missing {
			if !e.prereqsPresentLocked(t) {
				deferred = append(deferred, t)
				continue
			}
			if err := e.graph.Add(t); err != nil {
				e.logger.Log("[engine] absorb: dropping task %s: %v", t.ID, err)
			} else {
				e.logger.Log("[engine] absorbed task %s (%s)", t.ID, t.Title)
				e.seedRetryLocked(t)
			}
			progress = true
		}
		if !progress {
			for _, t := range deferred {
				e.logger.Log("[engine] absorb: task %s has unresolvable prerequisites, skipped", t.ID)
			}
			return
		}
		missing = deferred
	}
}

// requeueDueRetriesLocked moves failed tasks whose backoff delay has
// elapsed back through pending for re-evaluation.
func (e *Engine) requeueDueRetriesLocked(now time.Time) {
	for id, at := range e.retryAt {
		if now.Before(at) {
			continue
		}
		delete(e.retryAt, id)

		t := e.graph.Task(id)
		if t == nil || t.Status != models.TaskStatusFailed {
			continue
		}
		if err := e.applyTransitionLocked(t, models.TaskStatusPending, now); err != nil {
			e.logger.Log("[engine] requeue %s: %v", id, err)
			continue
		}
		e.persistLocked(t)
		e.refreshStatusLocked(t, now)
	}
}

// refreshScoresLocked recomputes composite scores for every non-terminal
// task. Scores are persisted on the next status change; the in-memory
// value drives scheduling.
func (e *Engine) refreshScoresLocked(now time.Time) {
	for _, id := range e.graph.TaskIDs() {
		t := e.graph.Task(id)
		if t == nil || t.Status.Terminal() || t.Status == models.TaskStatusRunning {
			continue
		}
		t.Score = e.scoreLocked(t, now)
	}
}
