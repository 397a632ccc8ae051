package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// scheduleLocked picks ready tasks for dispatch, highest score first with
// earliest CreatedAt then id as tie-breaks. Sync-point gating and open
// breakers hold tasks in ready without consuming a slot.
func (e *Engine) scheduleLocked(now time.Time) []*models.Task {
	free := e.opts.concurrency - e.inflight
	if free <= 0 {
		return nil
	}

	candidates := e.readyTasksLocked()
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	gate, waves := e.syncGateLocked()

	var picked []*models.Task
	for _, t := range candidates {
		if len(picked) >= free {
			break
		}
		if gate >= 0 && waves[t.ID] > gate {
			e.logger.Log("[engine] holding %s: sync point gates wave %d (gate at %d)", t.ID, waves[t.ID], gate)
			continue
		}
		// Allow moves an expired open breaker to half-open and reserves
		// its single trial, so it is only called on tasks we will
		// actually dispatch.
		if !e.breaker.Allow(t.Handler) {
			e.logger.Log("[engine] holding %s: breaker %s for handler %s",
				t.ID, e.breaker.State(t.Handler), t.Handler)
			continue
		}
		picked = append(picked, t)
	}
	return picked
}

// syncGateLocked computes the wave gate imposed by sync-point tasks: the
// lowest wave containing a sync-point task whose cohort, meaning every
// task in that wave and all earlier waves, has not fully finished. The
// gate persists after the sync task itself completes; later waves wait
// for the whole cohort. Returns gate -1 when nothing gates.
func (e *Engine) syncGateLocked() (int, map[string]int) {
	plan, err := e.graph.Plan(nil)
	if err != nil {
		e.logger.Log("[engine] sync gate: %v", err)
		return -1, nil
	}

	waves := make(map[string]int)
	gate := -1
	anyUnfinished := false
	for _, w := range plan.Waves {
		for _, id := range w.TaskIDs {
			waves[id] = w.Index
			if t := e.graph.Task(id); t != nil && !taskFinished(t) {
				anyUnfinished = true
			}
		}
		if gate == -1 && w.SyncPoint && anyUnfinished {
			gate = w.Index
		}
	}
	return gate, waves
}

// refreshStatusLocked re-evaluates a pending or blocked task against its
// prerequisites: dead prerequisites make it terminal, unmet ones keep it
// blocked, a clear path promotes it to ready.
func (e *Engine) refreshStatusLocked(t *models.Task, now time.Time) {
	if t.Status != models.TaskStatusPending && t.Status != models.TaskStatusBlocked {
		return
	}

	if dead := e.graph.DeadPrerequisites(t.ID); len(dead) > 0 {
		if err := e.applyTransitionLocked(t, models.TaskStatusBlockedFailed, now); err != nil {
			e.logger.Log("[engine] refresh %s: %v", t.ID, err)
			return
		}
		t.LastError = models.ReasonOrphanedBlock + ": prerequisites can never complete: " + strings.Join(dead, ", ")
		t.CompletedAt = &now
		e.persistLocked(t)
		e.emit(Event{Type: EventTaskFailed, TaskID: t.ID, TaskTitle: t.Title,
			Reason: models.ReasonOrphanedBlock, Message: t.LastError, Timestamp: now})
		return
	}

	if len(e.graph.UnmetPrerequisites(t.ID)) > 0 {
		if t.Status == models.TaskStatusPending {
			if err := e.applyTransitionLocked(t, models.TaskStatusBlocked, now); err == nil {
				e.persistLocked(t)
			}
		}
		return
	}

	if err := e.applyTransitionLocked(t, models.TaskStatusReady, now); err != nil {
		e.logger.Log("[engine] refresh %s: %v", t.ID, err)
		return
	}
	t.Score = e.scoreLocked(t, now)
	e.persistLocked(t)
	e.emit(Event{Type: EventTaskReady, TaskID: t.ID, TaskTitle: t.Title, Timestamp: now})
}
