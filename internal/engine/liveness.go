package engine

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// livenessSweepLocked runs the per-tick health checks: stale running
// slots, dependency cycles that appeared after insertion-time checks,
// and blocked tasks whose blockers have all resolved.
func (e *Engine) livenessSweepLocked(now time.Time) {
	e.reapStuckLocked(now)
	e.breakLiveCycleLocked(now)
	e.sweepBlockedLocked(now)
}

// reapStuckLocked forcibly fails running slots whose heartbeat has gone
// stale. The slot is released right here rather than waiting for the
// collaborator to return, since a collaborator that ignores cancellation
// would otherwise pin a semaphore slot forever. A late return from the
// execute goroutine is dropped by finishAttempt.
func (e *Engine) reapStuckLocked(now time.Time) {
	stuckAfter := time.Duration(e.opts.stuckMultiple * float64(e.opts.execTimeout))

	e.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		if now.Sub(s.lastBeat()) <= stuckAfter {
			return true
		}
		if !s.claimRelease() {
			return true
		}
		e.logger.Log("[engine] task %s stuck: no heartbeat since %s", s.taskID, s.lastBeat().Format(time.RFC3339))
		s.cancelExec()
		e.slots.Delete(s.taskID)
		<-e.sem
		e.inflight--

		e.emit(Event{
			Type:      EventLiveness,
			TaskID:    s.taskID,
			Handler:   s.handler,
			Reason:    models.ReasonStuckTimeout,
			Message:   fmt.Sprintf("no heartbeat for over %s, reaping attempt", stuckAfter),
			Timestamp: now,
		})

		if t := e.graph.Task(s.taskID); t != nil && t.Status == models.TaskStatusRunning {
			e.failAttemptLocked(t, models.OutcomeTimedOut, models.ReasonStuckTimeout+": no heartbeat within stuck window", now)
		}
		return true
	})
}

// breakLiveCycleLocked is the defensive re-check for cycles among
// non-terminal tasks. Insertion-time checks prevent them, but a cycle
// found here is broken by canceling one member rather than wedging the
// queue forever.
func (e *Engine) breakLiveCycleLocked(now time.Time) {
	member, ok := e.graph.LiveCycle()
	if !ok {
		return
	}
	t := e.graph.Task(member)
	if t == nil || t.Status.Terminal() {
		return
	}

	e.emit(Event{
		Type:      EventLiveness,
		TaskID:    member,
		TaskTitle: t.Title,
		Reason:    models.ReasonPosthocCycle,
		Message:   "dependency cycle among live tasks, canceling one member to break it",
		Timestamp: now,
	})
	e.cancelOneLocked(t, models.ReasonPosthocCycle+": canceled to break live dependency cycle", now)
}

// sweepBlockedLocked re-evaluates every pending and blocked task. This
// catches orphaned blocks: tasks whose blockers all resolved without the
// completion path promoting them, and tasks stuck behind prerequisites
// that can never complete.
func (e *Engine) sweepBlockedLocked(now time.Time) {
	for _, id := range e.graph.TaskIDs() {
		t := e.graph.Task(id)
		if t == nil {
			continue
		}
		if t.Status == models.TaskStatusPending || t.Status == models.TaskStatusBlocked {
			e.refreshStatusLocked(t, now)
		}
	}
}
