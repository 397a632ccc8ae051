package state

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// InterruptedTask describes a task found in the running status with no live
// execution slot, detected on startup.
type InterruptedTask struct {
	TaskID    string
	Title     string
	StartedAt *time.Time
}

// RecoveryManager resets work interrupted by a process restart. Running
// slots are in-memory only, so any task persisted as running at startup was
// necessarily abandoned mid-flight.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// RecoverInterrupted finds tasks persisted as running and resets them to
// pending with an INTERRUPTED_RESTART note in their retry context, so the
// next attempt knows it is not a blind repeat. Returns the tasks that were
// reset.
func (rm *RecoveryManager) RecoverInterrupted() ([]InterruptedTask, error) {
	running, err := rm.db.ListTasks(Filter{Status: models.TaskStatusRunning})
	if err != nil {
		return nil, fmt.Errorf("list running tasks: %w", err)
	}

	var recovered []InterruptedTask
	for _, t := range running {
		recovered = append(recovered, InterruptedTask{
			TaskID:    t.ID,
			Title:     t.Title,
			StartedAt: t.StartedAt,
		})

		t.Status = models.TaskStatusPending
		t.RetryContext = append(t.RetryContext,
			fmt.Sprintf("%s: attempt interrupted by process restart", models.ReasonInterruptedRestart))
		t.StartedAt = nil
		t.UpdatedAt = time.Now()
		if err := rm.db.UpdateTask(t); err != nil {
			return recovered, fmt.Errorf("reset interrupted task %s: %w", t.ID, err)
		}
	}

	return recovered, nil
}
