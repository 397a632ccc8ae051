package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testTask(id string, prereqs ...string) *models.Task {
	now := time.Now()
	return &models.Task{
		ID:            id,
		Title:         "Task " + id,
		Handler:       "worker",
		Source:        models.SourceHuman,
		Status:        models.TaskStatusPending,
		BasePriority:  5,
		MaxRetries:    3,
		Prerequisites: prereqs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	db := testDB(t)

	task := testTask("t1")
	deadline := time.Now().Add(time.Hour).UTC()
	task.Deadline = &deadline
	task.SyncPoint = true
	task.RetryContext = []string{"attempt 1 failed (timed_out): slow"}

	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Title != task.Title || got.Handler != "worker" || got.Source != models.SourceHuman {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.SyncPoint {
		t.Error("sync point flag lost")
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Errorf("deadline mismatch: %v", got.Deadline)
	}
	if len(got.RetryContext) != 1 {
		t.Errorf("retry context lost: %v", got.RetryContext)
	}
}

func TestGetTaskMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetTask("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing task, got %+v", got)
	}
}

func TestDependencyEdgesRoundTrip(t *testing.T) {
	db := testDB(t)

	if err := db.CreateTask(testTask("a")); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := db.CreateTask(testTask("b")); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if err := db.CreateTask(testTask("c", "a", "b")); err != nil {
		t.Fatalf("create c: %v", err)
	}

	got, err := db.GetTask("c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Prerequisites) != 2 {
		t.Errorf("expected 2 prerequisites, got %v", got.Prerequisites)
	}

	dependents, err := db.Dependents("a")
	if err != nil {
		t.Fatalf("dependents: %v", err)
	}
	if len(dependents) != 1 || dependents[0] != "c" {
		t.Errorf("expected [c], got %v", dependents)
	}
}

func TestCreateTaskUnknownPrerequisiteRejected(t *testing.T) {
	db := testDB(t)
	// Foreign key constraint: the edge insert must fail and roll back the
	// whole transaction, leaving no partial task row.
	if err := db.CreateTask(testTask("x", "missing")); err == nil {
		t.Fatal("expected foreign key violation")
	}
	got, err := db.GetTask("x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("task row must not survive a failed edge insert")
	}
}

func TestUpdateTask(t *testing.T) {
	db := testDB(t)
	task := testTask("t1")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}

	task.Status = models.TaskStatusFailed
	task.RetryCount = 2
	task.LastError = "boom"
	task.UpdatedAt = time.Now()
	if err := db.UpdateTask(task); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.TaskStatusFailed || got.RetryCount != 2 || got.LastError != "boom" {
		t.Errorf("update not persisted: %+v", got)
	}
}

func TestListTasksFilter(t *testing.T) {
	db := testDB(t)

	a := testTask("a")
	b := testTask("b")
	b.Status = models.TaskStatusComplete
	c := testTask("c")
	c.Source = models.SourceFollowup
	for _, task := range []*models.Task{a, b, c} {
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	pending, err := db.ListTasks(Filter{Status: models.TaskStatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending, got %d", len(pending))
	}

	followup, err := db.ListTasks(Filter{Source: models.SourceFollowup})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(followup) != 1 || followup[0].ID != "c" {
		t.Errorf("expected [c], got %v", followup)
	}

	limited, err := db.ListTasks(Filter{Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit 1 respected, got %d", len(limited))
	}
}

func TestActiveTasksExcludesTerminal(t *testing.T) {
	db := testDB(t)

	a := testTask("a")
	b := testTask("b")
	b.Status = models.TaskStatusComplete
	c := testTask("c")
	c.Status = models.TaskStatusBlockedFailed
	for _, task := range []*models.Task{a, b, c} {
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	active, err := db.ActiveTasks()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "a" {
		t.Errorf("expected [a], got %v", active)
	}
}

func TestStats(t *testing.T) {
	db := testDB(t)

	a := testTask("a")
	a.Score = 2.0
	b := testTask("b")
	b.Score = 4.0
	c := testTask("c")
	c.Status = models.TaskStatusComplete
	for _, task := range []*models.Task{a, b, c} {
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
	if stats.PerStatus[models.TaskStatusPending] != 2 {
		t.Errorf("expected 2 pending, got %d", stats.PerStatus[models.TaskStatusPending])
	}
	if stats.AvgScore != 3.0 {
		t.Errorf("expected avg score 3.0 over non-terminal tasks, got %f", stats.AvgScore)
	}
	if stats.OldestPendingAge <= 0 {
		t.Error("expected positive oldest pending age")
	}
}

func TestPurgeTerminal(t *testing.T) {
	db := testDB(t)

	old := testTask("old")
	old.Status = models.TaskStatusComplete
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	fresh := testTask("fresh")
	fresh.Status = models.TaskStatusComplete
	live := testTask("live")
	for _, task := range []*models.Task{old, fresh, live} {
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	purged, err := db.PurgeTerminal(24 * time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged, got %d", purged)
	}
	if got, _ := db.GetTask("old"); got != nil {
		t.Error("old terminal task should be gone")
	}
	if got, _ := db.GetTask("live"); got == nil {
		t.Error("non-terminal task must survive purge")
	}
}
