package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Filter narrows ListTasks results. Zero values mean "no constraint".
type Filter struct {
	Status models.TaskStatus
	Source models.Source
	Limit  int
}

// QueueStats is the aggregate queue view for status reporting.
type QueueStats struct {
	Total            int                       `json:"total"`
	PerStatus        map[models.TaskStatus]int `json:"per_status"`
	AvgScore         float64                   `json:"avg_score"`
	OldestPendingAge time.Duration             `json:"oldest_pending_age"`
}

// CreateTask persists a task and its dependency edges in one transaction.
// The edge insert enforces pair uniqueness and referential integrity, so a
// prerequisite referencing a missing row fails the whole insert.
func (db *DB) CreateTask(t *models.Task) error {
	retryCtx, err := json.Marshal(t.RetryContext)
	if err != nil {
		return fmt.Errorf("marshal retry context: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (id, title, description, handler, source, status,
				base_priority, score, deadline, sync_point, retry_count, max_retries,
				retry_context, last_error, created_at, started_at, completed_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Title, t.Description, t.Handler, string(t.Source), string(t.Status),
			t.BasePriority, t.Score, formatNullableTime(t.Deadline), boolToInt(t.SyncPoint),
			t.RetryCount, t.MaxRetries, string(retryCtx), t.LastError,
			formatTime(t.CreatedAt), formatNullableTime(t.StartedAt),
			formatNullableTime(t.CompletedAt), formatTime(t.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		for _, prereq := range t.Prerequisites {
			if _, err := tx.Exec(`
				INSERT INTO task_deps (dependent_id, prerequisite_id) VALUES (?, ?)
			`, t.ID, prereq); err != nil {
				return fmt.Errorf("insert dependency %s -> %s: %w", t.ID, prereq, err)
			}
		}
		return nil
	})
}

// GetTask retrieves a task by ID, including its prerequisite edges.
// Returns nil, nil when no task matches.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(taskSelect+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	prereqs, err := db.prerequisitesOf(id)
	if err != nil {
		return nil, err
	}
	t.Prerequisites = prereqs
	return t, nil
}

// UpdateTask persists the mutable fields of a task. Edges are immutable
// after creation and are not touched here.
func (db *DB) UpdateTask(t *models.Task) error {
	retryCtx, err := json.Marshal(t.RetryContext)
	if err != nil {
		return fmt.Errorf("marshal retry context: %w", err)
	}

	_, err = db.Exec(`
		UPDATE tasks SET title = ?, description = ?, handler = ?, source = ?,
			status = ?, base_priority = ?, score = ?, deadline = ?, sync_point = ?,
			retry_count = ?, max_retries = ?, retry_context = ?, last_error = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, t.Title, t.Description, t.Handler, string(t.Source), string(t.Status),
		t.BasePriority, t.Score, formatNullableTime(t.Deadline), boolToInt(t.SyncPoint),
		t.RetryCount, t.MaxRetries, string(retryCtx), t.LastError,
		formatNullableTime(t.StartedAt), formatNullableTime(t.CompletedAt),
		formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// ListTasks returns tasks matching the filter, newest first.
func (db *DB) ListTasks(f Filter) ([]*models.Task, error) {
	query := taskSelect
	var args []any
	where := ""
	if f.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(f.Status))
	}
	if f.Source != "" {
		if where == "" {
			where = " WHERE source = ?"
		} else {
			where += " AND source = ?"
		}
		args = append(args, string(f.Source))
	}
	query += where + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	for _, t := range tasks {
		prereqs, err := db.prerequisitesOf(t.ID)
		if err != nil {
			return nil, err
		}
		t.Prerequisites = prereqs
	}
	return tasks, nil
}

// ActiveTasks returns every non-terminal task with its edges, for rebuilding
// the in-memory graph on startup.
func (db *DB) ActiveTasks() ([]*models.Task, error) {
	rows, err := db.Query(taskSelect + `
		WHERE status NOT IN ('complete', 'canceled', 'blocked_failed')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	for _, t := range tasks {
		prereqs, err := db.prerequisitesOf(t.ID)
		if err != nil {
			return nil, err
		}
		t.Prerequisites = prereqs
	}
	return tasks, nil
}

// Dependents returns the ids of tasks that declare taskID as a prerequisite.
func (db *DB) Dependents(taskID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT dependent_id FROM task_deps WHERE prerequisite_id = ? ORDER BY dependent_id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats computes the aggregate queue view.
func (db *DB) Stats() (*QueueStats, error) {
	stats := &QueueStats{PerStatus: make(map[models.TaskStatus]int)}

	rows, err := db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count per status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.PerStatus[models.TaskStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	row := db.QueryRow(`
		SELECT COALESCE(AVG(score), 0) FROM tasks
		WHERE status NOT IN ('complete', 'canceled', 'blocked_failed')`)
	if err := row.Scan(&stats.AvgScore); err != nil {
		return nil, fmt.Errorf("average score: %w", err)
	}

	var oldest sql.NullString
	row = db.QueryRow(`
		SELECT MIN(created_at) FROM tasks
		WHERE status IN ('pending', 'blocked', 'ready')`)
	if err := row.Scan(&oldest); err != nil {
		return nil, fmt.Errorf("oldest pending: %w", err)
	}
	if t := parseNullableTime(oldest); t != nil {
		stats.OldestPendingAge = time.Since(*t)
	}

	return stats, nil
}

// PurgeTerminal deletes terminal tasks older than the given age. Edges go
// with them via ON DELETE CASCADE. Returns the number of tasks deleted.
func (db *DB) PurgeTerminal(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := db.Exec(`
		DELETE FROM tasks
		WHERE status IN ('complete', 'canceled', 'blocked_failed') AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal tasks: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

const taskSelect = `
	SELECT id, title, description, handler, source, status, base_priority,
		score, deadline, sync_point, retry_count, max_retries, retry_context,
		last_error, created_at, started_at, completed_at, updated_at
	FROM tasks`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	var source, status, createdAt, updatedAt string
	var description, retryCtx, lastError sql.NullString
	var deadline, startedAt, completedAt sql.NullString
	var syncPoint int

	err := row.Scan(&t.ID, &t.Title, &description, &t.Handler, &source, &status,
		&t.BasePriority, &t.Score, &deadline, &syncPoint, &t.RetryCount,
		&t.MaxRetries, &retryCtx, &lastError, &createdAt, &startedAt,
		&completedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Source = models.Source(source)
	t.Status = models.TaskStatus(status)
	t.SyncPoint = syncPoint != 0
	t.LastError = lastError.String
	t.Deadline = parseNullableTime(deadline)
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)

	if retryCtx.Valid && retryCtx.String != "" {
		if err := json.Unmarshal([]byte(retryCtx.String), &t.RetryContext); err != nil {
			return nil, fmt.Errorf("unmarshal retry context: %w", err)
		}
	}
	return &t, nil
}

func (db *DB) prerequisitesOf(taskID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT prerequisite_id FROM task_deps WHERE dependent_id = ? ORDER BY prerequisite_id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan prerequisite: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
