// Package state provides SQLite-based persistence for the task queue.
package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// TaskStore handles task and dependency-edge persistence.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	UpdateTask(t *models.Task) error
	ListTasks(f Filter) ([]*models.Task, error)
	ActiveTasks() ([]*models.Task, error)
	Dependents(taskID string) ([]string, error)
}

// StatsProvider answers aggregate queue-status queries.
type StatsProvider interface {
	Stats() (*QueueStats, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Reaper removes aged-out terminal tasks.
type Reaper interface {
	PurgeTerminal(olderThan time.Duration) (int64, error)
}

// Store defines the interface for queue persistence. The engine works
// against this contract, not the concrete SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	StatsProvider
	Reaper
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ TaskStore     = (*DB)(nil)
	_ StatsProvider = (*DB)(nil)
	_ Reaper        = (*DB)(nil)
)
