package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/conductor/internal/breaker"
	"github.com/ShayCichocki/conductor/internal/exec"
	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/internal/priority"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Store is the persistence surface the engine needs. The concrete SQLite
// store satisfies it; tests can substitute their own.
type Store interface {
	state.TaskStore
	state.StatsProvider
	state.Reaper
}

// Engine is the single owning service for the task queue. All graph,
// score, and status mutation happens behind its mutex; dispatcher
// goroutines touch only the running-slot table and report back through
// finishAttempt. The mutex is never held across a collaborator call.
type Engine struct {
	mu sync.Mutex

	opts     *engineOptions
	store    Store
	graph    *graph.DependencyGraph
	calc     *priority.Calculator
	breaker  *breaker.Breaker
	registry *exec.Registry
	emitter  *EventEmitter
	logger   *DebugLogger

	// sem bounds in-flight executions.
	sem chan struct{}
	// slots maps task ID to its running slot record.
	slots sync.Map
	// inflight counts occupied slots. Guarded by mu.
	inflight int
	// retryAt holds the earliest requeue time for failed tasks awaiting
	// another attempt. Guarded by mu.
	retryAt map[string]time.Time

	wg         sync.WaitGroup
	baseCtx    context.Context
	baseCancel context.CancelFunc
	stopCh     chan struct{}
	loopDone   chan struct{}
	started    bool
	stopped    bool
}

// New creates an Engine backed by the given store and handler registry.
func New(store Store, registry *exec.Registry, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.emitter == nil {
		o.emitter = NewEventEmitter(256)
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}

	e := &Engine{
		opts:     o,
		store:    store,
		graph:    graph.New(),
		calc:     priority.NewCalculator(o.weights),
		breaker:  breaker.New(o.breakerConfig),
		registry: registry,
		emitter:  o.emitter,
		logger:   o.logger,
		sem:      make(chan struct{}, o.concurrency),
		retryAt:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	e.breaker.SetClock(o.now)
	e.graph.SetDebugLog(e.logger.Log)
	// Valid execution base before Start for callers that drive ticks
	// directly.
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	return e
}

// Events returns the engine's event stream.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// SubmitRequest describes a task submission.
type SubmitRequest struct {
	Title         string
	Description   string
	Handler       string
	Source        models.Source
	Prerequisites []string
	BasePriority  int
	Deadline      *time.Time
	SyncPoint     bool
	// MaxRetries below zero means use the engine default.
	MaxRetries int
}

// SubmitResult reports the accepted task.
type SubmitResult struct {
	Task *models.Task
}

// CancelResult reports a cancellation and its cascade.
type CancelResult struct {
	TaskID string
	// Cascaded lists dependent task IDs canceled along with TaskID.
	Cascaded []string
}

// QueueStatus combines store aggregates with live engine state.
type QueueStatus struct {
	state.QueueStats
	// Inflight is the number of currently executing tasks.
	Inflight int
	// HeldByBreaker is the number of ready tasks whose handler breaker
	// is open.
	HeldByBreaker int
	// OpenHandlers lists handlers with an open breaker.
	OpenHandlers []string
	// DroppedEvents is the emitter's total drop count.
	DroppedEvents uint64
}

// Submit validates and accepts a new task. Validation failures return a
// structured error and leave nothing persisted.
func (e *Engine) Submit(req SubmitRequest) (*SubmitResult, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title must not be empty")
	}
	if req.BasePriority < models.MinBasePriority || req.BasePriority > models.MaxBasePriority {
		return nil, models.Validationf(models.ReasonInvalidPriority,
			"base priority %d outside [%d, %d]", req.BasePriority, models.MinBasePriority, models.MaxBasePriority)
	}
	source := req.Source
	if source == "" {
		source = models.SourceHuman
	}
	if !source.Valid() {
		return nil, models.Validationf(models.ReasonInvalidSource, "unknown source %q", source)
	}
	if !e.registry.Known(req.Handler) {
		return nil, models.Validationf(models.ReasonUnknownHandler, "no handler registered as %q", req.Handler)
	}
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = e.opts.defaultMaxRetries
	}

	now := e.opts.now()
	t := &models.Task{
		ID:            uuid.NewString(),
		Title:         req.Title,
		Description:   req.Description,
		Handler:       req.Handler,
		Source:        source,
		Status:        models.TaskStatusPending,
		Prerequisites: append([]string(nil), req.Prerequisites...),
		BasePriority:  req.BasePriority,
		Deadline:      req.Deadline,
		SyncPoint:     req.SyncPoint,
		MaxRetries:    maxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Graph insertion performs self-dependency, unknown-prerequisite, and
	// cycle checks before any mutation.
	if err := e.graph.Add(t); err != nil {
		return nil, err
	}

	// Initial status: blocked behind unmet prerequisites, otherwise ready.
	if len(e.graph.UnmetPrerequisites(t.ID)) > 0 {
		t.Status = models.TaskStatusBlocked
	} else if len(t.Prerequisites) == 0 || e.graph.IsReady(t.ID) {
		t.Status = models.TaskStatusReady
	}
	t.Score = e.scoreLocked(t, now)

	if err := e.store.CreateTask(t); err != nil {
		e.graph.Remove(t.ID)
		return nil, fmt.Errorf("persist task: %w", err)
	}

	e.logger.Log("[engine] submitted task %s (%s) handler=%s status=%s score=%.3f",
		t.ID, t.Title, t.Handler, t.Status, t.Score)
	e.emit(Event{Type: EventTaskSubmitted, TaskID: t.ID, TaskTitle: t.Title, Handler: t.Handler, Timestamp: now})
	if t.Status == models.TaskStatusReady {
		e.emit(Event{Type: EventTaskReady, TaskID: t.ID, TaskTitle: t.Title, Timestamp: now})
	}

	return &SubmitResult{Task: cloneTask(t)}, nil
}

// Get returns the task with the given id.
func (e *Engine) Get(id string) (*models.Task, error) {
	e.mu.Lock()
	if t := e.graph.Task(id); t != nil {
		c := cloneTask(t)
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	t, err := e.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, models.ErrTaskNotFound
	}
	return t, nil
}

// List returns tasks matching the filter.
func (e *Engine) List(f state.Filter) ([]*models.Task, error) {
	return e.store.ListTasks(f)
}

// QueueStatus returns aggregate queue state.
func (e *Engine) QueueStatus() (*QueueStatus, error) {
	stats, err := e.store.Stats()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	qs := &QueueStatus{
		QueueStats:    *stats,
		Inflight:      e.inflight,
		OpenHandlers:  e.breaker.OpenHandlers(),
		DroppedEvents: e.emitter.DroppedCount(),
	}
	for _, t := range e.readyTasksLocked() {
		if e.breaker.State(t.Handler) == breaker.Open {
			qs.HeldByBreaker++
		}
	}
	return qs, nil
}

// ExecutionPlan returns the wave plan for the given task ids, or for the
// whole graph when ids is empty. Read-only.
func (e *Engine) ExecutionPlan(ids []string) (*graph.ExecutionPlan, error) {
	return e.graph.Plan(ids)
}

// Cancel cancels the task and cascades to every non-terminal transitive
// dependent. A running task gets a cooperative context cancel.
func (e *Engine) Cancel(id string) (*CancelResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.graph.Task(id)
	if t == nil {
		return nil, models.ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return nil, &models.TransitionError{TaskID: id, From: t.Status, To: models.TaskStatusCanceled}
	}

	now := e.opts.now()
	result := &CancelResult{TaskID: id}

	e.cancelOneLocked(t, "canceled by request", now)

	for _, depID := range e.graph.TransitiveDependents(id) {
		dep := e.graph.Task(depID)
		if dep == nil || dep.Status.Terminal() {
			continue
		}
		e.cancelOneLocked(dep, "canceled by cascade from "+id, now)
		result.Cascaded = append(result.Cascaded, depID)
	}
	sort.Strings(result.Cascaded)

	return result, nil
}

// cancelOneLocked moves one non-terminal task to canceled. Running tasks
// additionally get their execution context canceled; the slot is cleaned
// up by finishAttempt when the collaborator returns.
func (e *Engine) cancelOneLocked(t *models.Task, reason string, now time.Time) {
	if t.Status == models.TaskStatusRunning {
		if v, ok := e.slots.Load(t.ID); ok {
			v.(*slot).cancelExec()
		}
	}
	delete(e.retryAt, t.ID)

	if err := e.applyTransitionLocked(t, models.TaskStatusCanceled, now); err != nil {
		e.logger.Log("[engine] cancel %s: %v", t.ID, err)
		return
	}
	t.LastError = reason
	t.CompletedAt = &now
	e.persistLocked(t)
	e.emit(Event{Type: EventTaskCanceled, TaskID: t.ID, TaskTitle: t.Title, Message: reason, Timestamp: now})
}

// UpdateWeights swaps the priority weights at runtime. Scores pick the
// new weights up on the next sweep.
func (e *Engine) UpdateWeights(w priority.Weights) {
	e.mu.Lock()
	e.calc = priority.NewCalculator(w)
	e.mu.Unlock()
	e.logger.Log("[engine] priority weights updated")
}

// Heartbeat records liveness for a running task. Collaborators that
// report progress call this to push out the stuck deadline.
func (e *Engine) Heartbeat(taskID string) {
	if v, ok := e.slots.Load(taskID); ok {
		v.(*slot).beat(e.opts.now())
	}
}

// Start rebuilds the in-memory graph from the store and launches the
// control loop. It returns immediately; Stop shuts the loop down.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.baseCancel()
	e.baseCtx, e.baseCancel = context.WithCancel(ctx)

	if err := e.rebuildGraphLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	go e.runLoop(e.baseCtx)
	return nil
}

// Stop drains the engine: scheduling stops immediately, in-flight
// executions get the cancel grace period to finish, then their contexts
// are canceled.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	<-e.loopDone

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.opts.cancelGrace):
		e.logger.Log("[engine] stop grace expired, canceling in-flight executions")
		e.baseCancel()
		<-done
	}

	e.baseCancel()
	e.emitter.Close()
}

// LoadGraph rebuilds the in-memory graph from the store without
// starting the control loop. Offline commands (submit, cancel, plan)
// need the graph for validation and traversal.
func (e *Engine) LoadGraph() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildGraphLocked()
}

// rebuildGraphLocked loads every persisted task into the dependency
// graph. Insertion is multi-pass so prerequisites land before their
// dependents regardless of row order; a task whose prerequisite rows
// were purged gets its missing edges pruned with a log line.
func (e *Engine) rebuildGraphLocked() error {
	tasks, err := e.store.ListTasks(state.Filter{})
	if err != nil {
		return fmt.Errorf("rebuild graph: %w", err)
	}

	var pending []*models.Task
	for _, t := range tasks {
		if e.graph.Task(t.ID) == nil {
			pending = append(pending, t)
		}
	}
	for len(pending) > 0 {
		var deferred []*models.Task
		progress := false
		for _, t := range pending {
			if !e.prereqsPresentLocked(t) {
				deferred = append(deferred, t)
				continue
			}
			if err := e.graph.Add(t); err != nil {
				e.logger.Log("[engine] rebuild: dropping task %s: %v", t.ID, err)
			}
			progress = true
		}
		if !progress {
			for _, t := range deferred {
				t.Prerequisites = e.knownPrereqsLocked(t)
				e.logger.Log("[engine] rebuild: task %s references purged prerequisites, pruned", t.ID)
				if err := e.graph.Add(t); err != nil {
					e.logger.Log("[engine] rebuild: dropping task %s: %v", t.ID, err)
				}
			}
			break
		}
		pending = deferred
	}

	for _, t := range tasks {
		e.seedRetryLocked(t)
	}

	e.logger.Log("[engine] rebuilt graph with %d tasks", e.graph.Size())
	return nil
}

// seedRetryLocked restores the retry schedule for a failed task loaded
// from the store. The retry clock is in-memory only and does not survive
// a restart, so a task with budget left is rescheduled off its last
// status change.
func (e *Engine) seedRetryLocked(t *models.Task) {
	if t.Status != models.TaskStatusFailed || t.RetriesExhausted() {
		return
	}
	if _, ok := e.retryAt[t.ID]; ok {
		return
	}
	e.retryAt[t.ID] = t.UpdatedAt.Add(e.opts.retryPolicy.NextDelay(t.RetryCount))
}

func (e *Engine) prereqsPresentLocked(t *models.Task) bool {
	for _, p := range t.Prerequisites {
		if e.graph.Task(p) == nil {
			return false
		}
	}
	return true
}

func (e *Engine) knownPrereqsLocked(t *models.Task) []string {
	var known []string
	for _, p := range t.Prerequisites {
		if e.graph.Task(p) != nil {
			known = append(known, p)
		}
	}
	return known
}

// applyTransitionLocked validates and applies a status change.
func (e *Engine) applyTransitionLocked(t *models.Task, next models.TaskStatus, now time.Time) error {
	if !t.Status.CanTransition(next) {
		return &models.TransitionError{TaskID: t.ID, From: t.Status, To: next}
	}
	e.logger.Log("[engine] task %s: %s -> %s", t.ID, t.Status, next)
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// persistLocked writes the task back to the store. Persistence failures
// are logged, not fatal: the in-memory state stays authoritative until
// the next successful write.
func (e *Engine) persistLocked(t *models.Task) {
	if err := e.store.UpdateTask(t); err != nil {
		e.logger.Log("[engine] persist task %s: %v", t.ID, err)
	}
}

// scoreLocked recomputes a task's priority. The dependents boost counts
// only direct dependents still waiting on this task.
func (e *Engine) scoreLocked(t *models.Task, now time.Time) float64 {
	waiting := 0
	for _, depID := range e.graph.Dependents(t.ID) {
		if dep := e.graph.Task(depID); dep != nil && !taskFinished(dep) {
			waiting++
		}
	}
	return e.calc.Score(t, waiting, now)
}

// taskFinished reports whether a task will never run again: a terminal
// status, or a failed task with no retry budget left.
func taskFinished(t *models.Task) bool {
	return t.Status.Terminal() || (t.Status == models.TaskStatusFailed && t.RetriesExhausted())
}

func (e *Engine) readyTasksLocked() []*models.Task {
	var ready []*models.Task
	for _, id := range e.graph.TaskIDs() {
		t := e.graph.Task(id)
		if t != nil && t.Status == models.TaskStatusReady {
			ready = append(ready, t)
		}
	}
	return ready
}

func (e *Engine) emit(ev Event) {
	e.emitter.Emit(ev)
}

// cloneTask returns a deep enough copy that callers can hold it without
// racing the engine's mutations.
func cloneTask(t *models.Task) *models.Task {
	c := *t
	c.Prerequisites = append([]string(nil), t.Prerequisites...)
	c.RetryContext = append([]string(nil), t.RetryContext...)
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		f := *t.CompletedAt
		c.CompletedAt = &f
	}
	return &c
}
