// Package graph provides the dependency graph backing task scheduling:
// cycle pre-checks, readiness evaluation, topological ordering, and
// wave partitioning.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed acyclic graph of task dependencies.
// Nodes are tasks, edges point from a dependent to its prerequisites.
// The reverse adjacency (dependents) is maintained alongside for
// efficient "who is blocked on X" lookups.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// prereqs maps task ID to IDs of tasks it depends on.
	prereqs map[string][]string
	// dependents maps task ID to IDs of tasks that depend on it.
	dependents map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[string]*models.Task),
		prereqs:    make(map[string][]string),
		dependents: make(map[string][]string),
		debugLog:   func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Add inserts a task and its prerequisite edges. The cycle check runs
// against the graph as it would look after the insert, before any state
// is mutated, so the graph is never observably cyclic.
//
// Rejections: unknown prerequisite ids, self-dependency, duplicate task id,
// and any direct or transitive cycle (reported with the offending path).
func (g *DependencyGraph) Add(task *models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[task.ID]; exists {
		return fmt.Errorf("task %s already in graph", task.ID)
	}

	for _, depID := range task.Prerequisites {
		if depID == task.ID {
			return models.Validationf(models.ReasonSelfDependency,
				"task %s cannot depend on itself", task.ID)
		}
		if _, exists := g.nodes[depID]; !exists {
			return models.Validationf(models.ReasonUnknownPrereq,
				"task %s depends on unknown task %s", task.ID, depID)
		}
	}

	if path := g.cyclePathLocked(task.ID, task.Prerequisites); path != nil {
		return &models.CycleError{Path: path}
	}

	g.nodes[task.ID] = task
	g.prereqs[task.ID] = append([]string(nil), task.Prerequisites...)
	for _, depID := range task.Prerequisites {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}

	g.debugLog("[graph.Add] added task %s with %d prerequisites", task.ID, len(task.Prerequisites))
	return nil
}

// WouldCreateCycle reports whether adding taskID with the given prerequisite
// edges would create a cycle, without mutating the graph. The returned path
// names the offending chain when a cycle is found.
func (g *DependencyGraph) WouldCreateCycle(taskID string, prereqs []string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	path := g.cyclePathLocked(taskID, prereqs)
	return path, path != nil
}

// cyclePathLocked searches for a path from any proposed prerequisite back to
// taskID through existing edges. Caller must hold g.mu.
func (g *DependencyGraph) cyclePathLocked(taskID string, prereqs []string) []string {
	for _, depID := range prereqs {
		if depID == taskID {
			return []string{taskID, taskID}
		}
		if trail := g.pathToLocked(depID, taskID, map[string]bool{}); trail != nil {
			// taskID -> depID -> ... -> taskID
			return append([]string{taskID}, trail...)
		}
	}
	return nil
}

// pathToLocked returns the prerequisite chain from `from` to `target`,
// inclusive, or nil if no such path exists. Caller must hold g.mu.
func (g *DependencyGraph) pathToLocked(from, target string, visited map[string]bool) []string {
	if visited[from] {
		return nil
	}
	visited[from] = true

	if from == target {
		return []string{from}
	}
	for _, next := range g.prereqs[from] {
		if trail := g.pathToLocked(next, target, visited); trail != nil {
			return append([]string{from}, trail...)
		}
	}
	return nil
}

// Remove deletes a task and all edges touching it.
func (g *DependencyGraph) Remove(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, depID := range g.prereqs[taskID] {
		g.dependents[depID] = removeID(g.dependents[depID], taskID)
	}
	for _, depID := range g.dependents[taskID] {
		g.prereqs[depID] = removeID(g.prereqs[depID], taskID)
	}
	delete(g.nodes, taskID)
	delete(g.prereqs, taskID)
	delete(g.dependents, taskID)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// UnmetPrerequisites returns the prerequisite ids of taskID that have not
// reached complete.
func (g *DependencyGraph) UnmetPrerequisites(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var unmet []string
	for _, depID := range g.prereqs[taskID] {
		dep, ok := g.nodes[depID]
		if !ok || dep.Status != models.TaskStatusComplete {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}

// IsReady reports whether every prerequisite of taskID is complete and the
// task itself is non-terminal.
func (g *DependencyGraph) IsReady(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, ok := g.nodes[taskID]
	if !ok || task.Status.Terminal() {
		return false
	}
	for _, depID := range g.prereqs[taskID] {
		dep, ok := g.nodes[depID]
		if !ok || dep.Status != models.TaskStatusComplete {
			return false
		}
	}
	return true
}

// DeadPrerequisites returns prerequisite ids of taskID that are terminal
// without having completed (canceled, blocked_failed, or failed with the
// retry budget spent). A non-empty result means the task can never run.
func (g *DependencyGraph) DeadPrerequisites(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dead []string
	for _, depID := range g.prereqs[taskID] {
		dep, ok := g.nodes[depID]
		if !ok {
			continue
		}
		switch dep.Status {
		case models.TaskStatusCanceled, models.TaskStatusBlockedFailed:
			dead = append(dead, depID)
		case models.TaskStatusFailed:
			if dep.RetriesExhausted() {
				dead = append(dead, depID)
			}
		}
	}
	return dead
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked(nil)
}

// LiveCycle re-validates only the non-terminal subgraph, returning one task
// id from a detected cycle. Used by the liveness monitor as a defensive
// re-check after insertion-time validation.
func (g *DependencyGraph) LiveCycle() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	live := func(id string) bool {
		task, ok := g.nodes[id]
		return ok && !task.Status.Terminal()
	}
	var member string
	if g.hasCycleLocked(func(id string) bool {
		if !live(id) {
			return false
		}
		member = id
		return true
	}) {
		return member, true
	}
	return "", false
}

// hasCycleLocked runs DFS coloring over the graph. If filter is non-nil it
// both restricts traversal to matching nodes and records a cycle member.
// Caller must hold g.mu.
func (g *DependencyGraph) hasCycleLocked(filter func(id string) bool) bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.prereqs[id] {
			if filter != nil && !filter(depID) {
				continue
			}
			switch colors[depID] {
			case 1:
				// Back edge - cycle detected.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if filter != nil && !filter(id) {
			continue
		}
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// TopologicalSort returns task IDs ordered so every prerequisite precedes
// its dependents. Returns ErrCycleDetected if the graph is cyclic; the
// result always contains exactly as many ids as the graph has nodes.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked(nil) {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool)
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.prereqs[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for id := range g.nodes {
		visit(id)
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("topological sort produced %d of %d nodes: %w",
			len(result), len(g.nodes), ErrCycleDetected)
	}
	return result, nil
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// TaskIDs returns every task ID in the graph, sorted for determinism.
func (g *DependencyGraph) TaskIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Prerequisites returns the IDs the given task depends on.
func (g *DependencyGraph) Prerequisites(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.prereqs[taskID]...)
}

// Dependents returns the IDs of tasks that directly depend on taskID.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// TransitiveDependents returns every task reachable from taskID through
// dependent edges. Used for cascade cancellation.
func (g *DependencyGraph) TransitiveDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{taskID: true}
	var result []string
	queue := append([]string(nil), g.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		result = append(result, id)
		queue = append(queue, g.dependents[id]...)
	}
	return result
}
