package graph

import (
	"fmt"
	"sort"
)

// Wave is a set of mutually independent tasks dispatchable concurrently.
type Wave struct {
	// Index is the partition index, starting at 0.
	Index int `json:"index"`
	// TaskIDs are the tasks eligible to run at this index, sorted.
	TaskIDs []string `json:"task_ids"`
	// SyncPoint is true when any task in this wave carries the sync-point
	// flag. Later waves must wait for everything up to and including this
	// wave to finish.
	SyncPoint bool `json:"sync_point,omitempty"`
}

// ExecutionPlan is the ordered wave partition of a task set.
type ExecutionPlan struct {
	Waves      []Wave `json:"waves"`
	TotalWaves int    `json:"total_waves"`
	// MaxParallelism is the size of the largest wave.
	MaxParallelism int `json:"max_parallelism"`
}

// Plan partitions the given task ids into execution waves. A task's wave is
// the length of its longest prerequisite chain within the set; tasks with no
// in-set prerequisites land in wave 0.
//
// Built on Kahn's algorithm. If the induced subgraph is cyclic the plan fails
// loudly: fewer topologically ordered nodes than input nodes is never
// silently partialled.
//
// Passing no ids plans the entire graph. Unknown ids are an error. Plan is
// read-only; it never mutates graph or task state.
func (g *DependencyGraph) Plan(ids []string) (*ExecutionPlan, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inSet := make(map[string]bool)
	if len(ids) == 0 {
		for id := range g.nodes {
			inSet[id] = true
		}
	} else {
		for _, id := range ids {
			if _, ok := g.nodes[id]; !ok {
				return nil, fmt.Errorf("plan references unknown task %s", id)
			}
			inSet[id] = true
		}
	}

	// In-degrees restricted to the induced subgraph.
	indeg := make(map[string]int, len(inSet))
	for id := range inSet {
		n := 0
		for _, depID := range g.prereqs[id] {
			if inSet[depID] {
				n++
			}
		}
		indeg[id] = n
	}

	// Kahn's algorithm, tracking the longest-chain wave per node.
	wave := make(map[string]int, len(inSet))
	var queue []string
	for id, n := range indeg {
		if n == 0 {
			queue = append(queue, id)
			wave[id] = 0
		}
	}
	sort.Strings(queue)

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, depID := range g.dependents[id] {
			if !inSet[depID] {
				continue
			}
			if w := wave[id] + 1; w > wave[depID] {
				wave[depID] = w
			}
			indeg[depID]--
			if indeg[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if processed != len(inSet) {
		return nil, fmt.Errorf("wave planning ordered %d of %d tasks: %w",
			processed, len(inSet), ErrCycleDetected)
	}

	byWave := make(map[int][]string)
	maxWave := 0
	for id, w := range wave {
		byWave[w] = append(byWave[w], id)
		if w > maxWave {
			maxWave = w
		}
	}

	plan := &ExecutionPlan{TotalWaves: maxWave + 1}
	if len(inSet) == 0 {
		plan.TotalWaves = 0
		return plan, nil
	}
	for i := 0; i <= maxWave; i++ {
		taskIDs := byWave[i]
		sort.Strings(taskIDs)
		w := Wave{Index: i, TaskIDs: taskIDs}
		for _, id := range taskIDs {
			if task := g.nodes[id]; task != nil && task.SyncPoint {
				w.SyncPoint = true
				break
			}
		}
		plan.Waves = append(plan.Waves, w)
		if len(taskIDs) > plan.MaxParallelism {
			plan.MaxParallelism = len(taskIDs)
		}
	}
	return plan, nil
}

// WaveOf returns the planned wave index for taskID within the full graph,
// or -1 if the task is unknown or the graph is cyclic.
func (g *DependencyGraph) WaveOf(taskID string) int {
	plan, err := g.Plan(nil)
	if err != nil {
		return -1
	}
	for _, w := range plan.Waves {
		for _, id := range w.TaskIDs {
			if id == taskID {
				return w.Index
			}
		}
	}
	return -1
}
