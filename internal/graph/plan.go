package graph

import (
	"fmt"
	"sort"

	"github.com/crewdev/crew/pkg/models"
)

// CycleOrUnsatisfiedDependency explains why the planner excluded a task
// from every level: the task sits on a dependency cycle, or one of its
// dependencies can never resolve (for example a failed predecessor).
// It is carried in the plan result rather than returned as an error so
// callers can report partial progress.
type CycleOrUnsatisfiedDependency struct {
	// TaskID is the task that could not be placed.
	TaskID string
	// Unresolved lists the dependency IDs still unsatisfied when
	// planning stalled.
	Unresolved []string
}

// Error implements the error interface for diagnostic logging.
func (e *CycleOrUnsatisfiedDependency) Error() string {
	return fmt.Sprintf("task %s cannot be scheduled: cycle or unsatisfied dependency on %v", e.TaskID, e.Unresolved)
}

// ExecutionPlan is the planner output: an ordered sequence of levels
// plus the tasks that could not be placed in any level. Every task in
// level k depends only on tasks in levels before k or on tasks already
// satisfied when the plan was computed.
type ExecutionPlan struct {
	// Levels holds task IDs grouped by execution level. Tasks within a
	// level are mutually independent. Each level is ordered by priority
	// (highest first), then by ID for determinism.
	Levels [][]string
	// Unscheduled lists tasks excluded from every level, each with the
	// dependencies that kept it out.
	Unscheduled []*CycleOrUnsatisfiedDependency
}

// TaskCount returns the number of tasks placed into levels.
func (p *ExecutionPlan) TaskCount() int {
	n := 0
	for _, level := range p.Levels {
		n += len(level)
	}
	return n
}

// LevelOf returns the level index of a task and whether it was placed.
func (p *ExecutionPlan) LevelOf(taskID string) (int, bool) {
	for i, level := range p.Levels {
		for _, id := range level {
			if id == taskID {
				return i, true
			}
		}
	}
	return 0, false
}

// UnscheduledIDs returns the IDs of all unscheduled tasks, sorted.
func (p *ExecutionPlan) UnscheduledIDs() []string {
	ids := make([]string, 0, len(p.Unscheduled))
	for _, u := range p.Unscheduled {
		ids = append(ids, u.TaskID)
	}
	sort.Strings(ids)
	return ids
}

// Plan computes execution levels by dependency-count reduction. The
// first level holds every plannable task with no unresolved
// dependencies; each later level holds the tasks whose remaining
// dependency count reaches zero once the previous level is assumed
// resolved. Tasks already complete are not planned and count as
// resolved for their successors. Tasks whose count never reaches zero
// (cycles, or dependencies that can never resolve) end up in the
// Unscheduled set instead of being dropped.
//
// Planning never mutates tasks or the graph: calling Plan twice on an
// unchanged graph yields identical plans.
func (g *DependencyGraph) Plan() *ExecutionPlan {
	g.mu.RLock()
	defer g.mu.RUnlock()

	plan := &ExecutionPlan{}

	// Remaining dependency count per plannable task. Satisfied deps
	// (already complete) and failed-state exclusions are resolved here
	// so the loop below only tracks live edges.
	remaining := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		if g.isSatisfiedLocked(id) || g.nodes[id].Status == models.TaskStatusFailed {
			continue
		}
		count := 0
		for _, depID := range g.deps[id] {
			if !g.isSatisfiedLocked(depID) {
				count++
			}
		}
		remaining[id] = count
	}

	placed := make(map[string]bool, len(remaining))
	for len(placed) < len(remaining) {
		var level []string
		for id, count := range remaining {
			if !placed[id] && count == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			break
		}

		g.sortLevelLocked(level)
		for _, id := range level {
			placed[id] = true
		}
		for _, id := range level {
			for _, succ := range g.succs[id] {
				if _, ok := remaining[succ]; ok && !placed[succ] {
					remaining[succ]--
				}
			}
		}
		plan.Levels = append(plan.Levels, level)
		g.debugLog("[graph.Plan] level %d: %v", len(plan.Levels)-1, level)
	}

	// Anything not placed is stuck on a cycle or on a dependency that
	// can never resolve. Surface it instead of dropping it.
	var stuckIDs []string
	for id := range remaining {
		if !placed[id] {
			stuckIDs = append(stuckIDs, id)
		}
	}
	sort.Strings(stuckIDs)
	for _, id := range stuckIDs {
		var unresolved []string
		for _, depID := range g.deps[id] {
			if !g.isSatisfiedLocked(depID) && !placed[depID] {
				unresolved = append(unresolved, depID)
			}
		}
		sort.Strings(unresolved)
		plan.Unscheduled = append(plan.Unscheduled, &CycleOrUnsatisfiedDependency{
			TaskID:     id,
			Unresolved: unresolved,
		})
		g.debugLog("[graph.Plan] task %s unscheduled: unresolved deps %v", id, unresolved)
	}

	return plan
}

// sortLevelLocked orders a level by priority rank (highest first), then
// by task ID so plans are deterministic.
func (g *DependencyGraph) sortLevelLocked(level []string) {
	sort.SliceStable(level, func(i, j int) bool {
		ti, tj := g.nodes[level[i]], g.nodes[level[j]]
		if ti.Priority.Rank() != tj.Priority.Rank() {
			return ti.Priority.Rank() > tj.Priority.Rank()
		}
		return level[i] < level[j]
	})
}
