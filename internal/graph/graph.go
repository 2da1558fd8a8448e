// Package graph builds the task dependency graph and computes execution
// levels from it.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/crewdev/crew/pkg/models"
)

// DependencyGraph is a directed graph of task dependencies. Edges point
// from a task to the tasks it depends on; successor lists hold the
// inverse direction for level planning.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// deps maps task ID to IDs of tasks it depends on. Only
	// dependencies present in the build set appear here.
	deps map[string][]string
	// succs maps task ID to IDs of tasks that depend on it.
	succs map[string][]string
	// completed tracks tasks marked complete since the last build.
	completed map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// BuildReport describes non-fatal observations from a Build pass.
type BuildReport struct {
	// UnknownDeps maps task ID to declared dependency IDs that were not
	// part of the build set. Such dependencies are treated as
	// externally satisfied and produce no edge.
	UnknownDeps map[string][]string
}

// Warnings renders the report as human-readable warning lines.
func (r *BuildReport) Warnings() []string {
	if r == nil || len(r.UnknownDeps) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.UnknownDeps))
	for id := range r.UnknownDeps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []string
	for _, id := range ids {
		for _, dep := range r.UnknownDeps[id] {
			out = append(out, fmt.Sprintf("task %s depends on unknown task %s: treated as externally satisfied", id, dep))
		}
	}
	return out
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Task),
		deps:      make(map[string][]string),
		succs:     make(map[string][]string),
		completed: make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the graph from a slice of tasks, replacing any prior
// build. Building twice from the same slice yields an identical graph;
// no edges or completion marks survive from earlier builds. Dependencies
// on IDs outside the slice are skipped and reported, never treated as
// errors: an absent task is assumed to be satisfied externally.
func (g *DependencyGraph) Build(tasks []*models.Task) *BuildReport {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))

	g.nodes = make(map[string]*models.Task, len(tasks))
	g.deps = make(map[string][]string, len(tasks))
	g.succs = make(map[string][]string, len(tasks))
	g.completed = make(map[string]bool)

	report := &BuildReport{UnknownDeps: make(map[string][]string)}

	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.deps[task.ID] = nil
		g.succs[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				g.debugLog("[graph.Build] task %s: unknown dependency %s, treating as externally satisfied", task.ID, depID)
				report.UnknownDeps[task.ID] = append(report.UnknownDeps[task.ID], depID)
				continue
			}
			g.deps[task.ID] = append(g.deps[task.ID], depID)
			g.succs[depID] = append(g.succs[depID], task.ID)
		}
	}

	if len(report.UnknownDeps) == 0 {
		report.UnknownDeps = nil
	}

	g.debugLog("[graph.Build] graph built with %d nodes, %d unknown-dep warnings", len(g.nodes), len(report.Warnings()))
	return report
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)
	for id := range g.nodes {
		colors[id] = 0
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1 // Mark as in progress.

		for _, depID := range g.deps[id] {
			switch colors[depID] {
			case 1:
				// Found a back edge - cycle detected.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
			// color == 2 means already processed, skip.
		}

		colors[id] = 2 // Mark as done.
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}

	return false
}

// MarkComplete marks a task as completed in the graph. Completed tasks
// satisfy their successors' dependencies in subsequent Plan calls.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.MarkComplete] marking task %s as complete", taskID)
	g.completed[taskID] = true
}

// isSatisfiedLocked reports whether a dependency is already resolved:
// either marked complete on the graph or carrying a complete status.
func (g *DependencyGraph) isSatisfiedLocked(id string) bool {
	if g.completed[id] {
		return true
	}
	if task, exists := g.nodes[id]; exists {
		return task.Status == models.TaskStatusComplete
	}
	return false
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of in-set tasks the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.deps[taskID]...)
}

// GetDependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.succs[taskID]...)
}

// GetCompletedIDs returns the IDs of all tasks marked as completed.
func (g *DependencyGraph) GetCompletedIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for id, done := range g.completed {
		if done {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
