package models

import "time"

// TaskStatus represents the current lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusNew indicates the task has not entered the pipeline.
	TaskStatusNew TaskStatus = "new"
	// TaskStatusAnalyzing indicates requirements are being analyzed.
	TaskStatusAnalyzing TaskStatus = "analyzing"
	// TaskStatusPlanning indicates the approach is being planned.
	TaskStatusPlanning TaskStatus = "planning"
	// TaskStatusImplementing indicates the work is being implemented.
	TaskStatusImplementing TaskStatus = "implementing"
	// TaskStatusReviewing indicates the work is under review.
	TaskStatusReviewing TaskStatus = "reviewing"
	// TaskStatusTesting indicates the work is being tested.
	TaskStatusTesting TaskStatus = "testing"
	// TaskStatusIteration indicates the task was sent back for rework.
	TaskStatusIteration TaskStatus = "iteration"
	// TaskStatusBlocked indicates open blockers prevent progress.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusComplete indicates the task finished successfully.
	TaskStatusComplete TaskStatus = "complete"
	// TaskStatusFailed indicates task execution failed permanently.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNew, TaskStatusAnalyzing, TaskStatusPlanning,
		TaskStatusImplementing, TaskStatusReviewing, TaskStatusTesting,
		TaskStatusIteration, TaskStatusBlocked, TaskStatusComplete,
		TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed
}

// progressByStatus maps each lifecycle state to a base completion
// percentage used by status reporting surfaces.
var progressByStatus = map[TaskStatus]int{
	TaskStatusNew:          0,
	TaskStatusAnalyzing:    10,
	TaskStatusPlanning:     20,
	TaskStatusImplementing: 50,
	TaskStatusReviewing:    70,
	TaskStatusTesting:      85,
	TaskStatusIteration:    75,
	TaskStatusBlocked:      50,
	TaskStatusComplete:     100,
	TaskStatusFailed:       100,
}

// Context is an opaque key-value bag carried by a task. The core never
// interprets its contents; only external collaborators do.
type Context map[string]any

// Clone returns a shallow copy of the context. Handoff records store
// clones so later task mutations do not rewrite history.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Task represents a unit of work moving through the role pipeline.
type Task struct {
	// ID is the unique identifier for this task. IDs are never reused.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Dependencies lists task IDs that must reach complete before this
	// task may start. A task never depends on itself.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Assignee is the role currently responsible for the task.
	Assignee Role `json:"assignee"`
	// Priority orders tasks within a level; it never affects dependency
	// resolution.
	Priority Priority `json:"priority"`
	// IterationCount is the number of rework cycles taken so far.
	IterationCount int `json:"iteration_count"`
	// MaxIterations bounds rework cycles before the task is blocked.
	MaxIterations int `json:"max_iterations"`
	// Blockers holds open obstruction notes. A non-empty list forces
	// the status to blocked.
	Blockers []string `json:"blockers,omitempty"`
	// StatusBeforeBlock records the state to restore once the last
	// blocker clears.
	StatusBeforeBlock TaskStatus `json:"status_before_block,omitempty"`
	// QualityGates maps gate name to pass/fail. Gates never gate
	// dependency resolution.
	QualityGates map[string]bool `json:"quality_gates,omitempty"`
	// ParentTask is the ID of the parent task, if this is a subtask.
	ParentTask string `json:"parent_task,omitempty"`
	// Subtasks lists child task IDs. Containment only, not dependency.
	Subtasks []string `json:"subtasks,omitempty"`
	// ParallelGroup is an advisory grouping label set by callers. It is
	// unrelated to the levels the planner computes.
	ParallelGroup string `json:"parallel_group,omitempty"`
	// Context carries opaque collaborator data handed between roles.
	Context Context `json:"context,omitempty"`
	// Handoffs is the append-only role transfer history.
	Handoffs []HandoffRecord `json:"handoffs,omitempty"`
	// Error contains the failure message if the task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the task reached complete, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Progress reports overall completion as a percentage: a base value per
// lifecycle state plus up to 10 points for passed quality gates, capped
// at 100.
func (t *Task) Progress() int {
	p := progressByStatus[t.Status]
	if len(t.QualityGates) > 0 {
		passed := 0
		for _, ok := range t.QualityGates {
			if ok {
				passed++
			}
		}
		p += passed * 10 / len(t.QualityGates)
	}
	if p > 100 {
		p = 100
	}
	return p
}

// GatesPassed returns true when every declared quality gate is passing.
// Tasks with no gates trivially pass.
func (t *Task) GatesPassed() bool {
	for _, ok := range t.QualityGates {
		if !ok {
			return false
		}
	}
	return true
}

// FailedGates returns the names of gates currently failing. Order is
// not guaranteed.
func (t *Task) FailedGates() []string {
	var failed []string
	for name, ok := range t.QualityGates {
		if !ok {
			failed = append(failed, name)
		}
	}
	return failed
}

// Clone returns a deep copy of the task. Facade reads hand out clones so
// callers never observe a partially applied transition.
func (t *Task) Clone() *Task {
	out := *t
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.Blockers = append([]string(nil), t.Blockers...)
	out.Subtasks = append([]string(nil), t.Subtasks...)
	out.Context = t.Context.Clone()
	if t.QualityGates != nil {
		out.QualityGates = make(map[string]bool, len(t.QualityGates))
		for k, v := range t.QualityGates {
			out.QualityGates[k] = v
		}
	}
	if t.Handoffs != nil {
		out.Handoffs = make([]HandoffRecord, len(t.Handoffs))
		for i, h := range t.Handoffs {
			out.Handoffs[i] = h
			out.Handoffs[i].ContextSnapshot = h.ContextSnapshot.Clone()
		}
	}
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		out.CompletedAt = &done
	}
	return &out
}
