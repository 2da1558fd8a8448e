package coordinator

import (
	"context"
	"fmt"

	"github.com/crewdev/crew/internal/graph"
	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

// The operations below are the facade the CLI and the MCP server use.
// Each mutating call loads the persisted snapshot, applies the change
// through the tracker, and saves the result; reads skip the save.

// CreateTask registers a new task and persists the registry.
func (c *Coordinator) CreateTask(ctx context.Context, spec tracker.CreateSpec) (*models.Task, error) {
	var task *models.Task
	err := c.withTracker(ctx, func(tr *tracker.Tracker) error {
		var err error
		task, err = tr.Create(spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CreateSubtask registers a new task under a parent. Containment only:
// the subtask does not depend on its parent.
func (c *Coordinator) CreateSubtask(ctx context.Context, parentID string, spec tracker.CreateSpec) (*models.Task, error) {
	var task *models.Task
	err := c.withTracker(ctx, func(tr *tracker.Tracker) error {
		var err error
		task, err = tr.CreateSubtask(parentID, spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Transition moves a task through the state machine. A role change
// records a handoff and emits a handoff event.
func (c *Coordinator) Transition(ctx context.Context, taskID string, newState models.TaskStatus, req tracker.TransitionRequest) (*models.Task, error) {
	var task *models.Task
	var handedOff bool
	err := c.withTracker(ctx, func(tr *tracker.Tracker) error {
		before, err := tr.Get(taskID)
		if err != nil {
			return err
		}
		task, err = tr.Transition(taskID, newState, req)
		if err != nil {
			return err
		}
		handedOff = req.Assignee != "" && req.Assignee != before.Assignee
		return nil
	})
	if err != nil {
		return nil, err
	}
	if handedOff {
		c.emit(EventHandoff, "", taskID, fmt.Sprintf("%s -> %s", task.Handoffs[len(task.Handoffs)-1].FromRole, task.Assignee))
	}
	return task, nil
}

// AddBlocker appends an obstruction to a task, forcing it to blocked.
func (c *Coordinator) AddBlocker(ctx context.Context, taskID, blocker string) (*models.Task, error) {
	var task *models.Task
	err := c.withTracker(ctx, func(tr *tracker.Tracker) error {
		var err error
		task, err = tr.AddBlocker(taskID, blocker)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.emit(EventTaskBlocked, "", taskID, blocker)
	return task, nil
}

// ResolveBlocker clears the blocker at the given index. Clearing the
// last one restores the status recorded when the task became blocked.
func (c *Coordinator) ResolveBlocker(ctx context.Context, taskID string, index int) (*models.Task, error) {
	var task *models.Task
	err := c.withTracker(ctx, func(tr *tracker.Tracker) error {
		var err error
		task, err = tr.ResolveBlocker(taskID, index)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// SetQualityGate records a gate verdict on a task. Gates never trigger
// state transitions.
func (c *Coordinator) SetQualityGate(ctx context.Context, taskID, gate string, passed bool) (*models.Task, error) {
	var task *models.Task
	err := c.withTracker(ctx, func(tr *tracker.Tracker) error {
		var err error
		task, err = tr.SetQualityGate(taskID, gate, passed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// AddDependency declares that a task must wait for another.
func (c *Coordinator) AddDependency(ctx context.Context, taskID, dependsOn string) error {
	return c.withTracker(ctx, func(tr *tracker.Tracker) error {
		return tr.AddDependency(taskID, dependsOn)
	})
}

// SetParallelGroup sets the advisory grouping label on a task.
func (c *Coordinator) SetParallelGroup(ctx context.Context, taskID, group string) error {
	return c.withTracker(ctx, func(tr *tracker.Tracker) error {
		return tr.SetParallelGroup(taskID, group)
	})
}

// Task returns one task from the persisted snapshot.
func (c *Coordinator) Task(ctx context.Context, taskID string) (*models.Task, error) {
	tr, err := c.loadTracker(ctx)
	if err != nil {
		return nil, err
	}
	return tr.Get(taskID)
}

// Tasks returns every live task, ordered by ID.
func (c *Coordinator) Tasks(ctx context.Context) ([]*models.Task, error) {
	tr, err := c.loadTracker(ctx)
	if err != nil {
		return nil, err
	}
	return tr.All(), nil
}

// ReadyTasks returns tasks whose declared dependencies have all
// completed, excluding blocked and terminal tasks.
func (c *Coordinator) ReadyTasks(ctx context.Context) ([]*models.Task, error) {
	tr, err := c.loadTracker(ctx)
	if err != nil {
		return nil, err
	}
	return tr.ReadyTasks(), nil
}

// ParallelGroups returns task IDs grouped by advisory label.
func (c *Coordinator) ParallelGroups(ctx context.Context) (map[string][]string, error) {
	tr, err := c.loadTracker(ctx)
	if err != nil {
		return nil, err
	}
	return tr.ParallelGroups(), nil
}

// TeamStatus aggregates the registry for presentation layers.
func (c *Coordinator) TeamStatus(ctx context.Context) (*tracker.TeamStatus, error) {
	tr, err := c.loadTracker(ctx)
	if err != nil {
		return nil, err
	}
	return tr.TeamStatus(), nil
}

// TaskTree returns the recursive parent-to-subtask tree rooted at a task.
func (c *Coordinator) TaskTree(ctx context.Context, taskID string) (*tracker.TreeNode, error) {
	tr, err := c.loadTracker(ctx)
	if err != nil {
		return nil, err
	}
	return tr.TaskTree(taskID)
}

// PlanPreview describes the levels the planner would run for the
// current snapshot, without executing anything.
type PlanPreview struct {
	// Levels holds task IDs per execution level.
	Levels [][]string
	// Unscheduled maps task ID to the reason it cannot be placed.
	Unscheduled map[string]string
	// Warnings carries graph build diagnostics.
	Warnings []string
}

// PreviewPlan plans the current snapshot's live tasks.
func (c *Coordinator) PreviewPlan(ctx context.Context) (*PlanPreview, error) {
	tr, err := c.loadTracker(ctx)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	g.SetDebugLog(c.logger.Log)
	build := g.Build(tr.All())
	plan := g.Plan()

	unscheduled := make(map[string]string, len(plan.Unscheduled))
	for _, u := range plan.Unscheduled {
		unscheduled[u.TaskID] = u.Error()
	}
	return &PlanPreview{
		Levels:      plan.Levels,
		Unscheduled: unscheduled,
		Warnings:    build.Warnings(),
	}, nil
}

// RecentRuns returns working run history, newest first. The long-term
// ledger in the archive keeps runs beyond this database's lifetime.
func (c *Coordinator) RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	return c.store.ListRuns(ctx, limit)
}

// RunRecord returns one run from working history, or nil when unknown.
func (c *Coordinator) RunRecord(ctx context.Context, runID string) (*models.RunRecord, error) {
	return c.store.GetRun(ctx, runID)
}
