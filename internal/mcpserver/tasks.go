package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/crewdev/crew/internal/coordinator"
	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

// TaskCreateTool handles the task_create MCP tool.
type TaskCreateTool struct {
	co *coordinator.Coordinator
}

// NewTaskCreateTool creates a TaskCreateTool backed by the coordinator.
func NewTaskCreateTool(co *coordinator.Coordinator) *TaskCreateTool {
	return &TaskCreateTool{co: co}
}

// Definition returns the MCP tool definition for task_create.
func (t *TaskCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("task_create",
		mcp.WithDescription(
			"Create a task in the team registry. Tasks assigned to the architect "+
				"start in analyzing; everything else starts in new. Use depends_on "+
				"to sequence work and parent to nest a subtask under another task.",
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short description of the work"),
		),
		mcp.WithString("description",
			mcp.Description("Detailed task description"),
		),
		mcp.WithString("assignee",
			mcp.Description("Responsible role: architect, coder, pr_reviewer, qa_tester, coordinator, or a configured extra role (default: coordinator)"),
		),
		mcp.WithString("priority",
			mcp.Description("low, medium, high, or critical (default: medium)"),
		),
		mcp.WithString("depends_on",
			mcp.Description("Comma-separated task IDs that must reach complete first"),
		),
		mcp.WithString("parent",
			mcp.Description("Parent task ID; registers the new task as its subtask"),
		),
		mcp.WithString("parallel_group",
			mcp.Description("Advisory grouping label for work that can proceed together"),
		),
		mcp.WithNumber("max_iterations",
			mcp.Description("Rework cycles allowed before the task is blocked (default from team policy)"),
		),
	)
}

// Handle processes the task_create tool call.
func (t *TaskCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := strings.TrimSpace(req.GetString("title", ""))
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}

	spec := tracker.CreateSpec{
		Title:         title,
		Description:   req.GetString("description", ""),
		Assignee:      models.Role(req.GetString("assignee", "")),
		Priority:      models.Priority(req.GetString("priority", "")),
		Dependencies:  splitIDs(req.GetString("depends_on", "")),
		ParallelGroup: req.GetString("parallel_group", ""),
		MaxIterations: intArg(req, "max_iterations", 0),
	}

	var task *models.Task
	var err error
	if parent := req.GetString("parent", ""); parent != "" {
		task, err = t.co.CreateSubtask(ctx, parent, spec)
	} else {
		task, err = t.co.CreateTask(ctx, spec)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}

	return mcp.NewToolResultText(renderTask(task)), nil
}

// TaskStatusTool handles the task_status MCP tool.
type TaskStatusTool struct {
	co *coordinator.Coordinator
}

// NewTaskStatusTool creates a TaskStatusTool backed by the coordinator.
func NewTaskStatusTool(co *coordinator.Coordinator) *TaskStatusTool {
	return &TaskStatusTool{co: co}
}

// Definition returns the MCP tool definition for task_status.
func (t *TaskStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("task_status",
		mcp.WithDescription(
			"Show one task in full: lifecycle state, dependencies, blockers, "+
				"quality gates, subtasks, and handoff history.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID, e.g. task_001"),
		),
	)
}

// Handle processes the task_status tool call.
func (t *TaskStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}

	task, err := t.co.Task(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}

	return mcp.NewToolResultText(renderTaskDetail(task)), nil
}

// TaskTransitionTool handles the task_transition MCP tool.
type TaskTransitionTool struct {
	co *coordinator.Coordinator
}

// NewTaskTransitionTool creates a TaskTransitionTool backed by the coordinator.
func NewTaskTransitionTool(co *coordinator.Coordinator) *TaskTransitionTool {
	return &TaskTransitionTool{co: co}
}

// Definition returns the MCP tool definition for task_transition.
func (t *TaskTransitionTool) Definition() mcp.Tool {
	return mcp.NewTool("task_transition",
		mcp.WithDescription(
			"Move a task to a new lifecycle state, optionally handing it to "+
				"another role. States: new, analyzing, planning, implementing, "+
				"reviewing, testing, iteration, blocked, complete, failed. "+
				"Moving to iteration counts against the task's rework bound; at "+
				"the bound the task is blocked instead.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID, e.g. task_001"),
		),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("Target lifecycle state"),
		),
		mcp.WithString("assignee",
			mcp.Description("Role taking over the task; records a handoff with the task context"),
		),
		mcp.WithString("note",
			mcp.Description("Note attached to the handoff record"),
		),
	)
}

// Handle processes the task_transition tool call.
func (t *TaskTransitionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	state := req.GetString("state", "")
	if state == "" {
		return mcp.NewToolResultError("'state' is required"), nil
	}

	task, err := t.co.Transition(ctx, taskID, models.TaskStatus(state), tracker.TransitionRequest{
		Assignee: models.Role(req.GetString("assignee", "")),
		Note:     req.GetString("note", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to transition: %v", err)), nil
	}

	return mcp.NewToolResultText(renderTask(task)), nil
}
