package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/crewdev/crew/internal/coordinator"
)

// ReadyTasksTool handles the task_ready MCP tool.
type ReadyTasksTool struct {
	co *coordinator.Coordinator
}

// NewReadyTasksTool creates a ReadyTasksTool backed by the coordinator.
func NewReadyTasksTool(co *coordinator.Coordinator) *ReadyTasksTool {
	return &ReadyTasksTool{co: co}
}

// Definition returns the MCP tool definition for task_ready.
func (t *ReadyTasksTool) Definition() mcp.Tool {
	return mcp.NewTool("task_ready",
		mcp.WithDescription(
			"List tasks that can start right now: every dependency complete, "+
				"not blocked, not already finished. Dependencies on unknown "+
				"task IDs count as satisfied.",
		),
	)
}

// Handle processes the task_ready tool call.
func (t *ReadyTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := t.co.ReadyTasks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list ready tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks are ready to start."), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Ready Tasks (%d)\n\n", len(tasks)))
	for _, task := range tasks {
		sb.WriteString(fmt.Sprintf("- **%s** [%s/%s] %s (assignee: %s)\n",
			task.ID, task.Priority, task.Status, task.Title, task.Assignee))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// TaskTreeTool handles the task_tree MCP tool.
type TaskTreeTool struct {
	co *coordinator.Coordinator
}

// NewTaskTreeTool creates a TaskTreeTool backed by the coordinator.
func NewTaskTreeTool(co *coordinator.Coordinator) *TaskTreeTool {
	return &TaskTreeTool{co: co}
}

// Definition returns the MCP tool definition for task_tree.
func (t *TaskTreeTool) Definition() mcp.Tool {
	return mcp.NewTool("task_tree",
		mcp.WithDescription(
			"Show a task with its recursive subtask hierarchy. Subtask links "+
				"are containment only; they are not dependencies.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Root task ID, e.g. task_001"),
		),
	)
}

// Handle processes the task_tree tool call.
func (t *TaskTreeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}

	tree, err := t.co.TaskTree(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task tree: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Task Tree: %s\n\n", taskID))
	renderTree(&sb, tree, 0)
	return mcp.NewToolResultText(sb.String()), nil
}

// TeamStatusTool handles the team_status MCP tool.
type TeamStatusTool struct {
	co *coordinator.Coordinator
}

// NewTeamStatusTool creates a TeamStatusTool backed by the coordinator.
func NewTeamStatusTool(co *coordinator.Coordinator) *TeamStatusTool {
	return &TeamStatusTool{co: co}
}

// Definition returns the MCP tool definition for team_status.
func (t *TeamStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("team_status",
		mcp.WithDescription(
			"Aggregate view of the whole registry: task counts by state, role, "+
				"and priority, ready tasks, open blockers, and completion rate.",
		),
	)
}

// Handle processes the team_status tool call.
func (t *TeamStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := t.co.TeamStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load team status: %v", err)), nil
	}
	return mcp.NewToolResultText(renderTeamStatus(status)), nil
}

// PlanPreviewTool handles the plan_preview MCP tool.
type PlanPreviewTool struct {
	co *coordinator.Coordinator
}

// NewPlanPreviewTool creates a PlanPreviewTool backed by the coordinator.
func NewPlanPreviewTool(co *coordinator.Coordinator) *PlanPreviewTool {
	return &PlanPreviewTool{co: co}
}

// Definition returns the MCP tool definition for plan_preview.
func (t *PlanPreviewTool) Definition() mcp.Tool {
	return mcp.NewTool("plan_preview",
		mcp.WithDescription(
			"Compute the dependency-ordered execution plan for the current "+
				"registry: parallel levels, unschedulable tasks with reasons, "+
				"and warnings about unknown dependencies. Read-only; nothing "+
				"executes.",
		),
	)
}

// Handle processes the plan_preview tool call.
func (t *PlanPreviewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	preview, err := t.co.PreviewPlan(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to preview plan: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("## Execution Plan\n\n")
	if len(preview.Levels) == 0 {
		sb.WriteString("No schedulable tasks.\n")
	}
	for i, level := range preview.Levels {
		sb.WriteString(fmt.Sprintf("- **Level %d**: %s\n", i, strings.Join(level, ", ")))
	}

	if len(preview.Unscheduled) > 0 {
		sb.WriteString(fmt.Sprintf("\n### Unschedulable (%d)\n\n", len(preview.Unscheduled)))
		for _, id := range sortedKeys(preview.Unscheduled) {
			sb.WriteString(fmt.Sprintf("- **%s**: %s\n", id, preview.Unscheduled[id]))
		}
	}

	if len(preview.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("\n### Warnings (%d)\n\n", len(preview.Warnings)))
		for _, w := range preview.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", w))
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}
