package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/crewdev/crew/internal/coordinator"
)

// BlockerAddTool handles the task_blocker_add MCP tool.
type BlockerAddTool struct {
	co *coordinator.Coordinator
}

// NewBlockerAddTool creates a BlockerAddTool backed by the coordinator.
func NewBlockerAddTool(co *coordinator.Coordinator) *BlockerAddTool {
	return &BlockerAddTool{co: co}
}

// Definition returns the MCP tool definition for task_blocker_add.
func (t *BlockerAddTool) Definition() mcp.Tool {
	return mcp.NewTool("task_blocker_add",
		mcp.WithDescription(
			"Record an obstruction on a task. The task moves to blocked and "+
				"remembers its current state so clearing the last blocker can "+
				"restore it. Blocked tasks never show up as ready.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID, e.g. task_001"),
		),
		mcp.WithString("reason",
			mcp.Required(),
			mcp.Description("What is blocking the task"),
		),
	)
}

// Handle processes the task_blocker_add tool call.
func (t *BlockerAddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("'reason' is required"), nil
	}

	task, err := t.co.AddBlocker(ctx, taskID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add blocker: %v", err)), nil
	}

	return mcp.NewToolResultText(renderTask(task)), nil
}

// BlockerClearTool handles the task_blocker_clear MCP tool.
type BlockerClearTool struct {
	co *coordinator.Coordinator
}

// NewBlockerClearTool creates a BlockerClearTool backed by the coordinator.
func NewBlockerClearTool(co *coordinator.Coordinator) *BlockerClearTool {
	return &BlockerClearTool{co: co}
}

// Definition returns the MCP tool definition for task_blocker_clear.
func (t *BlockerClearTool) Definition() mcp.Tool {
	return mcp.NewTool("task_blocker_clear",
		mcp.WithDescription(
			"Resolve one blocker by index (use task_status to see indexes). "+
				"Clearing the last blocker restores the state the task was in "+
				"when it was blocked.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID, e.g. task_001"),
		),
		mcp.WithNumber("index",
			mcp.Description("Zero-based blocker index (default: 0, the oldest)"),
		),
	)
}

// Handle processes the task_blocker_clear tool call.
func (t *BlockerClearTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}

	task, err := t.co.ResolveBlocker(ctx, taskID, intArg(req, "index", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear blocker: %v", err)), nil
	}

	return mcp.NewToolResultText(renderTask(task)), nil
}

// GateSetTool handles the task_gate_set MCP tool.
type GateSetTool struct {
	co *coordinator.Coordinator
}

// NewGateSetTool creates a GateSetTool backed by the coordinator.
func NewGateSetTool(co *coordinator.Coordinator) *GateSetTool {
	return &GateSetTool{co: co}
}

// Definition returns the MCP tool definition for task_gate_set.
func (t *GateSetTool) Definition() mcp.Tool {
	return mcp.NewTool("task_gate_set",
		mcp.WithDescription(
			"Record a quality gate outcome on a task. Gates are advisory "+
				"checkpoints (tests_passing, review_approved, ...): they never "+
				"stop a transition, but unpassed gates stay visible in status "+
				"output and run reports.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID, e.g. task_001"),
		),
		mcp.WithString("gate",
			mcp.Required(),
			mcp.Description("Gate name, e.g. tests_passing"),
		),
		mcp.WithBoolean("passed",
			mcp.Description("Gate outcome (default: true)"),
		),
	)
}

// Handle processes the task_gate_set tool call.
func (t *GateSetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	gate := req.GetString("gate", "")
	if gate == "" {
		return mcp.NewToolResultError("'gate' is required"), nil
	}

	task, err := t.co.SetQualityGate(ctx, taskID, gate, boolArg(req, "passed", true))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to set gate: %v", err)), nil
	}

	return mcp.NewToolResultText(renderTask(task)), nil
}
