// Package mcpserver exposes the coordination facade as MCP tools over
// stdio so AI coding agents can drive the team pipeline directly.
//
// Every tool follows the same pattern:
//   - a struct holding the coordinator facade, injected via constructor
//   - Definition() returning the mcp.Tool schema
//   - Handle() applying the operation and rendering a compact markdown result
//
// Mutations go through the facade, which loads the snapshot, applies the
// operation, and saves in one step; no tool touches storage directly.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/crewdev/crew/internal/coordinator"
)

// New creates the MCP server with every coordination tool registered.
// The caller owns the coordinator and its store; closing them after the
// server stops is the caller's job.
func New(co *coordinator.Coordinator, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"crew",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	create := NewTaskCreateTool(co)
	s.AddTool(create.Definition(), create.Handle)

	status := NewTaskStatusTool(co)
	s.AddTool(status.Definition(), status.Handle)

	transition := NewTaskTransitionTool(co)
	s.AddTool(transition.Definition(), transition.Handle)

	blockerAdd := NewBlockerAddTool(co)
	s.AddTool(blockerAdd.Definition(), blockerAdd.Handle)

	blockerClear := NewBlockerClearTool(co)
	s.AddTool(blockerClear.Definition(), blockerClear.Handle)

	gateSet := NewGateSetTool(co)
	s.AddTool(gateSet.Definition(), gateSet.Handle)

	ready := NewReadyTasksTool(co)
	s.AddTool(ready.Definition(), ready.Handle)

	tree := NewTaskTreeTool(co)
	s.AddTool(tree.Definition(), tree.Handle)

	team := NewTeamStatusTool(co)
	s.AddTool(team.Definition(), team.Handle)

	preview := NewPlanPreviewTool(co)
	s.AddTool(preview.Definition(), preview.Handle)

	return s
}

// serverInstructions tells the connected agent how the crew pipeline
// works and when to reach for which tool.
func serverInstructions() string {
	return `You have access to crew, a task coordination server for a multi-role
development team.

## The pipeline

Tasks move through lifecycle states:
new → analyzing → planning → implementing → reviewing → testing → complete

Side states: iteration (rework, bounded per task), blocked (open blockers),
failed (terminal). Tasks assigned to the architect start in analyzing;
everything else starts in new.

Roles: architect, coder, pr_reviewer, qa_tester, coordinator (plus any
extra roles from the team policy). Reassigning during a transition records
a handoff with the full task context, so the receiving role sees what the
previous role knew.

## Working with tasks

1. task_create: register work. Use depends_on to sequence tasks and
   parent to nest subtasks (containment only, not a dependency).
2. task_ready: see what can start right now. Ready means every dependency
   complete, not blocked, not terminal.
3. task_transition: advance the lifecycle. Pass assignee to hand off.
   Moving to iteration counts against the task's rework bound; at the
   bound the task is blocked instead.
4. task_blocker_add / task_blocker_clear: record and resolve obstructions.
   Clearing the last blocker restores the state the task was in when it
   was blocked.
5. task_gate_set: record quality gate outcomes (tests_passing,
   review_approved, ...). Gates are advisory: they never stop a
   transition, but unpassed gates are visible everywhere and reported
   after runs.

## Inspecting the team

- task_status: one task in full, including blockers, gates, and handoffs.
- task_tree: a task with its subtask hierarchy.
- team_status: counts by state, role, and priority, plus ready tasks and
  open blockers.
- plan_preview: the dependency-ordered execution plan for the current
  registry, as parallel levels plus unschedulable tasks with reasons and
  warnings. Read-only; nothing executes.

## Rules

- Dependencies on unknown task IDs are treated as externally satisfied;
  plan_preview warns about them.
- Dependency cycles never fail task creation, but cyclic tasks are
  reported as unschedulable in plan_preview.
- All state is shared with the crew CLI: changes made here are visible to
  "crew status", "crew run", and vice versa.`
}
