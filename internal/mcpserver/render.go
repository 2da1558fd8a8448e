package mcpserver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers decode
// as float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// splitIDs parses a comma-separated ID list, trimming whitespace and
// dropping empty entries.
func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// renderTask renders the one-screen summary returned by mutating tools.
func renderTask(task *models.Task) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s: %s\n\n", task.ID, task.Title))
	sb.WriteString(fmt.Sprintf("- **Status**: %s (%d%%)\n", task.Status, task.Progress()))
	sb.WriteString(fmt.Sprintf("- **Assignee**: %s\n", task.Assignee))
	sb.WriteString(fmt.Sprintf("- **Priority**: %s\n", task.Priority))
	if len(task.Dependencies) > 0 {
		sb.WriteString(fmt.Sprintf("- **Depends on**: %s\n", strings.Join(task.Dependencies, ", ")))
	}
	if len(task.Blockers) > 0 {
		sb.WriteString(fmt.Sprintf("- **Blockers** (%d): %s\n", len(task.Blockers), strings.Join(task.Blockers, "; ")))
	}
	if len(task.QualityGates) > 0 {
		sb.WriteString(fmt.Sprintf("- **Gates**: %s\n", renderGates(task.QualityGates)))
	}
	if task.ParentTask != "" {
		sb.WriteString(fmt.Sprintf("- **Parent**: %s\n", task.ParentTask))
	}
	if len(task.Subtasks) > 0 {
		sb.WriteString(fmt.Sprintf("- **Subtasks**: %s\n", strings.Join(task.Subtasks, ", ")))
	}
	if task.ParallelGroup != "" {
		sb.WriteString(fmt.Sprintf("- **Parallel group**: %s\n", task.ParallelGroup))
	}
	if task.IterationCount > 0 || task.MaxIterations > 0 {
		sb.WriteString(fmt.Sprintf("- **Iterations**: %d of %d\n", task.IterationCount, task.MaxIterations))
	}
	if task.Error != "" {
		sb.WriteString(fmt.Sprintf("- **Error**: %s\n", task.Error))
	}
	return sb.String()
}

// renderTaskDetail extends renderTask with the description and the
// handoff history, for task_status.
func renderTaskDetail(task *models.Task) string {
	var sb strings.Builder
	sb.WriteString(renderTask(task))

	if task.Description != "" {
		sb.WriteString("\n### Description\n\n")
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}

	if len(task.Handoffs) > 0 {
		sb.WriteString(fmt.Sprintf("\n### Handoffs (%d)\n\n", len(task.Handoffs)))
		for _, h := range task.Handoffs {
			line := fmt.Sprintf("- %s → %s (during %s)", h.FromRole, h.ToRole, h.StateAtHandoff)
			if h.Notes != "" {
				line += ": " + h.Notes
			}
			sb.WriteString(line + "\n")
		}
	}

	return sb.String()
}

func renderGates(gates map[string]bool) string {
	names := make([]string, 0, len(gates))
	for name := range gates {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		outcome := "not passed"
		if gates[name] {
			outcome = "passed"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, outcome))
	}
	return strings.Join(parts, ", ")
}

func renderTree(sb *strings.Builder, node *tracker.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	sb.WriteString(fmt.Sprintf("%s- **%s** [%s] %s\n", indent, node.Task.ID, node.Task.Status, node.Task.Title))
	for _, child := range node.Children {
		renderTree(sb, child, depth+1)
	}
}

func renderTeamStatus(status *tracker.TeamStatus) string {
	var sb strings.Builder
	sb.WriteString("## Team Status\n\n")
	sb.WriteString(fmt.Sprintf("- **Tasks**: %d (%.1f%% complete)\n", status.TotalTasks, status.CompletionRate))
	sb.WriteString(fmt.Sprintf("- **Ready to start**: %d\n", status.ReadyTasks))
	sb.WriteString(fmt.Sprintf("- **Active blockers**: %d\n", status.ActiveBlockers))
	sb.WriteString(fmt.Sprintf("- **Parallel groups**: %d\n", status.ParallelGroups))

	if len(status.ByStatus) > 0 {
		sb.WriteString("\n### By state\n\n")
		keys := make([]string, 0, len(status.ByStatus))
		for k := range status.ByStatus {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", k, status.ByStatus[models.TaskStatus(k)]))
		}
	}

	if len(status.ByAssignee) > 0 {
		sb.WriteString("\n### By role\n\n")
		keys := make([]string, 0, len(status.ByAssignee))
		for k := range status.ByAssignee {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", k, status.ByAssignee[models.Role(k)]))
		}
	}

	if len(status.ByPriority) > 0 {
		sb.WriteString("\n### By priority\n\n")
		keys := make([]string, 0, len(status.ByPriority))
		for k := range status.ByPriority {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", k, status.ByPriority[models.Priority(k)]))
		}
	}

	return sb.String()
}
