package tracker

import (
	"github.com/crewdev/crew/pkg/models"
)

// TeamStatus is the aggregate report consumed by presentation layers.
type TeamStatus struct {
	// TotalTasks is the number of live tasks.
	TotalTasks int `json:"total_tasks"`
	// ByStatus counts tasks per lifecycle state.
	ByStatus map[models.TaskStatus]int `json:"by_status"`
	// ByAssignee counts tasks per responsible role.
	ByAssignee map[models.Role]int `json:"by_assignee"`
	// ByPriority counts tasks per priority.
	ByPriority map[models.Priority]int `json:"by_priority"`
	// ActiveBlockers is the number of open blocker entries team-wide.
	ActiveBlockers int `json:"active_blockers"`
	// ReadyTasks is the number of tasks whose dependencies are all
	// complete and that are neither blocked nor terminal.
	ReadyTasks int `json:"ready_tasks"`
	// ParallelGroups is the number of distinct advisory group labels.
	ParallelGroups int `json:"parallel_groups"`
	// CompletionRate is the share of tasks complete, in percent.
	CompletionRate float64 `json:"completion_rate"`
}

// TeamStatus aggregates the registry into a single committed snapshot.
func (t *Tracker) TeamStatus() *TeamStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := &TeamStatus{
		TotalTasks: len(t.tasks),
		ByStatus:   make(map[models.TaskStatus]int),
		ByAssignee: make(map[models.Role]int),
		ByPriority: make(map[models.Priority]int),
	}

	groups := make(map[string]bool)
	completed := 0
	for _, task := range t.tasks {
		status.ByStatus[task.Status]++
		status.ByAssignee[task.Assignee]++
		status.ByPriority[task.Priority]++
		status.ActiveBlockers += len(task.Blockers)
		if task.ParallelGroup != "" {
			groups[task.ParallelGroup] = true
		}
		if task.Status == models.TaskStatusComplete {
			completed++
		}
	}
	status.ParallelGroups = len(groups)

	for _, task := range t.tasks {
		if task.Status == models.TaskStatusBlocked || task.Status.Terminal() {
			continue
		}
		ready := true
		for _, dep := range task.Dependencies {
			if !t.isDepSatisfiedLocked(dep) {
				ready = false
				break
			}
		}
		if ready {
			status.ReadyTasks++
		}
	}

	if len(t.tasks) > 0 {
		status.CompletionRate = float64(completed) / float64(len(t.tasks)) * 100
	}
	return status
}
