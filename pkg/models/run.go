package models

import "time"

// RunStatus represents the overall state of a coordination run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is executing levels.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates every scheduled task succeeded.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates at least one task failed or could not
	// be scheduled.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run stopped before all levels
	// were admitted.
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RunRecord summarizes one coordination run for persistence and history
// reporting.
type RunRecord struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// Requirement is the text the run decomposed and executed.
	Requirement string `json:"requirement"`
	// Status is the overall outcome.
	Status RunStatus `json:"status"`
	// TotalTasks is the number of tasks the run planned.
	TotalTasks int `json:"total_tasks"`
	// Completed is the number of tasks that reached complete.
	Completed int `json:"completed"`
	// Failed is the number of tasks that failed.
	Failed int `json:"failed"`
	// Cancelled is the number of tasks never admitted before a cancel.
	Cancelled int `json:"cancelled"`
	// Unscheduled lists task IDs the planner could not place.
	Unscheduled []string `json:"unscheduled,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the run finished, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
