package coordinator

import (
	"time"
)

// EventType represents the type of coordination event.
type EventType string

const (
	// EventRunStarted indicates a coordination run has begun.
	EventRunStarted EventType = "run_started"
	// EventLevelStarted indicates an execution level has been admitted.
	EventLevelStarted EventType = "level_started"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed or can never start.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was never run because the run
	// was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskBlocked indicates a task was skipped over open blockers.
	EventTaskBlocked EventType = "task_blocked"
	// EventHandoff indicates a task changed hands between roles.
	EventHandoff EventType = "handoff"
	// EventRunCompleted indicates the run finished, successfully or not.
	EventRunCompleted EventType = "run_completed"
	// EventRunCancelled indicates the run stopped before all levels ran.
	EventRunCancelled EventType = "run_cancelled"
	// EventWarning carries planner and build diagnostics.
	EventWarning EventType = "warning"
)

// Event is one coordination milestone. Events are used to update the
// watch dashboard and to observe runs in tests.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the ID of the run that emitted the event.
	RunID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// Message provides additional context about the event.
	Message string
	// Time is when the event occurred.
	Time time.Time
}
