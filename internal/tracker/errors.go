// Package tracker owns task lifecycle state: transitions, handoffs,
// blockers, iteration accounting, and quality gates.
package tracker

import (
	"fmt"

	"github.com/crewdev/crew/pkg/models"
)

// NotFoundError indicates an operation referenced an unknown task.
type NotFoundError struct {
	// ID is the task ID that could not be resolved.
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// InvalidStateError indicates a transition requested an unrecognized
// lifecycle state.
type InvalidStateError struct {
	// State is the rejected state value.
	State models.TaskStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid task state %q", e.State)
}

// InvalidAssigneeError indicates a transition named a role the team
// does not recognize.
type InvalidAssigneeError struct {
	// Assignee is the rejected role value.
	Assignee models.Role
}

func (e *InvalidAssigneeError) Error() string {
	return fmt.Sprintf("invalid assignee %q", e.Assignee)
}
