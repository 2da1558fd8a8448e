package models

import "time"

// HandoffRecord is an append-only history entry written whenever task
// responsibility moves between roles. It captures the task as it was
// immediately before the transition and is never mutated afterwards.
type HandoffRecord struct {
	// FromRole is the role handing the task off.
	FromRole Role `json:"from_role"`
	// ToRole is the role receiving the task.
	ToRole Role `json:"to_role"`
	// Timestamp is when the handoff happened.
	Timestamp time.Time `json:"timestamp"`
	// StateAtHandoff is the task status before the transition applied.
	StateAtHandoff TaskStatus `json:"state_at_handoff"`
	// ContextSnapshot is a copy of the task context at handoff time.
	ContextSnapshot Context `json:"context_snapshot,omitempty"`
	// Notes carries the optional transition note.
	Notes string `json:"notes,omitempty"`
}
