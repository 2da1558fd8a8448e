package models

// Priority orders tasks competing for admission within a level.
type Priority string

const (
	// PriorityLow is for deferrable work.
	PriorityLow Priority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityHigh is for work that should start early.
	PriorityHigh Priority = "high"
	// PriorityCritical is for work that preempts everything else.
	PriorityCritical Priority = "critical"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Rank returns the ordinal weight of the priority; higher runs first.
// Unknown priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}
