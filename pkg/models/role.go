package models

// Role identifies a specialist responsible for a pipeline stage.
type Role string

const (
	// RoleArchitect analyzes requirements and designs the approach.
	RoleArchitect Role = "architect"
	// RoleCoder implements the work.
	RoleCoder Role = "coder"
	// RolePRReviewer reviews implemented work.
	RolePRReviewer Role = "pr_reviewer"
	// RoleQATester validates the work against requirements.
	RoleQATester Role = "qa_tester"
	// RoleCoordinator owns scheduling and team-level decisions.
	RoleCoordinator Role = "coordinator"
)

// Valid returns true if the role is one of the built-in roles. Team
// policy may register additional roles with the tracker.
func (r Role) Valid() bool {
	switch r {
	case RoleArchitect, RoleCoder, RolePRReviewer, RoleQATester, RoleCoordinator:
		return true
	default:
		return false
	}
}

// Roles returns the built-in roles in pipeline order.
func Roles() []Role {
	return []Role{RoleArchitect, RoleCoder, RolePRReviewer, RoleQATester, RoleCoordinator}
}
