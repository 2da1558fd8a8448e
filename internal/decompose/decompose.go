// Package decompose splits a free-text requirement into ordered work
// components. Detection is plain substring matching; the caller turns
// components into tracked tasks.
package decompose

import (
	"fmt"
	"strings"

	"github.com/crewdev/crew/pkg/models"
)

// Component describes one unit of work distilled from a requirement.
type Component struct {
	// Type names the detected area: database, backend, frontend,
	// testing, deployment, or general.
	Type string
	// Title is the short task title for this component.
	Title string
	// Description carries the component framing plus the original
	// requirement text.
	Description string
	// Priority orders the component against its level siblings.
	Priority models.Priority
	// Role is the pipeline role responsible for the component.
	Role models.Role
	// DependsOn holds indexes of earlier components in the returned
	// slice that must complete first.
	DependsOn []int
}

// rule matches one component type by substring.
type rule struct {
	typ      string
	keywords []string
	title    string
	priority models.Priority
	role     models.Role
}

// rules are checked in emission order: storage before the services on
// top of it, services before their UI, verification after all
// implementation, deployment last.
var rules = []rule{
	{
		typ:      "database",
		keywords: []string{"database", "db"},
		title:    "Database setup and operations",
		priority: models.PriorityHigh,
		role:     models.RoleCoder,
	},
	{
		typ:      "backend",
		keywords: []string{"backend", "api"},
		title:    "Backend implementation",
		priority: models.PriorityHigh,
		role:     models.RoleCoder,
	},
	{
		typ:      "frontend",
		keywords: []string{"frontend", "ui"},
		title:    "Frontend implementation",
		priority: models.PriorityHigh,
		role:     models.RoleCoder,
	},
	{
		typ:      "testing",
		keywords: []string{"testing", "test"},
		title:    "Testing and validation",
		priority: models.PriorityMedium,
		role:     models.RoleQATester,
	},
	{
		typ:      "deployment",
		keywords: []string{"deploy"},
		title:    "Deployment and configuration",
		priority: models.PriorityMedium,
		role:     models.RoleCoordinator,
	},
}

// Requirement splits a requirement into ordered components. Components
// are chained sequentially: each depends on the one before it, the
// conservative default when nothing better is known about their real
// coupling. When no keyword matches, a single general component covers
// the whole requirement.
func Requirement(text string) []Component {
	lower := strings.ToLower(text)

	var components []Component
	for _, r := range rules {
		if !matchesAny(lower, r.keywords) {
			continue
		}
		components = append(components, Component{
			Type:        r.typ,
			Title:       r.title,
			Description: fmt.Sprintf("%s for: %s", r.title, text),
			Priority:    r.priority,
			Role:        r.role,
		})
	}

	if len(components) == 0 {
		components = append(components, Component{
			Type:        "general",
			Title:       "General implementation task",
			Description: fmt.Sprintf("Implement: %s", text),
			Priority:    models.PriorityMedium,
			Role:        models.RoleCoder,
		})
	}

	for i := range components {
		if i > 0 {
			components[i].DependsOn = []int{i - 1}
		}
	}
	return components
}

func matchesAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
