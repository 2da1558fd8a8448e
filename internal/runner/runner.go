// Package runner executes a single task through an external actor.
// The executor only consumes the success flag and opaque outputs; what
// the actor actually does is its own business.
package runner

import (
	"context"

	"github.com/crewdev/crew/pkg/models"
)

// Result is what one task execution reports back.
type Result struct {
	// Success reports whether the work completed acceptably.
	Success bool
	// Outputs carries opaque artifacts produced by the actor. On
	// success they are merged into the task context so later handoffs
	// can see them.
	Outputs map[string]string
	// Err describes the failure when Success is false.
	Err string
}

// Runner runs one task to completion. Implementations must be safe for
// concurrent use: the executor calls Run from multiple goroutines.
//
// The error return is for infrastructure problems (the actor could not
// be invoked at all); a task that ran and failed comes back as
// Result{Success: false, Err: ...} with a nil error.
type Runner interface {
	Run(ctx context.Context, task *models.Task) (Result, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *models.Task) (Result, error)

// Run calls fn.
func (fn RunnerFunc) Run(ctx context.Context, task *models.Task) (Result, error) {
	return fn(ctx, task)
}
