package runner

import (
	"context"

	"github.com/crewdev/crew/pkg/models"
)

// NoopRunner reports instant success without doing any work. Used for
// plan-only runs and in tests.
type NoopRunner struct{}

// Run succeeds immediately.
func (NoopRunner) Run(ctx context.Context, task *models.Task) (Result, error) {
	return Result{Success: true}, nil
}

var _ Runner = NoopRunner{}
