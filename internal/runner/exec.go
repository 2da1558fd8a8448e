package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/crewdev/crew/pkg/models"
)

// CommandRunner executes a configured shell command once per task,
// through "sh -c". Task fields are exported in the environment so the
// command can decide what to do:
//
//	CREW_TASK_ID
//	CREW_TASK_TITLE
//	CREW_TASK_DESCRIPTION
//	CREW_TASK_ROLE
//	CREW_TASK_PRIORITY
//
// Exit status zero means success. Combined stdout/stderr is returned
// under the "output" key.
type CommandRunner struct {
	// Command is the shell command template.
	Command string
	// WorkDir is the working directory; empty runs in the current one.
	WorkDir string
}

// NewCommandRunner creates a CommandRunner for the given shell command.
func NewCommandRunner(command, workDir string) *CommandRunner {
	return &CommandRunner{Command: command, WorkDir: workDir}
}

// Run executes the command for one task.
func (r *CommandRunner) Run(ctx context.Context, task *models.Task) (Result, error) {
	if strings.TrimSpace(r.Command) == "" {
		return Result{}, fmt.Errorf("command runner: no command configured")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", r.Command)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	cmd.Env = append(os.Environ(),
		"CREW_TASK_ID="+task.ID,
		"CREW_TASK_TITLE="+task.Title,
		"CREW_TASK_DESCRIPTION="+task.Description,
		"CREW_TASK_ROLE="+string(task.Assignee),
		"CREW_TASK_PRIORITY="+string(task.Priority),
	)

	out, err := cmd.CombinedOutput()
	outputs := map[string]string{"output": strings.TrimSpace(string(out))}
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outputs: outputs, Err: ctx.Err().Error()}, ctx.Err()
		}
		return Result{Outputs: outputs, Err: err.Error()}, nil
	}
	return Result{Success: true, Outputs: outputs}, nil
}

var _ Runner = (*CommandRunner)(nil)
