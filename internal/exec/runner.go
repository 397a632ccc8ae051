package exec

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// CommandCollaborator runs a configured shell command per task. The task
// title and description are passed through the environment, so arbitrary
// worker scripts can be wired in as execution targets without the engine
// knowing what they do.
//
// Exit codes map to outcomes: 0 is success, the configured retryable codes
// are transient failures, everything else is terminal.
type CommandCollaborator struct {
	// Command is the shell command run through "sh -c".
	Command string
	// WorkDir is the working directory, if non-empty.
	WorkDir string
	// RetryableExitCodes are treated as transient failures. Empty means
	// every non-zero exit is retryable.
	RetryableExitCodes []int
}

// NewCommandCollaborator creates a collaborator running the given command.
func NewCommandCollaborator(command, workDir string) *CommandCollaborator {
	return &CommandCollaborator{Command: command, WorkDir: workDir}
}

// Execute implements Collaborator. Cancellation and timeout flow through
// ctx via exec.CommandContext.
func (c *CommandCollaborator) Execute(ctx context.Context, task *models.Task) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	if c.WorkDir != "" {
		cmd.Dir = c.WorkDir
	}
	cmd.Env = append(cmd.Environ(),
		"CONDUCTOR_TASK_ID="+task.ID,
		"CONDUCTOR_TASK_TITLE="+task.Title,
		"CONDUCTOR_TASK_DESCRIPTION="+task.Description,
		"CONDUCTOR_TASK_RETRY_CONTEXT="+strings.Join(task.RetryContext, "\n"),
	)

	output, err := cmd.CombinedOutput()
	detail := strings.TrimSpace(string(output))

	if err == nil {
		return Result{Outcome: models.OutcomeSuccess, Detail: detail}, nil
	}

	if ctx.Err() != nil {
		// The dispatcher classifies timeouts itself; report the raw error.
		return Result{}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		outcome := models.OutcomeFailureRetryable
		if len(c.RetryableExitCodes) > 0 && !containsInt(c.RetryableExitCodes, exitErr.ExitCode()) {
			outcome = models.OutcomeFailureTerminal
		}
		if detail == "" {
			detail = exitErr.Error()
		}
		return Result{Outcome: outcome, Detail: detail}, nil
	}

	// Command could not be started at all.
	return Result{}, err
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Verify CommandCollaborator implements Collaborator at compile time.
var _ Collaborator = (*CommandCollaborator)(nil)
