// Package exec defines the execution collaborator boundary: the opaque
// external component that performs a task's actual work.
package exec

import (
	"context"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Result is what a collaborator reports back for one attempt.
type Result struct {
	// Outcome classifies the attempt.
	Outcome models.Outcome
	// Detail is the collaborator's message: error text on failure,
	// summary output on success.
	Detail string
}

// Collaborator executes a task's work. The engine is agnostic to what the
// work is; it only requires that Execute eventually returns an outcome or
// respects ctx cancellation. Implementations must honor ctx: the dispatcher
// applies the execution timeout and cooperative cancellation through it.
type Collaborator interface {
	Execute(ctx context.Context, task *models.Task) (Result, error)
}

// CollaboratorFunc adapts a function to the Collaborator interface.
type CollaboratorFunc func(ctx context.Context, task *models.Task) (Result, error)

// Execute implements Collaborator.
func (f CollaboratorFunc) Execute(ctx context.Context, task *models.Task) (Result, error) {
	return f(ctx, task)
}
