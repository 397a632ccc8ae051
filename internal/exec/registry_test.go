package exec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("worker", CollaboratorFunc(func(ctx context.Context, task *models.Task) (Result, error) {
		return Result{Outcome: models.OutcomeSuccess}, nil
	}))

	c, err := r.Resolve("worker")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := c.Execute(context.Background(), &models.Task{ID: "t1"})
	if err != nil || res.Outcome != models.OutcomeSuccess {
		t.Errorf("unexpected result: %+v, %v", res, err)
	}
}

func TestRegistryUnknownHandler(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("ghost")
	if err == nil {
		t.Fatal("expected error for unknown handler")
	}
	var ve *models.ValidationError
	if !errors.As(err, &ve) || ve.Code != models.ReasonUnknownHandler {
		t.Errorf("expected UNKNOWN_HANDLER, got %v", err)
	}
}

func TestRegistryKnownAndNames(t *testing.T) {
	r := NewRegistry()
	noop := CollaboratorFunc(func(ctx context.Context, task *models.Task) (Result, error) {
		return Result{}, nil
	})
	r.Register("b", noop)
	r.Register("a", noop)

	if !r.Known("a") || r.Known("c") {
		t.Error("Known() misreported registration state")
	}
	if got := fmt.Sprint(r.Names()); got != "[a b]" {
		t.Errorf("expected sorted names [a b], got %s", got)
	}
}

func TestCommandCollaboratorSuccess(t *testing.T) {
	c := NewCommandCollaborator("echo done", "")
	res, err := c.Execute(context.Background(), &models.Task{ID: "t1", Title: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != models.OutcomeSuccess {
		t.Errorf("expected success, got %s", res.Outcome)
	}
	if res.Detail != "done" {
		t.Errorf("expected output captured, got %q", res.Detail)
	}
}

func TestCommandCollaboratorRetryableFailure(t *testing.T) {
	c := NewCommandCollaborator("exit 1", "")
	res, err := c.Execute(context.Background(), &models.Task{ID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != models.OutcomeFailureRetryable {
		t.Errorf("expected retryable failure, got %s", res.Outcome)
	}
}

func TestCommandCollaboratorTerminalFailure(t *testing.T) {
	c := NewCommandCollaborator("exit 3", "")
	c.RetryableExitCodes = []int{1}
	res, err := c.Execute(context.Background(), &models.Task{ID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != models.OutcomeFailureTerminal {
		t.Errorf("expected terminal failure for unlisted exit code, got %s", res.Outcome)
	}
}

func TestCommandCollaboratorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCommandCollaborator("sleep 10", "")
	_, err := c.Execute(ctx, &models.Task{ID: "t1"})
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestCommandCollaboratorTaskEnv(t *testing.T) {
	c := NewCommandCollaborator(`printf '%s' "$CONDUCTOR_TASK_TITLE"`, "")
	res, err := c.Execute(context.Background(), &models.Task{ID: "t1", Title: "hello env"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Detail != "hello env" {
		t.Errorf("expected task title in env, got %q", res.Detail)
	}
}
