package runner_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/stepflow/stepflow/internal/data/repos/testutil"
	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/retry"
	"github.com/stepflow/stepflow/internal/engine/runner"
	"github.com/stepflow/stepflow/internal/engine/runner/examples"
	"github.com/stepflow/stepflow/internal/engine/transition"

	"gorm.io/datatypes"
)

type panicJob struct{}

func newPanicJob(map[string]interface{}) (runner.Job, error) {
	return &panicJob{}, nil
}

func (j *panicJob) Execute(ctx *runner.Context) error {
	panic("kaboom")
}

func newRunner(t *testing.T) (*runner.Runner, reposwf.StepRepository) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	steps := reposwf.NewStepRepository(db, testutil.Logger(t)).Tx(tx)
	exec := transition.NewExecutor(tx, steps, nil, testutil.Logger(t))
	retryPolicy := retry.NewPolicy(exec, steps, nil, 0)

	registry := runner.NewRegistry()
	if err := examples.Register(registry); err != nil {
		t.Fatalf("register examples: %v", err)
	}
	if err := registry.Register("test.Panic", newPanicJob); err != nil {
		t.Fatalf("register panic job: %v", err)
	}

	return runner.New(steps, exec, retryPolicy, registry, testutil.Logger(t)), steps
}

func dispatchedStep(class string, args []byte) *workflow.Step {
	s := &workflow.Step{
		WorkflowID: uuid.New(), BlockUUID: uuid.New(), Type: workflow.TypeDefault,
		State: workflow.StateDispatched, Queue: workflow.SyncQueue, Class: class,
	}
	if args != nil {
		s.Arguments = datatypes.JSON(args)
	}
	return s
}

func TestRunner_Run_NoopCompletes(t *testing.T) {
	r, steps := newRunner(t)
	created, err := steps.Create(context.Background(), []*workflow.Step{dispatchedStep("examples.Noop", nil)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Run(context.Background(), created[0].ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	fresh, err := steps.GetByID(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.State != workflow.StateCompleted {
		t.Fatalf("expected Completed, got %s", fresh.State)
	}
}

func TestRunner_Run_EchoRequiresMessage(t *testing.T) {
	r, steps := newRunner(t)
	created, err := steps.Create(context.Background(), []*workflow.Step{dispatchedStep("examples.Echo", []byte(`{}`))})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Run(context.Background(), created[0].ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	fresh, err := steps.GetByID(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.State != workflow.StateFailed {
		t.Fatalf("expected a construction failure without 'message' to fail the step, got %s", fresh.State)
	}
}

func TestRunner_Run_EchoCompletesWithArgument(t *testing.T) {
	r, steps := newRunner(t)
	created, err := steps.Create(context.Background(), []*workflow.Step{dispatchedStep("examples.Echo", []byte(`{"message":"hi"}`))})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Run(context.Background(), created[0].ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	fresh, err := steps.GetByID(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.State != workflow.StateCompleted {
		t.Fatalf("expected Completed, got %s", fresh.State)
	}
}

func TestRunner_Run_UnregisteredClassFails(t *testing.T) {
	r, steps := newRunner(t)
	created, err := steps.Create(context.Background(), []*workflow.Step{dispatchedStep("no.such.Class", nil)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Run(context.Background(), created[0].ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	fresh, err := steps.GetByID(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.State != workflow.StateFailed {
		t.Fatalf("expected an unregistered class to fail the step, got %s", fresh.State)
	}
}

func TestRunner_Run_PanicIsRecoveredAsFailure(t *testing.T) {
	r, steps := newRunner(t)
	created, err := steps.Create(context.Background(), []*workflow.Step{dispatchedStep("test.Panic", nil)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Run(context.Background(), created[0].ID); err != nil {
		t.Fatalf("run should recover the panic, not propagate it: %v", err)
	}

	fresh, err := steps.GetByID(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.State != workflow.StateFailed {
		t.Fatalf("expected a recovered panic to fail the step, got %s", fresh.State)
	}
}

func TestRunner_Run_SkipsIfNotDispatched(t *testing.T) {
	r, steps := newRunner(t)
	s := dispatchedStep("examples.Noop", nil)
	s.State = workflow.StatePending
	created, err := steps.Create(context.Background(), []*workflow.Step{s})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Run(context.Background(), created[0].ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	fresh, err := steps.GetByID(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.State != workflow.StatePending {
		t.Fatalf("expected a non-Dispatched step to be left untouched, got %s", fresh.State)
	}
}
