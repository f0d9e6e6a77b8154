package dispatcher_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/stepflow/stepflow/internal/data/repos/testutil"
	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/cascade"
	"github.com/stepflow/stepflow/internal/engine/dispatcher"
	"github.com/stepflow/stepflow/internal/engine/transition"
)

type fakeRunner struct {
	mu  sync.Mutex
	ran []uint64
}

func (f *fakeRunner) Run(ctx context.Context, stepID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, stepID)
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	enqueued []uint64
}

func (f *fakeTransport) Enqueue(ctx context.Context, queueName string, stepID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, stepID)
	return nil
}

func TestDispatcherTick_Run_DispatchesSyncCandidatesInline(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	stepsRepo := reposwf.NewStepRepository(db, testutil.Logger(t)).Tx(tx)
	dispatchRepo := reposwf.NewDispatchRepository(tx, testutil.Logger(t))
	cooldownRepo := reposwf.NewCooldownRepository(tx)
	exec := transition.NewExecutor(tx, stepsRepo, nil, testutil.Logger(t))
	cascadeEngine := cascade.NewEngine(stepsRepo, exec, testutil.Logger(t))
	runner := &fakeRunner{}
	transport := &fakeTransport{}

	if err := dispatchRepo.EnsureGroupRow(context.Background(), ""); err != nil {
		t.Fatalf("ensure group row: %v", err)
	}
	tick := dispatcher.NewTick(stepsRepo, dispatchRepo, cooldownRepo, cascadeEngine, exec, transport, runner, testutil.Logger(t))

	wfID, blockID := uuid.New(), uuid.New()
	if _, err := stepsRepo.Create(context.Background(), []*workflow.Step{
		{WorkflowID: wfID, BlockUUID: blockID, Type: workflow.TypeDefault, State: workflow.StatePending, Queue: workflow.SyncQueue, Class: "examples.Noop"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := tick.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Ran {
		t.Fatal("expected the tick to run")
	}
	if res.Dispatched != 1 {
		t.Fatalf("expected 1 dispatched step, got %d", res.Dispatched)
	}
	if len(runner.ran) != 1 {
		t.Fatalf("expected the sync-queue step to be handed to Runner inline, got %v", runner.ran)
	}
	if len(transport.enqueued) != 0 {
		t.Fatalf("expected no transport enqueue for a sync-queue step, got %v", transport.enqueued)
	}
}

func TestDispatcherTick_Run_EnqueuesNamedQueueCandidates(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	stepsRepo := reposwf.NewStepRepository(db, testutil.Logger(t)).Tx(tx)
	dispatchRepo := reposwf.NewDispatchRepository(tx, testutil.Logger(t))
	cooldownRepo := reposwf.NewCooldownRepository(tx)
	exec := transition.NewExecutor(tx, stepsRepo, nil, testutil.Logger(t))
	cascadeEngine := cascade.NewEngine(stepsRepo, exec, testutil.Logger(t))
	runner := &fakeRunner{}
	transport := &fakeTransport{}

	if err := dispatchRepo.EnsureGroupRow(context.Background(), ""); err != nil {
		t.Fatalf("ensure group row: %v", err)
	}
	tick := dispatcher.NewTick(stepsRepo, dispatchRepo, cooldownRepo, cascadeEngine, exec, transport, runner, testutil.Logger(t))

	wfID, blockID := uuid.New(), uuid.New()
	if _, err := stepsRepo.Create(context.Background(), []*workflow.Step{
		{WorkflowID: wfID, BlockUUID: blockID, Type: workflow.TypeDefault, State: workflow.StatePending, Queue: "worker-a", Class: "examples.Noop"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := tick.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Dispatched != 1 {
		t.Fatalf("expected 1 dispatched step, got %d", res.Dispatched)
	}
	if len(transport.enqueued) != 1 {
		t.Fatalf("expected the named-queue step to go through Transport, got %v", transport.enqueued)
	}
	if len(runner.ran) != 0 {
		t.Fatalf("expected Runner not to be called for a named-queue step, got %v", runner.ran)
	}
}

func TestDispatcherTick_Run_NullGroupTickDoesNotTouchNamedGroup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	stepsRepo := reposwf.NewStepRepository(db, testutil.Logger(t)).Tx(tx)
	dispatchRepo := reposwf.NewDispatchRepository(tx, testutil.Logger(t))
	cooldownRepo := reposwf.NewCooldownRepository(tx)
	exec := transition.NewExecutor(tx, stepsRepo, nil, testutil.Logger(t))
	cascadeEngine := cascade.NewEngine(stepsRepo, exec, testutil.Logger(t))
	runner := &fakeRunner{}
	transport := &fakeTransport{}

	if err := dispatchRepo.EnsureGroupRow(context.Background(), ""); err != nil {
		t.Fatalf("ensure group row: %v", err)
	}
	tick := dispatcher.NewTick(stepsRepo, dispatchRepo, cooldownRepo, cascadeEngine, exec, transport, runner, testutil.Logger(t))

	wfID, blockID := uuid.New(), uuid.New()
	otherGroup := "other-group"
	if _, err := stepsRepo.Create(context.Background(), []*workflow.Step{
		{WorkflowID: wfID, BlockUUID: blockID, Type: workflow.TypeDefault, State: workflow.StatePending, Queue: workflow.SyncQueue, Class: "examples.Noop", Group: &otherGroup},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := tick.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Dispatched != 0 {
		t.Fatalf("expected the null-group tick to leave the named-group step untouched, got %d dispatched", res.Dispatched)
	}
	if len(runner.ran) != 0 {
		t.Fatalf("expected Runner not to be invoked for a step outside this tick's group, got %v", runner.ran)
	}
}

func TestDispatcherTick_Run_CooldownSkipsEntirely(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	stepsRepo := reposwf.NewStepRepository(db, testutil.Logger(t)).Tx(tx)
	dispatchRepo := reposwf.NewDispatchRepository(tx, testutil.Logger(t))
	cooldownRepo := reposwf.NewCooldownRepository(tx)
	exec := transition.NewExecutor(tx, stepsRepo, nil, testutil.Logger(t))
	cascadeEngine := cascade.NewEngine(stepsRepo, exec, testutil.Logger(t))
	runner := &fakeRunner{}
	transport := &fakeTransport{}

	if err := cooldownRepo.SetCoolingDown(context.Background(), true); err != nil {
		t.Fatalf("set cooling down: %v", err)
	}

	if err := dispatchRepo.EnsureGroupRow(context.Background(), ""); err != nil {
		t.Fatalf("ensure group row: %v", err)
	}
	tick := dispatcher.NewTick(stepsRepo, dispatchRepo, cooldownRepo, cascadeEngine, exec, transport, runner, testutil.Logger(t))

	res, err := tick.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Ran {
		t.Fatal("expected a tick to no-op while cooling down")
	}
}

func TestDispatcherTick_Run_CascadeMutationShortCircuitsSelection(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	stepsRepo := reposwf.NewStepRepository(db, testutil.Logger(t)).Tx(tx)
	dispatchRepo := reposwf.NewDispatchRepository(tx, testutil.Logger(t))
	cooldownRepo := reposwf.NewCooldownRepository(tx)
	exec := transition.NewExecutor(tx, stepsRepo, nil, testutil.Logger(t))
	cascadeEngine := cascade.NewEngine(stepsRepo, exec, testutil.Logger(t))
	runner := &fakeRunner{}
	transport := &fakeTransport{}

	if err := dispatchRepo.EnsureGroupRow(context.Background(), ""); err != nil {
		t.Fatalf("ensure group row: %v", err)
	}
	tick := dispatcher.NewTick(stepsRepo, dispatchRepo, cooldownRepo, cascadeEngine, exec, transport, runner, testutil.Logger(t))

	wfID, rootBlock, childBlock := uuid.New(), uuid.New(), uuid.New()
	parent := &workflow.Step{WorkflowID: wfID, BlockUUID: rootBlock, Type: workflow.TypeDefault, State: workflow.StateSkipped, Queue: workflow.SyncQueue, Class: "examples.Noop", ChildBlockUUID: &childBlock}
	child := &workflow.Step{WorkflowID: wfID, BlockUUID: childBlock, Type: workflow.TypeDefault, State: workflow.StatePending, Queue: workflow.SyncQueue, Class: "examples.Noop"}
	if _, err := stepsRepo.Create(context.Background(), []*workflow.Step{parent, child}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := tick.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Dispatched != 0 {
		t.Fatalf("expected the cascade pass to consume this tick without dispatching, got %d", res.Dispatched)
	}
	if res.Progress != dispatcher.ProgressSkipDescendants {
		t.Fatalf("expected progress to record the SkipDescendants pass, got %d", res.Progress)
	}
}
