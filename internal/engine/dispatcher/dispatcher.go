// Package dispatcher implements DispatcherTick: one atomic pass over a
// single group, run entirely under that group's row lock. The numbered
// stages below are named to match the `progress` value ReleaseGroupLock
// records, so a tick that dies mid-run leaves behind a number an operator
// can map straight back to the stage it reached.
package dispatcher

import (
	"context"
	"errors"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/cascade"
	"github.com/stepflow/stepflow/internal/engine/errs"
	"github.com/stepflow/stepflow/internal/engine/transition"
	"github.com/stepflow/stepflow/internal/platform/logger"
)

// Progress stages, recorded on the Tick row at teardown. 0 is reserved for
// "lock acquired, nothing else happened yet" (e.g. a StoreError aborted the
// tick before any cascade pass ran).
const (
	ProgressLockAcquired = iota
	ProgressSkipDescendants
	ProgressCancelDownstream
	ProgressPromoteResolveException
	ProgressFailParents
	ProgressCascadeFailureToChildren
	ProgressCompleteParents
	ProgressSelection
	ProgressHandoff
	ProgressTeardown
)

// Transport hands a dispatched step off to a named queue for out-of-process
// execution. The sentinel queue name "sync" (workflow.SyncQueue) is never
// passed here: the Tick runs those inline through Runner instead.
type Transport interface {
	Enqueue(ctx context.Context, queueName string, stepID uint64) error
}

// Runner executes one Dispatched step inline, transitioning it through
// Running to a terminal state (or back to Pending via RetryPolicy).
type Runner interface {
	Run(ctx context.Context, stepID uint64) error
}

// Tick runs one DispatcherTick invocation. It is safe to share across
// groups and goroutines: all per-call state lives on the stack of Run.
type Tick struct {
	steps     reposwf.StepRepository
	dispatch  reposwf.DispatchRepository
	cooldown  reposwf.CooldownRepository
	cascade   *cascade.Engine
	exec      *transition.Executor
	transport Transport
	runner    Runner
	log       *logger.Logger
}

func NewTick(
	steps reposwf.StepRepository,
	dispatch reposwf.DispatchRepository,
	cooldown reposwf.CooldownRepository,
	cascadeEngine *cascade.Engine,
	exec *transition.Executor,
	transport Transport,
	runner Runner,
	baseLog *logger.Logger,
) *Tick {
	return &Tick{
		steps: steps, dispatch: dispatch, cooldown: cooldown,
		cascade: cascadeEngine, exec: exec, transport: transport, runner: runner,
		log: baseLog.With("component", "DispatcherTick"),
	}
}

// Result summarizes one Run call, for the CLI's `dispatch` command and for
// scheduler-loop logging.
type Result struct {
	Group      string
	Ran        bool
	Progress   int
	Dispatched int
}

// Run executes one tick for group (the empty string is the null-group
// sentinel). It acquires the group lock, runs cascade passes 1-6 in order
// stopping at the first one that mutates state, otherwise selects and
// dispatches new work, and always releases the lock on the way out.
func (t *Tick) Run(ctx context.Context, group string) (Result, error) {
	res := Result{Group: group}

	coolingDown, err := t.cooldown.IsCoolingDown(ctx)
	if err != nil {
		return res, errs.NewStoreError(err, true)
	}
	if coolingDown {
		return res, nil
	}

	groupPtr := groupArg(group)

	tickID, err := t.dispatch.AcquireGroupLock(ctx, group)
	if err != nil {
		if errors.Is(err, errs.ErrLockContention) {
			return res, nil
		}
		return res, errs.NewStoreError(err, false)
	}
	res.Ran = true

	progress := ProgressLockAcquired
	dispatched, runErr := t.runLocked(ctx, groupPtr, tickID, &progress)
	res.Dispatched = dispatched
	res.Progress = progress

	if relErr := t.dispatch.ReleaseGroupLock(ctx, group, tickID, progress); relErr != nil {
		if runErr == nil {
			runErr = errs.NewStoreError(relErr, false)
		}
	}
	return res, runErr
}

func (t *Tick) runLocked(ctx context.Context, group *string, tickID uint64, progress *int) (int, error) {
	pass, mutated, err := t.cascade.RunToFixedPoint(ctx, group)
	if err != nil {
		return 0, errs.NewStoreError(err, false)
	}
	if mutated {
		*progress = cascadeProgress(pass)
		return 0, nil
	}
	*progress = ProgressCompleteParents

	candidates, err := t.steps.SelectDispatchCandidates(ctx, group)
	if err != nil {
		return 0, errs.NewStoreError(err, false)
	}
	*progress = ProgressSelection

	var dispatchedSteps []*workflow.Step
	for i := range candidates {
		c := &candidates[i]
		fresh, err := t.exec.Transition(ctx, c.ID, workflow.StateDispatched, map[string]interface{}{
			"tick_id": tickID,
		})
		if err != nil {
			if errors.Is(err, errs.ErrGuardDenied) || errors.Is(err, errs.ErrStaleState) {
				continue
			}
			return len(dispatchedSteps), errs.NewStoreError(err, false)
		}
		dispatchedSteps = append(dispatchedSteps, fresh)
	}

	*progress = ProgressHandoff
	for _, s := range dispatchedSteps {
		if err := t.handOff(ctx, s); err != nil {
			t.log.Error("hand-off failed", "step_id", s.ID, "error", err)
		}
	}

	*progress = ProgressTeardown
	return len(dispatchedSteps), nil
}

func (t *Tick) handOff(ctx context.Context, s *workflow.Step) error {
	if s.Queue == workflow.SyncQueue {
		return t.runner.Run(ctx, s.ID)
	}
	return t.transport.Enqueue(ctx, s.Queue, s.ID)
}

func cascadeProgress(p cascade.Pass) int {
	switch p {
	case cascade.PassSkipDescendants:
		return ProgressSkipDescendants
	case cascade.PassCancelDownstream:
		return ProgressCancelDownstream
	case cascade.PassPromoteResolveException:
		return ProgressPromoteResolveException
	case cascade.PassFailParents:
		return ProgressFailParents
	case cascade.PassCascadeFailureToChildren:
		return ProgressCascadeFailureToChildren
	case cascade.PassCompleteParents:
		return ProgressCompleteParents
	default:
		return ProgressLockAcquired
	}
}

// groupArg always returns a non-nil pointer to the tick's group, including
// the "" null-group sentinel. scopeGroup treats a nil pointer as "every
// group" and a pointer to "" as "group IS NULL" — a tick must always scope
// its selectors to the one group it holds the lock for, so nil (which would
// select across every group, including ones locked by concurrently running
// ticks) is never a valid result here.
func groupArg(group string) *string {
	return &group
}
