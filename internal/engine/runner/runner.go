package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/errs"
	"github.com/stepflow/stepflow/internal/engine/retry"
	"github.com/stepflow/stepflow/internal/engine/transition"
	"github.com/stepflow/stepflow/internal/platform/logger"
)

// Runner is JobRunner. It satisfies dispatcher.Runner for sync (inline)
// dispatch, and is also the loop a queue-consuming worker drives for
// queued dispatch: both paths call Run with the same stepID.
type Runner struct {
	steps    reposwf.StepRepository
	exec     *transition.Executor
	retry    *retry.Policy
	registry *Registry
	hostname string
	log      *logger.Logger
}

func New(steps reposwf.StepRepository, exec *transition.Executor, retryPolicy *retry.Policy, registry *Registry, baseLog *logger.Logger) *Runner {
	hostname, _ := os.Hostname()
	return &Runner{
		steps: steps, exec: exec, retry: retryPolicy, registry: registry,
		hostname: hostname, log: baseLog.With("component", "JobRunner"),
	}
}

// Run loads stepID, constructs its job, and runs it to a terminal state
// (or back to Pending via RetryPolicy). It never returns an error for
// conditions that are locally recoverable (stale/missing step); those are
// logged and treated as a no-op.
func (r *Runner) Run(ctx context.Context, stepID uint64) error {
	step, err := r.steps.GetByID(ctx, stepID)
	if err != nil {
		return errs.NewStoreError(err, true)
	}
	if step == nil {
		r.log.Warn("step not found at hand-off", "step_id", stepID)
		return nil
	}
	if step.State != workflow.StateDispatched {
		r.log.Warn("step no longer Dispatched, skipping run", "step_id", stepID, "state", step.State)
		return nil
	}

	ctor, ok := r.registry.Get(step.Class)
	if !ok {
		return r.failBeforeRunning(ctx, step, fmt.Errorf("%w: unregistered class %q", errs.ErrMissingArgument, step.Class))
	}

	args, err := decodeJSON(step.Arguments)
	if err != nil {
		return r.failBeforeRunning(ctx, step, fmt.Errorf("%w: %v", errs.ErrMissingArgument, err))
	}

	job, err := ctor(args)
	if err != nil {
		return r.failBeforeRunning(ctx, step, err)
	}

	running, err := r.exec.Transition(ctx, step.ID, workflow.StateRunning, map[string]interface{}{
		"started_at": time.Now(),
		"hostname":   r.hostname,
	})
	if err != nil {
		if errors.Is(err, errs.ErrGuardDenied) || errors.Is(err, errs.ErrStaleState) {
			return nil
		}
		return err
	}

	jobCtx := newContext(ctx, running, args, r.exec, r.retry)
	return r.invoke(jobCtx, job)
}

// invoke calls the job body, converting a panic into the same
// capture-and-fail path as a returned error, so a job that panics fails
// the step instead of taking the worker process down with it.
func (r *Runner) invoke(jobCtx *Context, job Job) (runErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			runErr = r.failAfterRunning(jobCtx, fmt.Errorf("panic: %v", rec), string(debug.Stack()))
		}
	}()

	if err := job.Execute(jobCtx); err != nil {
		return r.failAfterRunning(jobCtx, err, "")
	}
	return nil
}

// failBeforeRunning handles construction failures: the step never reached
// Running, so it is failed straight from Dispatched.
func (r *Runner) failBeforeRunning(ctx context.Context, step *workflow.Step, cause error) error {
	r.log.Error("job construction failed", "step_id", step.ID, "class", step.Class, "error", cause)
	_, err := r.exec.Transition(ctx, step.ID, workflow.StateFailed, map[string]interface{}{
		"error_message": cause.Error(),
	})
	if err != nil && !errors.Is(err, errs.ErrGuardDenied) && !errors.Is(err, errs.ErrStaleState) {
		return err
	}
	return nil
}

// failAfterRunning handles an uncaught error or panic from a job already
// in Running. If the step reached a terminal state on its own before
// erroring (e.g. it called Complete then still returned an error), this
// is a no-op: CheckGuard's table membership check makes the stray Failed
// transition illegal and it is silently dropped as a guard denial.
func (r *Runner) failAfterRunning(jobCtx *Context, cause error, stackTrace string) error {
	r.log.Error("job body failed", "step_id", jobCtx.step.ID, "error", cause)
	err := jobCtx.Fail(cause, stackTrace)
	if err != nil && !errors.Is(err, errs.ErrGuardDenied) && !errors.Is(err, errs.ErrStaleState) {
		return err
	}
	return nil
}
