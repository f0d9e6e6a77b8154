package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/errs"
	"github.com/stepflow/stepflow/internal/engine/retry"
	"github.com/stepflow/stepflow/internal/engine/transition"
)

// Context is handed to a Job's Execute method: argument access plus the
// small set of lifecycle moves a job body is allowed to make, each one
// routed through TransitionExecutor (or RetryPolicy) rather than writing
// the step
// directly.
type Context struct {
	ctx   context.Context
	step  *workflow.Step
	args  map[string]interface{}
	exec  *transition.Executor
	retry *retry.Policy
}

func newContext(ctx context.Context, step *workflow.Step, args map[string]interface{}, exec *transition.Executor, retryPolicy *retry.Policy) *Context {
	return &Context{ctx: ctx, step: step, args: args, exec: exec, retry: retryPolicy}
}

func (c *Context) Context() context.Context { return c.ctx }
func (c *Context) Step() *workflow.Step     { return c.step }

// Arg returns the raw decoded argument value for key.
func (c *Context) Arg(key string) (interface{}, bool) {
	v, ok := c.args[key]
	return v, ok
}

// RequireString fetches a required string argument, or MissingArgument.
func (c *Context) RequireString(key string) (string, error) {
	v, ok := c.args[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", errs.ErrMissingArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a string", errs.ErrMissingArgument, key)
	}
	return s, nil
}

// StringWithDefault fetches an optional string argument, falling back to
// def when absent.
func (c *Context) StringWithDefault(key, def string) string {
	v, ok := c.args[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// Complete transitions Running->Completed, recording response and timing.
func (c *Context) Complete(response map[string]interface{}) error {
	patch := map[string]interface{}{"completed_at": time.Now()}
	if c.step.StartedAt != nil {
		patch["duration_ms"] = time.Since(*c.step.StartedAt).Milliseconds()
	}
	if response != nil {
		encoded, err := encodeJSON(response)
		if err != nil {
			return err
		}
		patch["response"] = encoded
	}
	_, err := c.exec.Transition(c.ctx, c.step.ID, workflow.StateCompleted, patch)
	return err
}

// Skip transitions Running->Skipped.
func (c *Context) Skip(reason string) error {
	_, err := c.exec.Transition(c.ctx, c.step.ID, workflow.StateSkipped, map[string]interface{}{
		"error_message": reason,
	})
	return err
}

// Stop transitions Running->Stopped: an operator- or policy-driven halt,
// distinct from Failed (which implies the job itself errored).
func (c *Context) Stop(reason string) error {
	_, err := c.exec.Transition(c.ctx, c.step.ID, workflow.StateStopped, map[string]interface{}{
		"error_message": reason,
	})
	return err
}

// Retry hands the failure to RetryPolicy instead of failing the step
// outright, so a transient error gets another attempt within budget.
func (c *Context) Retry(jobErr error) error {
	_, err := c.retry.HandleFailure(c.ctx, c.step.ID, jobErr)
	return err
}

// Fail transitions Running->Failed directly, bypassing RetryPolicy. Used
// by jobs whose errors are known to be non-retriable.
func (c *Context) Fail(jobErr error, stackTrace string) error {
	patch := map[string]interface{}{}
	if jobErr != nil {
		patch["error_message"] = jobErr.Error()
	}
	if stackTrace != "" {
		patch["error_stack_trace"] = stackTrace
	}
	_, err := c.exec.Transition(c.ctx, c.step.ID, workflow.StateFailed, patch)
	return err
}
