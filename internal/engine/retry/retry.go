// Package retry implements RetryPolicy: bounded retry with exponential
// backoff, exposed as a helper a job body calls when its work function
// fails instead of transitioning the step itself.
package retry

import (
	"context"
	"math"
	"time"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/transition"
)

// Strategy computes the delay before the nth retry (n is the retry count
// after incrementing, so n=1 is the delay before the first retry).
type Strategy func(n int, ceiling time.Duration) time.Duration

// Exponential doubles the base delay per attempt, capped at ceiling:
// 1s, 2s, 4s, 8s, ... until ceiling.
func Exponential(base time.Duration) Strategy {
	return func(n int, ceiling time.Duration) time.Duration {
		if n < 1 {
			n = 1
		}
		d := time.Duration(float64(base) * math.Pow(2, float64(n-1)))
		if ceiling > 0 && d > ceiling {
			return ceiling
		}
		return d
	}
}

// Fixed retries at a constant interval. A Policy applies the one Strategy
// it was built with to every step it handles; a step's execution_mode is
// not consulted when choosing between Fixed and Exponential.
func Fixed(interval time.Duration) Strategy {
	return func(_ int, _ time.Duration) time.Duration { return interval }
}

const DefaultCeiling = 5 * time.Minute

// Policy wraps an Executor with the retry-or-fail decision. It reads the
// step to check its retry budget but never writes it directly; every
// mutation still goes through
// Executor.Transition so retries get the same guard and ledger treatment
// as any other move.
type Policy struct {
	exec     *transition.Executor
	steps    reposwf.StepRepository
	strategy Strategy
	ceiling  time.Duration
}

func NewPolicy(exec *transition.Executor, steps reposwf.StepRepository, strategy Strategy, ceiling time.Duration) *Policy {
	if strategy == nil {
		strategy = Exponential(time.Second)
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Policy{exec: exec, steps: steps, strategy: strategy, ceiling: ceiling}
}

// HandleFailure is called by a job body (through Context.Retry) instead of
// writing Failed directly; JobRunner's own handling of an uncaught error
// fails the step without calling it. If the step has budget left
// it goes back to Pending with retries incremented and dispatch_after
// pushed out; otherwise it is failed for good.
func (p *Policy) HandleFailure(ctx context.Context, stepID uint64, jobErr error) (*workflow.Step, error) {
	step, err := p.steps.GetByID(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, nil
	}

	message := ""
	if jobErr != nil {
		message = jobErr.Error()
	}

	if step.Retries < step.MaxRetries {
		nextRetries := step.Retries + 1
		delay := p.strategy(nextRetries, p.ceiling)
		dispatchAfter := time.Now().Add(delay)
		return p.exec.Transition(ctx, stepID, workflow.StatePending, map[string]interface{}{
			"retries":        nextRetries,
			"dispatch_after": dispatchAfter,
			"error_message":  message,
			"started_at":     nil,
			"completed_at":   nil,
			"duration_ms":    nil,
		})
	}

	return p.exec.Transition(ctx, stepID, workflow.StateFailed, map[string]interface{}{
		"error_message": message,
	})
}
