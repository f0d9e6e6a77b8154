// Package notify defines StepNotifier, an interface-only notification
// surface kept deliberately thin: nothing in the engine depends on a
// concrete implementation; TransitionExecutor
// accepts one and calls it best-effort after a commit.
package notify

import (
	"context"

	"github.com/stepflow/stepflow/internal/domain/workflow"
)

// StepNotifier is told about committed state changes. Implementations
// must not block the caller for long or return an error that aborts the
// transition that already committed; a failed notification is a
// logging/observability concern, never a store rollback.
type StepNotifier interface {
	StepTransitioned(ctx context.Context, step *workflow.Step, from workflow.StepState)
}

// Noop satisfies StepNotifier without doing anything, the default when no
// external sink is configured.
type Noop struct{}

func (Noop) StepTransitioned(context.Context, *workflow.Step, workflow.StepState) {}
