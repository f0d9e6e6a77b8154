// Package statemachine encodes Step states as a tagged sum, the legal
// transitions between them as a table held in one place, and the two
// non-trivial guards (Pending->Dispatched, Running->Completed) as pure
// predicates over a step and a read-only repository handle. Keeping the
// table and the guards separate from anything that writes to the database
// makes the legality of a move testable without a transaction in sight.
package statemachine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/errs"
)

// GuardRepo is the narrow read-only surface the guards need. StepRepository
// (internal/data/repos/workflow) satisfies it; tests can fake it directly.
type GuardRepo interface {
	// FindParent returns the step P with P.ChildBlockUUID == blockUUID, or
	// nil if no such step exists.
	FindParent(ctx context.Context, blockUUID uuid.UUID) (*workflow.Step, error)

	// StepsAtBlockIndex returns every step in blockUUID at the given index,
	// optionally restricted to the given types (nil/empty means no filter).
	StepsAtBlockIndex(ctx context.Context, blockUUID uuid.UUID, index int, types []workflow.StepType) ([]workflow.Step, error)

	// HasPendingResolveException reports whether any resolve-exception step
	// in blockUUID is currently Pending.
	HasPendingResolveException(ctx context.Context, blockUUID uuid.UUID) (bool, error)

	// BlockFullyTerminal reports whether every step in blockUUID is in a
	// terminal state. An empty (nonexistent) block counts as fully terminal.
	BlockFullyTerminal(ctx context.Context, blockUUID uuid.UUID) (bool, error)
}

// transitionTable lists every legal (from, to) pair in the step lifecycle.
var transitionTable = map[workflow.StepState]map[workflow.StepState]bool{
	workflow.StatePending: {
		workflow.StateDispatched:  true,
		workflow.StateSkipped:     true,
		workflow.StateCancelled:   true,
		workflow.StateNotRunnable: true,
	},
	workflow.StateNotRunnable: {
		workflow.StatePending: true,
	},
	workflow.StateDispatched: {
		workflow.StateRunning:   true,
		workflow.StateFailed:    true,
		workflow.StateCancelled: true,
		workflow.StateSkipped:   true,
	},
	workflow.StateRunning: {
		workflow.StateCompleted: true,
		workflow.StateFailed:    true,
		workflow.StateSkipped:   true,
		workflow.StateStopped:   true,
		workflow.StatePending:   true,
		workflow.StateRunning:   true,
	},
	workflow.StateCompleted: {},
	workflow.StateSkipped:   {},
	workflow.StateFailed:    {},
	workflow.StateStopped:   {},
	workflow.StateCancelled: {},
}

// Guard is a pure predicate over a step and a repository handle.
type Guard func(ctx context.Context, repo GuardRepo, s *workflow.Step) (bool, error)

type transitionKey struct {
	from workflow.StepState
	to   workflow.StepState
}

var guards = map[transitionKey]Guard{
	{workflow.StatePending, workflow.StateDispatched}: guardPendingToDispatched,
	{workflow.StateRunning, workflow.StateCompleted}:  guardRunningToCompleted,
}

// IsLegalTransition reports whether the table contains (from, to). It does
// not evaluate guards.
func IsLegalTransition(from, to workflow.StepState) bool {
	targets, ok := transitionTable[from]
	if !ok {
		return false
	}
	return targets[to]
}

// CheckGuard evaluates the table membership and, if one is registered for
// (from, to), the guard predicate. Transitions with no registered guard are
// allowed unconditionally once legality is established (e.g.
// Dispatched->Running, Running->Pending, NotRunnable->Pending,
// Pending->Cancelled).
func CheckGuard(ctx context.Context, repo GuardRepo, s *workflow.Step, to workflow.StepState) error {
	if s == nil {
		return fmt.Errorf("%w: nil step", errs.ErrGuardDenied)
	}
	if !IsLegalTransition(s.State, to) {
		return fmt.Errorf("%w: %s->%s is not a legal transition", errs.ErrGuardDenied, s.State, to)
	}
	guard, ok := guards[transitionKey{s.State, to}]
	if !ok {
		return nil
	}
	ok2, err := guard(ctx, repo, s)
	if err != nil {
		return err
	}
	if !ok2 {
		return fmt.Errorf("%w: %s->%s guard rejected step %d", errs.ErrGuardDenied, s.State, to, s.ID)
	}
	return nil
}

// blockRole is a step's Orphan/Child/Parent classification within its
// enclosing block, used to pick which dispatch guard applies.
type blockRole int

const (
	roleOrphan blockRole = iota
	roleChild
	roleParent
)

func classify(ctx context.Context, repo GuardRepo, s *workflow.Step) (blockRole, *workflow.Step, error) {
	parent, err := repo.FindParent(ctx, s.BlockUUID)
	if err != nil {
		return roleOrphan, nil, err
	}
	switch {
	case parent == nil && s.ChildBlockUUID == nil:
		return roleOrphan, nil, nil
	case parent != nil:
		return roleChild, parent, nil
	default:
		return roleParent, nil, nil
	}
}

// previousIndexConcluded reports whether the step at the previous index in
// this block has reached a concluded state, used by the
// Orphan/Child/Parent branches of the Pending->Dispatched guard. It does
// not apply to resolve-exception steps, which have their own bespoke rule
// evaluated earlier in guardPendingToDispatched.
func previousIndexConcluded(ctx context.Context, repo GuardRepo, s *workflow.Step) (bool, error) {
	if s.Index == nil || *s.Index <= 1 {
		return true, nil
	}
	prevIndex := *s.Index - 1

	wantTypes := []workflow.StepType{workflow.TypeDefault}
	hasPendingRE, err := repo.HasPendingResolveException(ctx, s.BlockUUID)
	if err != nil {
		return false, err
	}
	if hasPendingRE {
		wantTypes = []workflow.StepType{workflow.TypeResolveException}
	}

	ps, err := repo.StepsAtBlockIndex(ctx, s.BlockUUID, prevIndex, wantTypes)
	if err != nil {
		return false, err
	}
	if len(ps) == 0 {
		return false, nil
	}
	for _, p := range ps {
		if !p.State.IsConcluded() {
			return false, nil
		}
	}
	return true, nil
}

func guardPendingToDispatched(ctx context.Context, repo GuardRepo, s *workflow.Step) (bool, error) {
	if s.Type == workflow.TypeResolveException {
		if s.Index == nil {
			return true, nil
		}
		if *s.Index <= 1 {
			return true, nil
		}
		prev, err := repo.StepsAtBlockIndex(ctx, s.BlockUUID, *s.Index-1, []workflow.StepType{workflow.TypeResolveException})
		if err != nil {
			return false, err
		}
		if len(prev) == 0 {
			return false, nil
		}
		for _, p := range prev {
			if !p.State.IsConcluded() {
				return false, nil
			}
		}
		return true, nil
	}

	role, parent, err := classify(ctx, repo, s)
	if err != nil {
		return false, err
	}
	switch role {
	case roleOrphan:
		if s.Index == nil {
			return true, nil
		}
		return previousIndexConcluded(ctx, repo, s)
	case roleChild:
		if parent == nil || (parent.State != workflow.StateRunning && parent.State != workflow.StateCompleted) {
			return false, nil
		}
		return previousIndexConcluded(ctx, repo, s)
	default: // roleParent
		return previousIndexConcluded(ctx, repo, s)
	}
}

func guardRunningToCompleted(ctx context.Context, repo GuardRepo, s *workflow.Step) (bool, error) {
	if s.ChildBlockUUID == nil {
		return true, nil
	}
	return repo.BlockFullyTerminal(ctx, *s.ChildBlockUUID)
}
