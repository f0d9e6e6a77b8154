// Package cascade implements the six cascade passes DispatcherTick runs
// before selecting new work. Each pass is a small fixed-point step over
// the step graph; running all six to a fixed point is equivalent to
// evaluating the whole graph's consequences in one shot, but a tick
// deliberately stops the moment any pass mutates state so it never does
// more than one kind of structural work in a row, keeping each tick's
// duration and blast radius predictable.
package cascade

import (
	"context"
	"errors"

	"github.com/google/uuid"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/errs"
	"github.com/stepflow/stepflow/internal/engine/transition"
	"github.com/stepflow/stepflow/internal/platform/logger"
)

// Pass names progress stages 1-6 of DispatcherTick.
type Pass int

const (
	PassSkipDescendants Pass = iota + 1
	PassCancelDownstream
	PassPromoteResolveException
	PassFailParents
	PassCascadeFailureToChildren
	PassCompleteParents
)

func (p Pass) String() string {
	switch p {
	case PassSkipDescendants:
		return "SkipDescendants"
	case PassCancelDownstream:
		return "CancelDownstream"
	case PassPromoteResolveException:
		return "PromoteResolveException"
	case PassFailParents:
		return "FailParents"
	case PassCascadeFailureToChildren:
		return "CascadeFailureToChildren"
	case PassCompleteParents:
		return "CompleteParents"
	default:
		return "unknown"
	}
}

// Engine runs the six passes. It holds no state of its own: every pass
// re-reads the graph from steps and applies writes through exec, so two
// Engines sharing a steps/exec pair are interchangeable.
type Engine struct {
	steps reposwf.StepRepository
	exec  *transition.Executor
	log   *logger.Logger
}

func NewEngine(steps reposwf.StepRepository, exec *transition.Executor, baseLog *logger.Logger) *Engine {
	return &Engine{steps: steps, exec: exec, log: baseLog.With("component", "CascadeEngine")}
}

// RunOne runs a single numbered pass and reports whether it mutated any
// step. DispatcherTick calls passes 1..6 in order and stops at the first
// mutation.
func (e *Engine) RunOne(ctx context.Context, pass Pass, group *string) (bool, error) {
	switch pass {
	case PassSkipDescendants:
		return e.SkipDescendants(ctx, group)
	case PassCancelDownstream:
		return e.CancelDownstream(ctx, group)
	case PassPromoteResolveException:
		return e.PromoteResolveException(ctx, group)
	case PassFailParents:
		return e.FailParents(ctx, group)
	case PassCascadeFailureToChildren:
		return e.CascadeFailureToChildren(ctx, group)
	case PassCompleteParents:
		return e.CompleteParents(ctx, group)
	default:
		return false, nil
	}
}

// RunToFixedPoint runs passes 1..6 in order, stopping and returning the
// first pass that mutated state. A zero Pass with mutated=false means the
// group's graph is quiescent: no cascade work remained.
func (e *Engine) RunToFixedPoint(ctx context.Context, group *string) (pass Pass, mutated bool, err error) {
	for p := PassSkipDescendants; p <= PassCompleteParents; p++ {
		m, err := e.RunOne(ctx, p, group)
		if err != nil {
			return p, false, err
		}
		if m {
			return p, true, nil
		}
	}
	return 0, false, nil
}

// collectNestedBlocks walks the block graph breadth-first starting at
// root, following child_block_uuid links, and returns every block reached
// including root itself. visited guards against cyclic layouts so a
// malformed workflow can never hang the scheduler.
func (e *Engine) collectNestedBlocks(ctx context.Context, root uuid.UUID) ([]uuid.UUID, error) {
	visited := map[uuid.UUID]bool{root: true}
	order := []uuid.UUID{root}
	queue := []uuid.UUID{root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := e.steps.ChildBlocksOf(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if visited[c] {
				continue
			}
			visited[c] = true
			order = append(order, c)
			queue = append(queue, c)
		}
	}
	return order, nil
}

// SkipDescendants is pass 1: every Skipped parent drags its entire nested
// subtree of blocks down with it, so a skip never leaves live orphaned
// work underneath it. Steps already terminal are left untouched; steps
// sitting in NotRunnable (not reachable from Skipped in the transition
// table) are force-written, since this pass applies unconditionally to
// every step in those blocks rather than being qualified by the step's
// current state the way the dispatch guard is.
func (e *Engine) SkipDescendants(ctx context.Context, group *string) (bool, error) {
	parents, err := e.steps.SelectSkippedParents(ctx, group)
	if err != nil {
		return false, err
	}

	mutated := false
	for _, p := range parents {
		if p.ChildBlockUUID == nil {
			continue
		}
		blocks, err := e.collectNestedBlocks(ctx, *p.ChildBlockUUID)
		if err != nil {
			return mutated, err
		}
		for _, b := range blocks {
			steps, err := e.steps.StepsInBlock(ctx, b)
			if err != nil {
				return mutated, err
			}
			for _, s := range steps {
				if s.State.IsTerminal() {
					continue
				}
				if _, err := e.exec.ForceTransition(ctx, s.ID, workflow.StateSkipped, nil); err != nil {
					return mutated, err
				}
				mutated = true
			}
		}
	}
	return mutated, nil
}

// CancelDownstream is pass 2: a Failed (or Stopped/Cancelled) step with a
// known index kills every later-index default-type sibling in its block,
// and also cancels the Pending steps in the immediate child block of any
// cancelled sibling that is a parent (deeper blocks are not visited). Steps that cannot legally reach Cancelled from their
// current state (e.g. already Running) are left for a later pass or for
// JobRunner's own failure handling; the guard denial is expected here, not
// an error.
func (e *Engine) CancelDownstream(ctx context.Context, group *string) (bool, error) {
	failed, err := e.steps.SelectFailedWithIndex(ctx, group)
	if err != nil {
		return false, err
	}

	mutated := false
	for _, f := range failed {
		if f.Index == nil {
			continue
		}
		candidates, err := e.steps.SelectCancelCandidates(ctx, f.BlockUUID, *f.Index)
		if err != nil {
			return mutated, err
		}
		for _, c := range candidates {
			ok, err := e.tryTransition(ctx, c.ID, workflow.StateCancelled, nil)
			if err != nil {
				return mutated, err
			}
			if !ok {
				continue
			}
			mutated = true

			if c.ChildBlockUUID == nil {
				continue
			}
			pending, err := e.steps.SelectPendingInBlock(ctx, *c.ChildBlockUUID)
			if err != nil {
				return mutated, err
			}
			for _, p := range pending {
				if _, err := e.tryTransition(ctx, p.ID, workflow.StateCancelled, nil); err != nil {
					return mutated, err
				}
			}
		}
	}
	return mutated, nil
}

// PromoteResolveException is pass 3: picks the first block (by uuid, for
// determinism) holding both a failed non-resolve-exception step and a
// NotRunnable resolve-exception step, and promotes that block's
// resolve-exception steps to Pending so they get a chance to run before
// pass 4 can fail the parent out from under them.
func (e *Engine) PromoteResolveException(ctx context.Context, group *string) (bool, error) {
	blocks, err := e.steps.SelectResolveExceptionPromotionBlocks(ctx, group)
	if err != nil {
		return false, err
	}
	if len(blocks) == 0 {
		return false, nil
	}

	block := blocks[0]
	pending, err := e.steps.SelectNotRunnableResolveExceptions(ctx, block)
	if err != nil {
		return false, err
	}

	mutated := false
	for _, s := range pending {
		ok, err := e.tryTransition(ctx, s.ID, workflow.StatePending, nil)
		if err != nil {
			return mutated, err
		}
		if ok {
			mutated = true
		}
	}
	return mutated, nil
}

// FailParents is pass 4: a Running parent whose immediate child block
// already contains a failed-bucket step is itself failed. Only the
// immediate child block is inspected; deeper failures have already
// propagated upward one level at a time across prior ticks.
func (e *Engine) FailParents(ctx context.Context, group *string) (bool, error) {
	parents, err := e.steps.SelectRunningParents(ctx, group)
	if err != nil {
		return false, err
	}

	mutated := false
	for _, p := range parents {
		if p.ChildBlockUUID == nil {
			continue
		}
		children, err := e.steps.StepsInBlock(ctx, *p.ChildBlockUUID)
		if err != nil {
			return mutated, err
		}
		anyFailed := false
		for _, c := range children {
			if c.State.IsFailedKind() {
				anyFailed = true
				break
			}
		}
		if !anyFailed {
			continue
		}
		ok, err := e.tryTransition(ctx, p.ID, workflow.StateFailed, nil)
		if err != nil {
			return mutated, err
		}
		if ok {
			mutated = true
		}
	}
	return mutated, nil
}

// CascadeFailureToChildren is pass 5: a Failed or Stopped parent fails
// every non-terminal step in its immediate child block. Pending and
// NotRunnable steps cannot reach Failed through the ordinary transition
// table (they were never dispatched), so this, like SkipDescendants, force
// -writes: the parent's failure is unconditional once pass 4 has committed
// it.
func (e *Engine) CascadeFailureToChildren(ctx context.Context, group *string) (bool, error) {
	parents, err := e.steps.SelectFailedOrStoppedParents(ctx, group)
	if err != nil {
		return false, err
	}

	mutated := false
	for _, p := range parents {
		if p.ChildBlockUUID == nil {
			continue
		}
		children, err := e.steps.SelectNonTerminalInBlock(ctx, *p.ChildBlockUUID)
		if err != nil {
			return mutated, err
		}
		for _, c := range children {
			if _, err := e.exec.ForceTransition(ctx, c.ID, workflow.StateFailed, nil); err != nil {
				return mutated, err
			}
			mutated = true
		}
	}
	return mutated, nil
}

// CompleteParents is pass 6: a Running parent whose entire nested subtree
// of blocks has concluded (no non-terminal step anywhere beneath it) is
// completed. This re-derives the same BlockFullyTerminal condition the
// Running->Completed guard checks for the immediate child block, but walks
// the whole nested subtree first so no block anywhere beneath the parent
// still holds live work. A Running inner parent counts as non-terminal, so
// an outer parent completes only once its inner parents have completed
// (within one tick only if the inner parent happens to be handled first).
func (e *Engine) CompleteParents(ctx context.Context, group *string) (bool, error) {
	parents, err := e.steps.SelectRunningParents(ctx, group)
	if err != nil {
		return false, err
	}

	mutated := false
	for _, p := range parents {
		if p.ChildBlockUUID == nil {
			continue
		}
		blocks, err := e.collectNestedBlocks(ctx, *p.ChildBlockUUID)
		if err != nil {
			return mutated, err
		}
		allConcluded := true
		for _, b := range blocks {
			steps, err := e.steps.StepsInBlock(ctx, b)
			if err != nil {
				return mutated, err
			}
			for _, s := range steps {
				if !s.State.IsTerminal() {
					allConcluded = false
					break
				}
			}
			if !allConcluded {
				break
			}
		}
		if !allConcluded {
			continue
		}
		ok, err := e.tryTransition(ctx, p.ID, workflow.StateCompleted, nil)
		if err != nil {
			return mutated, err
		}
		if ok {
			mutated = true
		}
	}
	return mutated, nil
}

// tryTransition runs a guarded transition and folds ErrGuardDenied/
// ErrStaleState into a plain "not applied" result: both are expected,
// locally-recoverable outcomes of a cascade pass racing the rest of the
// graph, not failures of the pass itself.
func (e *Engine) tryTransition(ctx context.Context, stepID uint64, to workflow.StepState, patch map[string]interface{}) (bool, error) {
	_, err := e.exec.Transition(ctx, stepID, to, patch)
	if err == nil {
		return true, nil
	}
	if isRecoverable(err) {
		return false, nil
	}
	return false, err
}

func isRecoverable(err error) bool {
	return errors.Is(err, errs.ErrGuardDenied) || errors.Is(err, errs.ErrStaleState)
}
