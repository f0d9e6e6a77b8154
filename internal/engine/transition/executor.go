// Package transition applies Step transitions atomically: re-read the row
// under lock, re-check the guard, write the new state in a single UPDATE,
// append a ledger row. It is a single guarded-write primitive generalized
// from fixed lifecycle moves like "mark running" or "mark failed" into the
// general (fromState, toState) table of engine/statemachine, so every
// caller gets the same locking and ledger discipline regardless of which
// edge of the lifecycle it's walking.
package transition

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/errs"
	"github.com/stepflow/stepflow/internal/engine/statemachine"
	"github.com/stepflow/stepflow/internal/notify"
	"github.com/stepflow/stepflow/internal/platform/logger"
)

// Executor applies one transition(step, targetState) -> Step operation.
// It fails with a wrapped ErrGuardDenied, ErrStaleState, or a
// *errs.StoreError.
type Executor struct {
	db     *gorm.DB
	steps  reposwf.StepRepository
	notify notify.StepNotifier
	log    *logger.Logger
}

func NewExecutor(db *gorm.DB, steps reposwf.StepRepository, notifier notify.StepNotifier, baseLog *logger.Logger) *Executor {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Executor{db: db, steps: steps, notify: notifier, log: baseLog.With("component", "TransitionExecutor")}
}

// Transition moves stepID to the target state, applying any extra field
// patch (e.g. hostname/started_at) atomically with the state write.
func (e *Executor) Transition(ctx context.Context, stepID uint64, to workflow.StepState, patch map[string]interface{}) (*workflow.Step, error) {
	if patch == nil {
		patch = map[string]interface{}{}
	}

	var result *workflow.Step
	var from workflow.StepState
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := e.steps.Tx(tx)

		step, err := txRepo.ReloadForUpdate(ctx, tx, stepID)
		if err != nil {
			return errs.NewStoreError(err, true)
		}
		if step == nil {
			return fmt.Errorf("%w: step %d not found", errs.ErrStaleState, stepID)
		}

		if err := statemachine.CheckGuard(ctx, txRepo, step, to); err != nil {
			if errors.Is(err, errs.ErrGuardDenied) {
				return err
			}
			return errs.NewStoreError(err, true)
		}

		patch["state"] = to
		ok, fresh, err := txRepo.TransitionStep(ctx, tx, stepID, step.State, patch)
		if err != nil {
			return errs.NewStoreError(err, false)
		}
		if !ok {
			return fmt.Errorf("%w: step %d state changed before commit", errs.ErrStaleState, stepID)
		}

		ev := &workflow.StepEvent{
			StepID:     stepID,
			WorkflowID: fresh.WorkflowID,
			Kind:       workflow.StepEventTransitioned,
			FromState:  step.State,
			ToState:    to,
			TickID:     fresh.TickID,
		}
		if err := tx.Create(ev).Error; err != nil {
			return errs.NewStoreError(err, false)
		}

		from = step.State
		result = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.notify.StepTransitioned(ctx, result, from)
	return result, nil
}

// ForceTransition writes a state directly without consulting the legal
// transition table, for the handful of cascade-driven moves applied
// unconditionally (e.g. skipping a NotRunnable resolve-exception step, or
// failing a still-Pending child when its parent fails) that the ordinary
// transition table does not otherwise reach. It keeps the same optimistic
// concurrency (WHERE state = current) and ledger-append guarantees as
// Transition; only the guard/table check is skipped.
func (e *Executor) ForceTransition(ctx context.Context, stepID uint64, to workflow.StepState, patch map[string]interface{}) (*workflow.Step, error) {
	if patch == nil {
		patch = map[string]interface{}{}
	}

	var result *workflow.Step
	var from workflow.StepState
	noop := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := e.steps.Tx(tx)

		step, err := txRepo.ReloadForUpdate(ctx, tx, stepID)
		if err != nil {
			return errs.NewStoreError(err, true)
		}
		if step == nil {
			return fmt.Errorf("%w: step %d not found", errs.ErrStaleState, stepID)
		}
		if step.State == to {
			result = step
			noop = true
			return nil
		}

		patch["state"] = to
		ok, fresh, err := txRepo.TransitionStep(ctx, tx, stepID, step.State, patch)
		if err != nil {
			return errs.NewStoreError(err, false)
		}
		if !ok {
			return fmt.Errorf("%w: step %d state changed before commit", errs.ErrStaleState, stepID)
		}

		ev := &workflow.StepEvent{
			StepID:     stepID,
			WorkflowID: fresh.WorkflowID,
			Kind:       workflow.StepEventCascadeApplied,
			FromState:  step.State,
			ToState:    to,
			TickID:     fresh.TickID,
		}
		if err := tx.Create(ev).Error; err != nil {
			return errs.NewStoreError(err, false)
		}

		from = step.State
		result = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !noop {
		e.notify.StepTransitioned(ctx, result, from)
	}
	return result, nil
}
