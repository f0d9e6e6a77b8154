package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/engine/errs"
	"github.com/stepflow/stepflow/internal/platform/logger"
)

/*
DispatchRepository owns the per-group lock (steps_dispatcher) and tick
bookkeeping (steps_dispatcher_ticks), plus the round-robin fairness state
GroupScheduler reads. AcquireGroupLock/ReleaseGroupLock both follow the
same db.Transaction + conditional-UPDATE shape: flip a boolean guard
column only if it's still in the expected state, so two callers racing on
the same group can never both believe they hold the lock.
*/
type DispatchRepository interface {
	EnsureGroupRow(ctx context.Context, group string) error
	AcquireGroupLock(ctx context.Context, group string) (tickID uint64, err error)
	ReleaseGroupLock(ctx context.Context, group string, tickID uint64, progress int) error

	// OldestGroup returns the group with the oldest LastSelectedAt (nulls
	// first), tie-broken lexically. ok is false if no group rows exist yet.
	OldestGroup(ctx context.Context) (group string, ok bool, err error)
	TouchSelected(ctx context.Context, group string, at time.Time) error
}

type dispatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDispatchRepository(db *gorm.DB, baseLog *logger.Logger) DispatchRepository {
	return &dispatchRepo{db: db, log: baseLog.With("repo", "DispatchRepository")}
}

func (r *dispatchRepo) EnsureGroupRow(ctx context.Context, group string) error {
	return r.db.WithContext(ctx).
		Clauses(onConflictDoNothingGroup()).
		Create(&workflow.DispatchGroup{Group: group}).Error
}

// AcquireGroupLock is a single conditional UPDATE (can_dispatch=false ->
// true) inside a transaction, followed by creating the Tick row and
// stamping its id back onto the
// group row. Returns ErrAlreadyDispatching when the flag was already set.
func (r *dispatchRepo) AcquireGroupLock(ctx context.Context, group string) (uint64, error) {
	var tickID uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&workflow.DispatchGroup{}).
			Where(`"group" = ? AND can_dispatch = ?`, group, false).
			Update("can_dispatch", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrAlreadyDispatching
		}

		tick := &workflow.Tick{Group: &group, StartedAt: time.Now()}
		if err := tx.Create(tick).Error; err != nil {
			return err
		}
		tickID = tick.ID

		return tx.Model(&workflow.DispatchGroup{}).
			Where(`"group" = ?`, group).
			Update("current_tick_id", tickID).Error
	})
	if err != nil {
		return 0, err
	}
	return tickID, nil
}

// ReleaseGroupLock always flips can_dispatch back to false, even if the
// tick row update fails, so a failed tick never leaves a group wedged.
// A release with no matching locked row is a no-op, so it's safe to call
// more than once for the same tick.
func (r *dispatchRepo) ReleaseGroupLock(ctx context.Context, group string, tickID uint64, progress int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tick workflow.Tick
		err := tx.Where("id = ?", tickID).First(&tick).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && tick.CompletedAt == nil {
			durMS := now.Sub(tick.StartedAt).Milliseconds()
			// Written under a savepoint so a failed tick update rolls back on
			// its own and the flag flip below still commits.
			if uerr := tx.Transaction(func(sp *gorm.DB) error {
				return sp.Model(&workflow.Tick{}).Where("id = ?", tickID).Updates(map[string]interface{}{
					"completed_at": now,
					"progress":     progress,
					"duration_ms":  durMS,
				}).Error
			}); uerr != nil {
				r.log.Error("release: tick row update failed", "tick_id", tickID, "error", uerr)
			}
		}

		return tx.Model(&workflow.DispatchGroup{}).
			Where(`"group" = ? AND can_dispatch = ? AND current_tick_id = ?`, group, true, tickID).
			Updates(map[string]interface{}{
				"can_dispatch":        false,
				"current_tick_id":     nil,
				"last_tick_completed": now,
			}).Error
	})
}

func (r *dispatchRepo) OldestGroup(ctx context.Context) (string, bool, error) {
	var g workflow.DispatchGroup
	err := r.db.WithContext(ctx).
		Where("can_dispatch = ?", false).
		Order(`last_selected_at ASC NULLS FIRST, "group" ASC`).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return g.Group, true, nil
}

func (r *dispatchRepo) TouchSelected(ctx context.Context, group string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&workflow.DispatchGroup{}).
		Where(`"group" = ?`, group).
		Update("last_selected_at", at).Error
}

func onConflictDoNothingGroup() clause.OnConflict {
	return clause.OnConflict{Columns: []clause.Column{{Name: "group"}}, DoNothing: true}
}
