package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/platform/logger"
)

/*
StepRepository is the persistence boundary for the scheduler: a *gorm.DB
wrapped by an interface, row locks via clause.Locking for claim-style
reads, and a single conditional-UPDATE helper (TransitionStep) that only
applies a patch if the row's state still equals the expected from-state,
since a step's legal next states depend on its current state rather than
on a fixed disallow-list.
*/
type StepRepository interface {
	// Tx returns a StepRepository bound to tx so guard queries issued while
	// holding a row lock observe the transaction's own uncommitted writes.
	Tx(tx *gorm.DB) StepRepository

	Create(ctx context.Context, steps []*workflow.Step) ([]*workflow.Step, error)
	GetByID(ctx context.Context, id uint64) (*workflow.Step, error)
	ReloadForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*workflow.Step, error)

	// TransitionStep performs the single UPDATE at the heart of
	// TransitionExecutor: it only succeeds if the row's state still equals
	// from. A false ok with a nil error means StaleState.
	TransitionStep(ctx context.Context, tx *gorm.DB, id uint64, from workflow.StepState, patch map[string]interface{}) (ok bool, fresh *workflow.Step, err error)

	SelectDispatchCandidates(ctx context.Context, group *string) ([]workflow.Step, error)
	ReportStaleDispatches(ctx context.Context, threshold time.Duration) ([]workflow.Step, error)

	// Cascade-pass selectors, each scoped to a group.
	SelectSkippedParents(ctx context.Context, group *string) ([]workflow.Step, error)
	SelectFailedWithIndex(ctx context.Context, group *string) ([]workflow.Step, error)
	SelectCancelCandidates(ctx context.Context, blockUUID uuid.UUID, afterIndex int) ([]workflow.Step, error)
	SelectPendingInBlock(ctx context.Context, blockUUID uuid.UUID) ([]workflow.Step, error)
	SelectResolveExceptionPromotionBlocks(ctx context.Context, group *string) ([]uuid.UUID, error)
	SelectNotRunnableResolveExceptions(ctx context.Context, blockUUID uuid.UUID) ([]workflow.Step, error)
	SelectRunningParents(ctx context.Context, group *string) ([]workflow.Step, error)
	SelectFailedOrStoppedParents(ctx context.Context, group *string) ([]workflow.Step, error)
	SelectNonTerminalInBlock(ctx context.Context, blockUUID uuid.UUID) ([]workflow.Step, error)
	StepsInBlock(ctx context.Context, blockUUID uuid.UUID) ([]workflow.Step, error)
	ChildBlocksOf(ctx context.Context, blockUUID uuid.UUID) ([]uuid.UUID, error)

	// GuardRepo surface (see engine/statemachine.GuardRepo).
	FindParent(ctx context.Context, blockUUID uuid.UUID) (*workflow.Step, error)
	StepsAtBlockIndex(ctx context.Context, blockUUID uuid.UUID, index int, types []workflow.StepType) ([]workflow.Step, error)
	HasPendingResolveException(ctx context.Context, blockUUID uuid.UUID) (bool, error)
	BlockFullyTerminal(ctx context.Context, blockUUID uuid.UUID) (bool, error)
}

type stepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStepRepository(db *gorm.DB, baseLog *logger.Logger) StepRepository {
	return &stepRepo{db: db, log: baseLog.With("repo", "StepRepository")}
}

func (r *stepRepo) Tx(tx *gorm.DB) StepRepository {
	return &stepRepo{db: tx, log: r.log}
}

func (r *stepRepo) Create(ctx context.Context, steps []*workflow.Step) ([]*workflow.Step, error) {
	if len(steps) == 0 {
		return steps, nil
	}
	if err := r.db.WithContext(ctx).Create(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *stepRepo) GetByID(ctx context.Context, id uint64) (*workflow.Step, error) {
	var s workflow.Step
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *stepRepo) ReloadForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*workflow.Step, error) {
	db := tx
	if db == nil {
		db = r.db
	}
	var s workflow.Step
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *stepRepo) TransitionStep(ctx context.Context, tx *gorm.DB, id uint64, from workflow.StepState, patch map[string]interface{}) (bool, *workflow.Step, error) {
	db := tx
	if db == nil {
		db = r.db
	}
	if patch == nil {
		patch = map[string]interface{}{}
	}
	if _, ok := patch["updated_at"]; !ok {
		patch["updated_at"] = time.Now()
	}
	res := db.WithContext(ctx).
		Model(&workflow.Step{}).
		Where("id = ? AND state = ?", id, from).
		Updates(patch)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil, nil
	}
	fresh, err := r.GetByID(ctx, id)
	if err != nil {
		return true, nil, err
	}
	return true, fresh, nil
}

func (r *stepRepo) SelectDispatchCandidates(ctx context.Context, group *string) ([]workflow.Step, error) {
	var out []workflow.Step
	q := r.db.WithContext(ctx).
		Where("state = ?", workflow.StatePending).
		Where("dispatch_after IS NULL OR dispatch_after < ?", time.Now())
	q = scopeGroup(q, group)
	err := q.Order("index ASC NULLS FIRST, id ASC").Find(&out).Error
	return out, err
}

func (r *stepRepo) ReportStaleDispatches(ctx context.Context, threshold time.Duration) ([]workflow.Step, error) {
	var out []workflow.Step
	cutoff := time.Now().Add(-threshold)
	err := r.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", workflow.StateDispatched, cutoff).
		Find(&out).Error
	return out, err
}

func (r *stepRepo) SelectSkippedParents(ctx context.Context, group *string) ([]workflow.Step, error) {
	var out []workflow.Step
	q := r.db.WithContext(ctx).
		Where("state = ? AND child_block_uuid IS NOT NULL", workflow.StateSkipped)
	q = scopeGroup(q, group)
	err := q.Find(&out).Error
	return out, err
}

func (r *stepRepo) SelectFailedWithIndex(ctx context.Context, group *string) ([]workflow.Step, error) {
	var out []workflow.Step
	q := r.db.WithContext(ctx).
		Where("state IN ? AND index IS NOT NULL", []workflow.StepState{
			workflow.StateFailed, workflow.StateStopped, workflow.StateCancelled,
		})
	q = scopeGroup(q, group)
	err := q.Find(&out).Error
	return out, err
}

func (r *stepRepo) SelectCancelCandidates(ctx context.Context, blockUUID uuid.UUID, afterIndex int) ([]workflow.Step, error) {
	var out []workflow.Step
	err := r.db.WithContext(ctx).
		Where("block_uuid = ? AND index > ? AND type = ?", blockUUID, afterIndex, workflow.TypeDefault).
		Where("state NOT IN ?", terminalAndNotRunnableStates()).
		Find(&out).Error
	return out, err
}

func (r *stepRepo) SelectPendingInBlock(ctx context.Context, blockUUID uuid.UUID) ([]workflow.Step, error) {
	var out []workflow.Step
	err := r.db.WithContext(ctx).
		Where("block_uuid = ? AND state = ?", blockUUID, workflow.StatePending).
		Find(&out).Error
	return out, err
}

// SelectResolveExceptionPromotionBlocks returns block uuids where (a) a
// resolve-exception step is NotRunnable and (b) a non-resolve-exception
// step is in a failed state, ordered so the caller can deterministically
// pick the first such block.
func (r *stepRepo) SelectResolveExceptionPromotionBlocks(ctx context.Context, group *string) ([]uuid.UUID, error) {
	sub := r.db.WithContext(ctx).
		Model(&workflow.Step{}).
		Select("DISTINCT block_uuid").
		Where("type = ? AND state = ?", workflow.TypeResolveException, workflow.StateNotRunnable)
	sub = scopeGroup(sub, group)

	failedSub := r.db.WithContext(ctx).
		Model(&workflow.Step{}).
		Select("DISTINCT block_uuid").
		Where("type <> ? AND state IN ?", workflow.TypeResolveException, failedBucketStates())
	failedSub = scopeGroup(failedSub, group)

	var blockUUIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Table("(?) AS a", sub).
		Joins("JOIN (?) AS b ON a.block_uuid = b.block_uuid", failedSub).
		Order("a.block_uuid ASC").
		Pluck("a.block_uuid", &blockUUIDs).Error
	return blockUUIDs, err
}

func (r *stepRepo) SelectNotRunnableResolveExceptions(ctx context.Context, blockUUID uuid.UUID) ([]workflow.Step, error) {
	var out []workflow.Step
	err := r.db.WithContext(ctx).
		Where("block_uuid = ? AND type = ? AND state = ?", blockUUID, workflow.TypeResolveException, workflow.StateNotRunnable).
		Find(&out).Error
	return out, err
}

func (r *stepRepo) SelectRunningParents(ctx context.Context, group *string) ([]workflow.Step, error) {
	var out []workflow.Step
	q := r.db.WithContext(ctx).
		Where("state = ? AND child_block_uuid IS NOT NULL", workflow.StateRunning)
	q = scopeGroup(q, group)
	err := q.Find(&out).Error
	return out, err
}

func (r *stepRepo) SelectFailedOrStoppedParents(ctx context.Context, group *string) ([]workflow.Step, error) {
	var out []workflow.Step
	q := r.db.WithContext(ctx).
		Where("state IN ? AND child_block_uuid IS NOT NULL", []workflow.StepState{workflow.StateFailed, workflow.StateStopped})
	q = scopeGroup(q, group)
	err := q.Find(&out).Error
	return out, err
}

func (r *stepRepo) SelectNonTerminalInBlock(ctx context.Context, blockUUID uuid.UUID) ([]workflow.Step, error) {
	var out []workflow.Step
	err := r.db.WithContext(ctx).
		Where("block_uuid = ? AND state NOT IN ?", blockUUID, terminalStates()).
		Find(&out).Error
	return out, err
}

func (r *stepRepo) StepsInBlock(ctx context.Context, blockUUID uuid.UUID) ([]workflow.Step, error) {
	var out []workflow.Step
	err := r.db.WithContext(ctx).Where("block_uuid = ?", blockUUID).Find(&out).Error
	return out, err
}

func (r *stepRepo) ChildBlocksOf(ctx context.Context, blockUUID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&workflow.Step{}).
		Where("block_uuid = ? AND child_block_uuid IS NOT NULL", blockUUID).
		Pluck("child_block_uuid", &out).Error
	return out, err
}

func (r *stepRepo) FindParent(ctx context.Context, blockUUID uuid.UUID) (*workflow.Step, error) {
	var s workflow.Step
	err := r.db.WithContext(ctx).Where("child_block_uuid = ?", blockUUID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *stepRepo) StepsAtBlockIndex(ctx context.Context, blockUUID uuid.UUID, index int, types []workflow.StepType) ([]workflow.Step, error) {
	var out []workflow.Step
	q := r.db.WithContext(ctx).Where("block_uuid = ? AND index = ?", blockUUID, index)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *stepRepo) HasPendingResolveException(ctx context.Context, blockUUID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&workflow.Step{}).
		Where("block_uuid = ? AND type = ? AND state = ?", blockUUID, workflow.TypeResolveException, workflow.StatePending).
		Count(&count).Error
	return count > 0, err
}

func (r *stepRepo) BlockFullyTerminal(ctx context.Context, blockUUID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&workflow.Step{}).
		Where("block_uuid = ? AND state NOT IN ?", blockUUID, terminalStates()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func scopeGroup(q *gorm.DB, group *string) *gorm.DB {
	if group == nil {
		return q
	}
	if *group == "" {
		return q.Where(`"group" IS NULL`)
	}
	return q.Where(`"group" = ?`, *group)
}

func terminalStates() []workflow.StepState {
	return []workflow.StepState{
		workflow.StateCompleted, workflow.StateSkipped,
		workflow.StateFailed, workflow.StateStopped, workflow.StateCancelled,
	}
}

func failedBucketStates() []workflow.StepState {
	return []workflow.StepState{workflow.StateFailed, workflow.StateStopped, workflow.StateCancelled}
}

func terminalAndNotRunnableStates() []workflow.StepState {
	return append(terminalStates(), workflow.StateNotRunnable)
}
