package workflow

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stepflow/stepflow/internal/domain/workflow"
)

// CooldownRepository reads/writes the singleton cooling-down flag. Every
// tick re-reads it right before acquiring a group lock, so this stays a
// single indexed-by-primary-key row lookup rather than anything cached
// in-process.
type CooldownRepository interface {
	IsCoolingDown(ctx context.Context) (bool, error)
	SetCoolingDown(ctx context.Context, on bool) error
}

type cooldownRepo struct {
	db *gorm.DB
}

func NewCooldownRepository(db *gorm.DB) CooldownRepository {
	return &cooldownRepo{db: db}
}

func (r *cooldownRepo) IsCoolingDown(ctx context.Context) (bool, error) {
	var row workflow.CoolingDown
	err := r.db.WithContext(ctx).
		Where("id = ?", workflow.CoolingDownSingletonID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.IsCoolingDown, nil
}

func (r *cooldownRepo) SetCoolingDown(ctx context.Context, on bool) error {
	row := workflow.CoolingDown{
		ID:            workflow.CoolingDownSingletonID,
		IsCoolingDown: on,
		UpdatedAt:     time.Now(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_cooling_down", "updated_at"}),
		}).
		Create(&row).Error
}
