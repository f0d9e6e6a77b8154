package workflow

import "time"

// Tick is one attempted dispatch cycle for a single group (steps_dispatcher_ticks
// in the source schema). Progress marks the furthest numbered stage
// DispatcherTick reached (0 through 9, see engine/dispatcher).
type Tick struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Group       *string    `gorm:"column:group;index" json:"group,omitempty"`
	StartedAt   time.Time  `gorm:"not null;default:now()" json:"started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Progress    int        `gorm:"column:progress;not null;default:0" json:"progress"`
	DurationMS  *int64     `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
}

func (Tick) TableName() string { return "steps_dispatcher_ticks" }
