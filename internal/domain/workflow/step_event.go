package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StepEventKind tags the append-only ledger row TransitionExecutor writes
// alongside every committed transition. This is the minimal timeline an
// operator UI or an external observability channel can read without the
// engine itself owning a notification subsystem.
type StepEventKind string

const (
	StepEventTransitioned   StepEventKind = "transitioned"
	StepEventDispatchFailed StepEventKind = "dispatch_failed"
	StepEventCascadeApplied StepEventKind = "cascade_applied"
)

// StepEvent is an append-only ledger row: one per committed transition.
type StepEvent struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	StepID     uint64         `gorm:"not null;index" json:"step_id"`
	WorkflowID uuid.UUID      `gorm:"type:uuid;not null;index" json:"workflow_id"`
	Kind       StepEventKind  `gorm:"column:kind;not null" json:"kind"`
	FromState  StepState      `gorm:"column:from_state" json:"from_state,omitempty"`
	ToState    StepState      `gorm:"column:to_state" json:"to_state,omitempty"`
	TickID     *uint64        `gorm:"column:tick_id;index" json:"tick_id,omitempty"`
	Message    string         `gorm:"column:message;type:text" json:"message,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (StepEvent) TableName() string { return "step_events" }
