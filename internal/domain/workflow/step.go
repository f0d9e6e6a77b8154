package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StepState is the lifecycle state of a Step. Values are persisted and must
// be stable across deployments.
type StepState string

const (
	StatePending     StepState = "pending"
	StateNotRunnable StepState = "not_runnable"
	StateDispatched  StepState = "dispatched"
	StateRunning     StepState = "running"
	StateCompleted   StepState = "completed"
	StateSkipped     StepState = "skipped"
	StateFailed      StepState = "failed"
	StateStopped     StepState = "stopped"
	StateCancelled   StepState = "cancelled"
)

// activeStates, concludedStates and failedStates partition every StepState
// into the three buckets a step can occupy (see the Step doc comment).
var (
	activeStates = map[StepState]bool{
		StatePending:     true,
		StateNotRunnable: true,
		StateDispatched:  true,
		StateRunning:     true,
	}
	concludedStates = map[StepState]bool{
		StateCompleted: true,
		StateSkipped:   true,
	}
	failedStates = map[StepState]bool{
		StateFailed:    true,
		StateStopped:   true,
		StateCancelled: true,
	}
)

func (s StepState) IsActive() bool    { return activeStates[s] }
func (s StepState) IsConcluded() bool { return concludedStates[s] }
func (s StepState) IsFailedKind() bool {
	return failedStates[s]
}
func (s StepState) IsTerminal() bool { return s.IsConcluded() || s.IsFailedKind() }

// StepType distinguishes an ordinary unit of work from a resolve-exception
// slot, which only ever runs in response to a sibling's failure.
type StepType string

const (
	TypeDefault          StepType = "default"
	TypeResolveException StepType = "resolve-exception"
)

// StepPriority is an operator-facing hint; the scheduler itself only uses
// group fairness (see engine/scheduler), priority is read by queue
// consumers that choose to honor it.
type StepPriority string

const (
	PriorityDefault StepPriority = "default"
	PriorityHigh    StepPriority = "high"
)

// SyncQueue is the sentinel queue name meaning "do not enqueue, run inline".
const SyncQueue = "sync"

/*
Step is the central entity of the scheduler. A step belongs to a block
(block_uuid, a sibling group) and, optionally, spawns another block
(child_block_uuid) — this is how workflows nest. Steps within a block with
a non-null Index form a total order per StepType; dispatch of index k is
gated on every step at index k-1 (of the relevant type) being concluded.

A step is in exactly one StepState at any moment. See StepState for the
active/concluded/failed partition this invariant relies on.
*/
type Step struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Canonical *string `gorm:"column:canonical;uniqueIndex:idx_step_workflow_canonical,priority:2" json:"canonical,omitempty"`

	WorkflowID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_step_workflow_canonical,priority:1" json:"workflow_id"`

	BlockUUID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_step_block_index_type_state,priority:1;index:idx_step_block_child,priority:1" json:"block_uuid"`
	ChildBlockUUID *uuid.UUID `gorm:"type:uuid;index:idx_step_child_block_state,priority:1;index:idx_step_block_child,priority:2" json:"child_block_uuid,omitempty"`
	Index          *int       `gorm:"column:index;index:idx_step_block_index_type_state,priority:2" json:"index,omitempty"`

	Type          StepType     `gorm:"column:type;not null;default:default;index:idx_step_block_index_type_state,priority:3;index:idx_step_state_group_dispatch_type,priority:4" json:"type"`
	ExecutionMode string       `gorm:"column:execution_mode;not null;default:default" json:"execution_mode"`
	Group         *string      `gorm:"column:group;index:idx_step_state_group_dispatch_type,priority:2" json:"group,omitempty"`
	State         StepState    `gorm:"column:state;not null;index:idx_step_block_index_type_state,priority:4;index:idx_step_child_block_state,priority:2;index:idx_step_state_group_dispatch_type,priority:1" json:"state"`
	Queue         string       `gorm:"column:queue;not null;default:sync" json:"queue"`
	Class         string       `gorm:"column:class;not null" json:"class"`
	Arguments     datatypes.JSON `gorm:"column:arguments;type:jsonb" json:"arguments,omitempty"`
	Priority      StepPriority `gorm:"column:priority;not null;default:default" json:"priority"`
	CanCoolDown   bool         `gorm:"column:can_cool_down;not null;default:true" json:"can_cool_down"`

	DispatchAfter *time.Time `gorm:"column:dispatch_after;index:idx_step_state_group_dispatch_type,priority:3" json:"dispatch_after,omitempty"`
	StartedAt     *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DurationMS    *int64     `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	Retries       int        `gorm:"column:retries;not null;default:0" json:"retries"`
	MaxRetries    int        `gorm:"column:max_retries;not null;default:0" json:"max_retries"`
	TickID        *uint64    `gorm:"column:tick_id;index" json:"tick_id,omitempty"`
	Hostname      string     `gorm:"column:hostname" json:"hostname,omitempty"`

	Response        datatypes.JSON `gorm:"column:response;type:jsonb" json:"response,omitempty"`
	ErrorMessage    string         `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	ErrorStackTrace string         `gorm:"column:error_stack_trace;type:text" json:"error_stack_trace,omitempty"`
	StepLog         datatypes.JSON `gorm:"column:step_log;type:jsonb" json:"step_log,omitempty"`

	// Polymorphic relation to whatever business entity this step acts on.
	// The engine never dereferences it; it only stores and indexes it.
	RelatableType string     `gorm:"column:relatable_type;index:idx_step_relatable,priority:1" json:"relatable_type,omitempty"`
	RelatableID   *uuid.UUID `gorm:"type:uuid;column:relatable_id;index:idx_step_relatable,priority:2" json:"relatable_id,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Step) TableName() string { return "steps" }

// IsParent reports whether this step spawns another block.
func (s *Step) IsParent() bool { return s.ChildBlockUUID != nil }

// IsResolveException reports whether this step is an error-recovery slot.
func (s *Step) IsResolveException() bool { return s.Type == TypeResolveException }
