package workflow

import "time"

/*
DispatchGroup (steps_dispatcher in the source schema) is the row-level lock
and fairness bookkeeping for one scheduler group. CanDispatch is the
authoritative mutual-exclusion flag: acquireGroupLock flips it
false->true and creates a Tick; releaseGroupLock flips it back. No two
ticks for the same group ever run concurrently because both operations are
single conditional UPDATEs against this row.

LastSelectedAt drives GroupScheduler's round-robin: the group with the
oldest LastSelectedAt (nulls first) is picked next, ties broken lexically
by Group.
*/
type DispatchGroup struct {
	Group             string     `gorm:"column:group;primaryKey" json:"group"`
	CanDispatch       bool       `gorm:"column:can_dispatch;not null;default:false;index" json:"can_dispatch"`
	CurrentTickID     *uint64    `gorm:"column:current_tick_id" json:"current_tick_id,omitempty"`
	LastTickCompleted *time.Time `gorm:"column:last_tick_completed" json:"last_tick_completed,omitempty"`
	LastSelectedAt    *time.Time `gorm:"column:last_selected_at;index" json:"last_selected_at,omitempty"`
}

func (DispatchGroup) TableName() string { return "steps_dispatcher" }

// NullGroup is the sentinel group name used for ungrouped steps; it is
// scheduled just like any other group, so ungrouped work still gets its
// own fair turn in the round-robin rotation.
const NullGroup = ""
