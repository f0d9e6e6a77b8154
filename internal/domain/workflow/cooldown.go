package workflow

import "time"

// CoolingDown is a singleton row (martingalian.is_cooling_down in the
// source schema). When IsCoolingDown is true the scheduler runs no new
// ticks; in-flight ticks complete normally.
type CoolingDown struct {
	ID            int       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	IsCoolingDown bool      `gorm:"column:is_cooling_down;not null;default:false" json:"is_cooling_down"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CoolingDown) TableName() string { return "cooling_down" }

// CoolingDownSingletonID is the fixed primary key of the one CoolingDown row.
const CoolingDownSingletonID = 1
