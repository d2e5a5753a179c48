package entries

import (
	"time"

	"github.com/google/uuid"
)

// AICallLog is one provider attempt, kept for cost attribution.
type AICallLog struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	QuickEntryID *uuid.UUID `gorm:"type:uuid;index" json:"quick_entry_id,omitempty"`
	CallType     string     `gorm:"type:text;not null;index" json:"call_type"`
	Provider     string     `gorm:"type:text;not null" json:"provider"`
	Attempt      int        `gorm:"not null" json:"attempt"`
	Success      bool       `gorm:"not null" json:"success"`
	ErrorKind    ErrorKind  `gorm:"type:text;not null;default:''" json:"error_kind,omitempty"`
	LatencyMS    int64      `gorm:"not null" json:"latency_ms"`
	CostUSD      float64    `gorm:"not null;default:0" json:"cost_usd"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
}

func (AICallLog) TableName() string { return "ai_call_log" }
