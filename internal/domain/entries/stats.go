package entries

import (
	"time"

	"github.com/google/uuid"
)

// UserEntryStats are running per-user tallies. Rows are only ever changed by
// a single atomic increment statement.
type UserEntryStats struct {
	UserID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	TotalEntries         int64     `gorm:"not null;default:0" json:"total_entries"`
	LogEntries           int64     `gorm:"not null;default:0" json:"log_entries"`
	ChatEntries          int64     `gorm:"not null;default:0" json:"chat_entries"`
	ClarificationEntries int64     `gorm:"not null;default:0" json:"clarification_entries"`
	MealEntries          int64     `gorm:"not null;default:0" json:"meal_entries"`
	WorkoutEntries       int64     `gorm:"not null;default:0" json:"workout_entries"`
	MeasurementEntries   int64     `gorm:"not null;default:0" json:"measurement_entries"`
	NoteEntries          int64     `gorm:"not null;default:0" json:"note_entries"`
	ExtractionSuccess    int64     `gorm:"not null;default:0" json:"extraction_success"`
	ExtractionFailure    int64     `gorm:"not null;default:0" json:"extraction_failure"`
	FailedEntries        int64     `gorm:"not null;default:0" json:"failed_entries"`
	ProviderCalls        int64     `gorm:"not null;default:0" json:"provider_calls"`
	EstimatedCostUSD     float64   `gorm:"not null;default:0" json:"estimated_cost_usd"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (UserEntryStats) TableName() string { return "user_entry_stats" }

// StatsDelta is one pipeline's contribution to a user's tallies.
type StatsDelta struct {
	Total             int64
	Log               int64
	Chat              int64
	Clarification     int64
	Meal              int64
	Workout           int64
	Measurement       int64
	Note              int64
	ExtractionSuccess int64
	ExtractionFailure int64
	Failed            int64
	ProviderCalls     int64
	CostUSD           float64
}

// CountSubtype adds one to the counter for subtype.
func (d *StatsDelta) CountSubtype(st Subtype) {
	switch st {
	case SubtypeMeal:
		d.Meal++
	case SubtypeWorkout:
		d.Workout++
	case SubtypeMeasurement:
		d.Measurement++
	case SubtypeNote:
		d.Note++
	}
}

// AddAttempts folds provider attempts into the call and cost tallies.
func (d *StatsDelta) AddAttempts(attempts []Attempt) {
	for _, a := range attempts {
		d.ProviderCalls++
		d.CostUSD += a.CostUSD
	}
}
