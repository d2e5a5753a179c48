package domain

import "github.com/yungbote/quickentry-backend/internal/domain/entries"

type (
	QuickEntry        = entries.QuickEntry
	Classification    = entries.Classification
	Record            = entries.Record
	MealRecord        = entries.MealRecord
	WorkoutRecord     = entries.WorkoutRecord
	MeasurementRecord = entries.MeasurementRecord
	NoteRecord        = entries.NoteRecord
	EntryEmbedding    = entries.EntryEmbedding
	UserEntryStats    = entries.UserEntryStats
	AICallLog         = entries.AICallLog
	PatternEstimate   = entries.PatternEstimate
)

// Models lists every persisted model, in migration order.
func Models() []any {
	return []any{
		&entries.QuickEntry{},
		&entries.MealRecord{},
		&entries.WorkoutRecord{},
		&entries.MeasurementRecord{},
		&entries.NoteRecord{},
		&entries.EntryEmbedding{},
		&entries.UserEntryStats{},
		&entries.AICallLog{},
	}
}
