package stats

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	types "github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type UserEntryStatsRepo interface {
	// Increment applies delta in a single INSERT ... ON CONFLICT statement so
	// concurrent pipelines for one user never lose an update.
	Increment(dbc dbctx.Context, userID uuid.UUID, delta types.StatsDelta) error
	Get(dbc dbctx.Context, userID uuid.UUID) (*types.UserEntryStats, error)
}

type userEntryStatsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserEntryStatsRepo(db *gorm.DB, baseLog *logger.Logger) UserEntryStatsRepo {
	return &userEntryStatsRepo{
		db:  db,
		log: baseLog.With("repo", "UserEntryStatsRepo"),
	}
}

var counterColumns = []string{
	"total_entries",
	"log_entries",
	"chat_entries",
	"clarification_entries",
	"meal_entries",
	"workout_entries",
	"measurement_entries",
	"note_entries",
	"extraction_success",
	"extraction_failure",
	"failed_entries",
	"provider_calls",
	"estimated_cost_usd",
}

func (r *userEntryStatsRepo) Increment(dbc dbctx.Context, userID uuid.UUID, delta types.StatsDelta) error {
	if userID == uuid.Nil {
		return types.NewError(types.KindValidation, "stats increment requires user id", nil)
	}
	now := time.Now().UTC()
	row := &types.UserEntryStats{
		UserID:               userID,
		TotalEntries:         delta.Total,
		LogEntries:           delta.Log,
		ChatEntries:          delta.Chat,
		ClarificationEntries: delta.Clarification,
		MealEntries:          delta.Meal,
		WorkoutEntries:       delta.Workout,
		MeasurementEntries:   delta.Measurement,
		NoteEntries:          delta.Note,
		ExtractionSuccess:    delta.ExtractionSuccess,
		ExtractionFailure:    delta.ExtractionFailure,
		FailedEntries:        delta.Failed,
		ProviderCalls:        delta.ProviderCalls,
		EstimatedCostUSD:     delta.CostUSD,
		UpdatedAt:            now,
	}
	set := make(map[string]interface{}, len(counterColumns)+1)
	for _, col := range counterColumns {
		set[col] = gorm.Expr("user_entry_stats." + col + " + excluded." + col)
	}
	set["updated_at"] = now
	err := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(set),
	}).Create(row).Error
	return aggregates.MapError("user_entry_stats.increment", err)
}

func (r *userEntryStatsRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*types.UserEntryStats, error) {
	var out types.UserEntryStats
	if err := dbc.DB(r.db).Where("user_id = ?", userID).First(&out).Error; err != nil {
		return nil, aggregates.MapError("user_entry_stats.get", err)
	}
	return &out, nil
}
