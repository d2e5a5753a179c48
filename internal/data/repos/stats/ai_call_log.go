package stats

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	types "github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type AICallLogRepo interface {
	Create(dbc dbctx.Context, userID uuid.UUID, entryID *uuid.UUID, attempts []types.Attempt) error
	ListByEntry(dbc dbctx.Context, entryID uuid.UUID) ([]*types.AICallLog, error)
}

type aiCallLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAICallLogRepo(db *gorm.DB, baseLog *logger.Logger) AICallLogRepo {
	return &aiCallLogRepo{
		db:  db,
		log: baseLog.With("repo", "AICallLogRepo"),
	}
}

func (r *aiCallLogRepo) Create(dbc dbctx.Context, userID uuid.UUID, entryID *uuid.UUID, attempts []types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*types.AICallLog, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, &types.AICallLog{
			ID:           uuid.New(),
			UserID:       userID,
			QuickEntryID: entryID,
			CallType:     a.Capability,
			Provider:     a.Provider,
			Attempt:      a.Attempt,
			Success:      a.Success,
			ErrorKind:    a.ErrorKind,
			LatencyMS:    a.LatencyMS,
			CostUSD:      a.CostUSD,
			CreatedAt:    now,
		})
	}
	err := dbc.DB(r.db).Create(&rows).Error
	return aggregates.MapError("ai_call_log.create", err)
}

func (r *aiCallLogRepo) ListByEntry(dbc dbctx.Context, entryID uuid.UUID) ([]*types.AICallLog, error) {
	var out []*types.AICallLog
	err := dbc.DB(r.db).Where("quick_entry_id = ?", entryID).Order("created_at ASC, attempt ASC").Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("ai_call_log.list_by_entry", err)
	}
	return out, nil
}
