package entries

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

type QuickEntryRepo interface {
	// CreateOrBump inserts the entry, or, when the user already submitted the
	// same content, restarts the existing row and bumps its revision.
	CreateOrBump(dbc dbctx.Context, e *types.QuickEntry) (*types.QuickEntry, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*types.QuickEntry, error)
	GetByHash(dbc dbctx.Context, userID uuid.UUID, contentHash string) (*types.QuickEntry, error)
	// Advance moves the entry to stage only if it is currently in one of from.
	Advance(dbc dbctx.Context, id uuid.UUID, from []types.Stage, to types.Stage, updates map[string]interface{}) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, kind types.ErrorKind, stage types.Stage, message string) (bool, error)
	// FailStale fails entries stuck in a non-terminal stage since before cutoff.
	// Entries parked with a preview draft are left alone.
	FailStale(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.QuickEntry, error)
	Retire(dbc dbctx.Context, id uuid.UUID, at time.Time) error
}

type quickEntryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuickEntryRepo(db *gorm.DB, baseLog *logger.Logger) QuickEntryRepo {
	return &quickEntryRepo{
		db:  db,
		log: baseLog.With("repo", "QuickEntryRepo"),
	}
}

var openStages = []types.Stage{
	types.StagePending,
	types.StageClassifying,
	types.StageExtracting,
	types.StageEstimating,
	types.StagePersisting,
	types.StageRetrieving,
}

func (r *quickEntryRepo) CreateOrBump(dbc dbctx.Context, e *types.QuickEntry) (*types.QuickEntry, error) {
	transaction := dbc.DB(r.db)
	if e == nil || e.UserID == uuid.Nil || e.ContentHash == "" {
		return nil, types.NewError(types.KindValidation, "entry requires user id and content hash", nil)
	}
	now := time.Now().UTC()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.SubmittedAt.IsZero() {
		e.SubmittedAt = now
	}
	e.Stage = types.StagePending
	e.Status = types.StatusPending
	e.StageAt = now
	e.Revision = 1

	err := transaction.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "content_hash"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"revision":      gorm.Expr("quick_entry.revision + 1"),
			"stage":         string(types.StagePending),
			"status":        string(types.StatusPending),
			"stage_at":      now,
			"raw_text":      gorm.Expr("excluded.raw_text"),
			"modalities":    gorm.Expr("excluded.modalities"),
			"media_refs":    gorm.Expr("excluded.media_refs"),
			"occurred_at":   gorm.Expr("excluded.occurred_at"),
			"submitted_at":  gorm.Expr("excluded.submitted_at"),
			"error_kind":    "",
			"error_stage":   "",
			"error_message": "",
			"draft":         nil,
			"retired_at":    nil,
			"updated_at":    now,
		}),
	}).Create(e).Error
	if err != nil {
		return nil, aggregates.MapError("quick_entry.create_or_bump", err)
	}
	return r.GetByHash(dbc, e.UserID, e.ContentHash)
}

func (r *quickEntryRepo) Get(dbc dbctx.Context, id uuid.UUID) (*types.QuickEntry, error) {
	var out types.QuickEntry
	if err := dbc.DB(r.db).Where("id = ?", id).First(&out).Error; err != nil {
		return nil, aggregates.MapError("quick_entry.get", err)
	}
	return &out, nil
}

func (r *quickEntryRepo) GetByHash(dbc dbctx.Context, userID uuid.UUID, contentHash string) (*types.QuickEntry, error) {
	var out types.QuickEntry
	err := dbc.DB(r.db).
		Where("user_id = ? AND content_hash = ?", userID, contentHash).
		First(&out).Error
	if err != nil {
		return nil, aggregates.MapError("quick_entry.get_by_hash", err)
	}
	return &out, nil
}

func (r *quickEntryRepo) Advance(dbc dbctx.Context, id uuid.UUID, from []types.Stage, to types.Stage, updates map[string]interface{}) (bool, error) {
	now := time.Now().UTC()
	fields := map[string]interface{}{}
	for k, v := range updates {
		fields[k] = v
	}
	fields["stage"] = string(to)
	fields["status"] = string(to.Status())
	fields["stage_at"] = now
	fields["updated_at"] = now
	res := dbc.DB(r.db).Model(&types.QuickEntry{}).
		Where("id = ? AND stage IN ?", id, stageStrings(from)).
		Updates(fields)
	if res.Error != nil {
		return false, aggregates.MapError("quick_entry.advance", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *quickEntryRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	fields := map[string]interface{}{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		fields[k] = v
	}
	res := dbc.DB(r.db).Model(&types.QuickEntry{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return aggregates.MapError("quick_entry.update", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.KindNotFound, "quick entry not found", nil)
	}
	return nil
}

func (r *quickEntryRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, kind types.ErrorKind, stage types.Stage, message string) (bool, error) {
	return r.Advance(dbc, id, openStages, types.StageFailed, map[string]interface{}{
		"error_kind":    string(kind),
		"error_stage":   string(stage),
		"error_message": message,
	})
}

func (r *quickEntryRepo) FailStale(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.QuickEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var stale []*types.QuickEntry
	err := dbc.DB(r.db).
		Where("stage IN ? AND stage_at < ? AND draft IS NULL", stageStrings(openStages), cutoff).
		Order("stage_at ASC").
		Limit(limit).
		Find(&stale).Error
	if err != nil {
		return nil, aggregates.MapError("quick_entry.list_stale", err)
	}
	out := make([]*types.QuickEntry, 0, len(stale))
	for _, e := range stale {
		ok, err := r.MarkFailed(dbc, e.ID, types.KindTimeout, e.Stage, "pipeline exceeded its time ceiling")
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *quickEntryRepo) Retire(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"retired_at": at})
}

func stageStrings(stages []types.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
