package entries

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	types "github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type EmbeddingRepo interface {
	// Upsert writes the row for (quick entry, kind), keeping an existing id.
	Upsert(dbc dbctx.Context, e *types.EntryEmbedding) (*types.EntryEmbedding, error)
	GetByEntry(dbc dbctx.Context, entryID uuid.UUID, kind types.EmbeddingKind) (*types.EntryEmbedding, error)
	ListByEntry(dbc dbctx.Context, entryID uuid.UUID) ([]*types.EntryEmbedding, error)
	SetActive(dbc dbctx.Context, entryID uuid.UUID, active bool) error
	CountActiveByHash(dbc dbctx.Context, userID uuid.UUID, contentHash string) (int64, error)
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return &embeddingRepo{
		db:  db,
		log: baseLog.With("repo", "EmbeddingRepo"),
	}
}

func (r *embeddingRepo) Upsert(dbc dbctx.Context, e *types.EntryEmbedding) (*types.EntryEmbedding, error) {
	if e == nil || e.QuickEntryID == uuid.Nil || e.UserID == uuid.Nil {
		return nil, types.NewError(types.KindValidation, "embedding requires quick entry and user", nil)
	}
	if e.Kind == "" {
		e.Kind = types.EmbeddingContent
	}
	existing, err := r.GetByEntry(dbc, e.QuickEntryID, e.Kind)
	switch {
	case err == nil:
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
		e.Revision = existing.Revision + 1
	case types.IsKind(err, types.KindNotFound):
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Revision = 1
		e.CreatedAt = time.Now().UTC()
	default:
		return nil, err
	}
	e.UpdatedAt = time.Now().UTC()
	if err := dbc.DB(r.db).Save(e).Error; err != nil {
		return nil, aggregates.MapError("embedding.upsert", err)
	}
	return e, nil
}

func (r *embeddingRepo) GetByEntry(dbc dbctx.Context, entryID uuid.UUID, kind types.EmbeddingKind) (*types.EntryEmbedding, error) {
	var out types.EntryEmbedding
	err := dbc.DB(r.db).
		Where("quick_entry_id = ? AND kind = ?", entryID, string(kind)).
		First(&out).Error
	if err != nil {
		return nil, aggregates.MapError("embedding.get_by_entry", err)
	}
	return &out, nil
}

func (r *embeddingRepo) ListByEntry(dbc dbctx.Context, entryID uuid.UUID) ([]*types.EntryEmbedding, error) {
	var out []*types.EntryEmbedding
	if err := dbc.DB(r.db).Where("quick_entry_id = ?", entryID).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("embedding.list_by_entry", err)
	}
	return out, nil
}

func (r *embeddingRepo) SetActive(dbc dbctx.Context, entryID uuid.UUID, active bool) error {
	err := dbc.DB(r.db).Model(&types.EntryEmbedding{}).
		Where("quick_entry_id = ?", entryID).
		Updates(map[string]interface{}{"active": active, "updated_at": time.Now().UTC()}).Error
	return aggregates.MapError("embedding.set_active", err)
}

func (r *embeddingRepo) CountActiveByHash(dbc dbctx.Context, userID uuid.UUID, contentHash string) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.EntryEmbedding{}).
		Where("user_id = ? AND content_hash = ? AND active = ?", userID, contentHash, true).
		Count(&n).Error
	if err != nil {
		return 0, aggregates.MapError("embedding.count_active_by_hash", err)
	}
	return n, nil
}
