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

// RecordRepo writes structured records, one table per subtype, keyed by the
// owning quick entry.
type RecordRepo interface {
	// Upsert writes rec for its quick entry. An existing row keeps its id and
	// creation time and gets its revision bumped.
	Upsert(dbc dbctx.Context, rec types.Record) (types.Record, error)
	GetByEntry(dbc dbctx.Context, subtype types.Subtype, entryID uuid.UUID) (types.Record, error)
	// DeleteOtherSubtypes removes rows for entryID in every table but keep's.
	DeleteOtherSubtypes(dbc dbctx.Context, entryID uuid.UUID, keep types.Subtype) error
	CountByEntry(dbc dbctx.Context, entryID uuid.UUID) (int64, error)
}

type recordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecordRepo(db *gorm.DB, baseLog *logger.Logger) RecordRepo {
	return &recordRepo{
		db:  db,
		log: baseLog.With("repo", "RecordRepo"),
	}
}

func (r *recordRepo) Upsert(dbc dbctx.Context, rec types.Record) (types.Record, error) {
	if rec == nil {
		return nil, types.NewError(types.KindValidation, "nil record", nil)
	}
	h := rec.Header()
	if h.QuickEntryID == uuid.Nil || h.UserID == uuid.Nil {
		return nil, types.NewError(types.KindValidation, "record requires quick entry and user", nil)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	transaction := dbc.DB(r.db)

	existing, err := r.GetByEntry(dbc, rec.Subtype(), h.QuickEntryID)
	switch {
	case err == nil:
		eh := existing.Header()
		h.ID = eh.ID
		h.CreatedAt = eh.CreatedAt
		h.Revision = eh.Revision + 1
	case types.IsKind(err, types.KindNotFound):
		if h.ID == uuid.Nil {
			h.ID = uuid.New()
		}
		h.Revision = 1
		h.CreatedAt = time.Now().UTC()
	default:
		return nil, err
	}
	h.UpdatedAt = time.Now().UTC()
	if err := transaction.Save(rec).Error; err != nil {
		return nil, aggregates.MapError("record.upsert", err)
	}
	return rec, nil
}

func (r *recordRepo) GetByEntry(dbc dbctx.Context, subtype types.Subtype, entryID uuid.UUID) (types.Record, error) {
	rec, err := types.NewRecord(subtype)
	if err != nil {
		return nil, err
	}
	if err := dbc.DB(r.db).Where("quick_entry_id = ?", entryID).First(rec).Error; err != nil {
		return nil, aggregates.MapError("record.get_by_entry", err)
	}
	return rec, nil
}

func (r *recordRepo) DeleteOtherSubtypes(dbc dbctx.Context, entryID uuid.UUID, keep types.Subtype) error {
	transaction := dbc.DB(r.db)
	for _, st := range types.Subtypes {
		if st == keep {
			continue
		}
		model, _ := types.NewRecord(st)
		if err := transaction.Where("quick_entry_id = ?", entryID).Delete(model).Error; err != nil {
			return aggregates.MapError("record.delete_other_subtypes", err)
		}
	}
	return nil
}

func (r *recordRepo) CountByEntry(dbc dbctx.Context, entryID uuid.UUID) (int64, error) {
	var total int64
	for _, st := range types.Subtypes {
		model, _ := types.NewRecord(st)
		var n int64
		if err := dbc.DB(r.db).Model(model).Where("quick_entry_id = ?", entryID).Count(&n).Error; err != nil {
			return 0, aggregates.MapError("record.count_by_entry", err)
		}
		total += n
	}
	return total, nil
}
