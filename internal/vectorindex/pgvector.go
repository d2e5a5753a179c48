package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

const pgvectorTable = "vector_point"

// pgPoint is the row shape of vector_point. The table is created by
// EnsureSchema so the vector column carries the configured dimension.
type pgPoint struct {
	ID           string          `gorm:"column:id;primaryKey"`
	UserID       uuid.UUID       `gorm:"column:user_id;type:uuid"`
	QuickEntryID uuid.UUID       `gorm:"column:quick_entry_id;type:uuid"`
	Subtype      string          `gorm:"column:subtype"`
	EventAt      time.Time       `gorm:"column:event_at"`
	Active       bool            `gorm:"column:active"`
	Content      string          `gorm:"column:content"`
	Metadata     datatypes.JSON  `gorm:"column:metadata;type:jsonb"`
	Embedding    pgvector.Vector `gorm:"column:embedding"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (pgPoint) TableName() string { return pgvectorTable }

type pgMatch struct {
	ID           string         `gorm:"column:id"`
	UserID       uuid.UUID      `gorm:"column:user_id"`
	QuickEntryID uuid.UUID      `gorm:"column:quick_entry_id"`
	Subtype      string         `gorm:"column:subtype"`
	EventAt      time.Time      `gorm:"column:event_at"`
	Content      string         `gorm:"column:content"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	Similarity   float64        `gorm:"column:similarity"`
}

// PGVector keeps points in Postgres and searches with the pgvector cosine
// distance operator.
type PGVector struct {
	db  *gorm.DB
	dim int
	log *logger.Logger
}

func NewPGVector(db *gorm.DB, dim int, log *logger.Logger) (*PGVector, error) {
	if db == nil {
		return nil, fmt.Errorf("pgvector index: db is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("pgvector index: dimension must be positive, got %d", dim)
	}
	return &PGVector{db: db, dim: dim, log: log.With("service", "PGVectorIndex")}, nil
}

func (p *PGVector) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id text PRIMARY KEY,
			user_id uuid NOT NULL,
			quick_entry_id uuid NOT NULL,
			subtype text NOT NULL DEFAULT '',
			event_at timestamptz NOT NULL,
			active boolean NOT NULL,
			content text NOT NULL DEFAULT '',
			metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL,
			updated_at timestamptz NOT NULL
		)`, pgvectorTable, p.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_vector_point_user_active ON %s (user_id, active)`, pgvectorTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_vector_point_embedding ON %s USING hnsw (embedding vector_cosine_ops)`, pgvectorTable),
	}
	for _, stmt := range stmts {
		if err := p.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return Unavailable("pgvector.ensure_schema", err)
		}
	}
	return nil
}

func (p *PGVector) Upsert(ctx context.Context, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]pgPoint, 0, len(points))
	now := time.Now().UTC()
	for _, pt := range points {
		if err := ValidatePoint(pt, p.dim); err != nil {
			return err
		}
		meta, err := json.Marshal(nonNilMeta(pt.Metadata))
		if err != nil {
			return entries.NewError(entries.KindValidation, "point metadata is not serializable", err)
		}
		rows = append(rows, pgPoint{
			ID:           pt.ID,
			UserID:       pt.UserID,
			QuickEntryID: pt.QuickEntryID,
			Subtype:      string(pt.Subtype),
			EventAt:      pt.EventAt.UTC(),
			Active:       pt.Active,
			Content:      pt.Content,
			Metadata:     datatypes.JSON(meta),
			Embedding:    pgvector.NewVector(pt.Vector),
			UpdatedAt:    now,
		})
	}
	err := p.upsertStatement(p.db.WithContext(ctx), rows).Error
	return Unavailable("pgvector.upsert", err)
}

func (p *PGVector) upsertStatement(db *gorm.DB, rows []pgPoint) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows)
}

func (p *PGVector) Search(ctx context.Context, q Query) ([]Match, error) {
	q, err := Normalize(q)
	if err != nil {
		return nil, err
	}
	if len(q.Vector) != p.dim {
		return nil, entries.NewError(entries.KindValidation, fmt.Sprintf("query dimension mismatch: want=%d got=%d", p.dim, len(q.Vector)), nil)
	}
	var rows []pgMatch
	stmt, err := p.searchStatement(p.db.WithContext(ctx), q)
	if err != nil {
		return nil, err
	}
	if err := stmt.Scan(&rows).Error; err != nil {
		return nil, Unavailable("pgvector.search", err)
	}
	out := p.toMatches(rows)
	SortMatches(out)
	return out, nil
}

func (p *PGVector) toMatches(rows []pgMatch) []Match {
	out := make([]Match, 0, len(rows))
	for _, r := range rows {
		meta := map[string]any{}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &meta); err != nil {
				p.log.Warn("skipping point with unreadable metadata", "point_id", r.ID, "error", err)
				continue
			}
		}
		out = append(out, Match{
			ID:           r.ID,
			QuickEntryID: r.QuickEntryID,
			UserID:       r.UserID,
			Subtype:      entries.Subtype(r.Subtype),
			EventAt:      r.EventAt,
			Content:      r.Content,
			Metadata:     meta,
			Similarity:   r.Similarity,
		})
	}
	return out
}

func (p *PGVector) searchStatement(db *gorm.DB, q Query) (*gorm.DB, error) {
	vec := pgvector.NewVector(q.Vector)
	conds := []string{"user_id = ?", "active = ?", "1 - (embedding <=> ?) >= ?"}
	args := []any{q.UserID, true, vec, q.Threshold}
	if len(q.Subtypes) > 0 {
		names := make([]string, 0, len(q.Subtypes))
		for _, s := range q.Subtypes {
			names = append(names, string(s))
		}
		conds = append(conds, "subtype IN ?")
		args = append(args, names)
	}
	if q.From != nil {
		conds = append(conds, "event_at >= ?")
		args = append(args, q.From.UTC())
	}
	if q.To != nil {
		conds = append(conds, "event_at <= ?")
		args = append(args, q.To.UTC())
	}
	if len(q.Metadata) > 0 {
		b, err := json.Marshal(q.Metadata)
		if err != nil {
			return nil, entries.NewError(entries.KindValidation, "query metadata is not serializable", err)
		}
		conds = append(conds, "metadata @> ?::jsonb")
		args = append(args, string(b))
	}
	sql := fmt.Sprintf(`SELECT id, user_id, quick_entry_id, subtype, event_at, content, metadata,
		1 - (embedding <=> ?) AS similarity
		FROM %s WHERE %s
		ORDER BY embedding <=> ?, event_at DESC
		LIMIT ?`, pgvectorTable, strings.Join(conds, " AND "))
	all := append([]any{vec}, args...)
	all = append(all, vec, q.K)
	return db.Raw(sql, all...), nil
}

func (p *PGVector) Deactivate(ctx context.Context, userID uuid.UUID, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := p.db.WithContext(ctx).
		Model(&pgPoint{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()}).Error
	return Unavailable("pgvector.deactivate", err)
}

func (p *PGVector) Refresh(ctx context.Context, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	now := time.Now().UTC()
	updates := make([]map[string]any, 0, len(points))
	for _, pt := range points {
		if err := ValidateRefresh(pt); err != nil {
			return err
		}
		meta, err := json.Marshal(nonNilMeta(pt.Metadata))
		if err != nil {
			return entries.NewError(entries.KindValidation, "point metadata is not serializable", err)
		}
		updates = append(updates, map[string]any{
			"quick_entry_id": pt.QuickEntryID,
			"subtype":        string(pt.Subtype),
			"event_at":       pt.EventAt.UTC(),
			"active":         pt.Active,
			"content":        pt.Content,
			"metadata":       datatypes.JSON(meta),
			"updated_at":     now,
		})
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, pt := range points {
			res := tx.Model(&pgPoint{}).
				Where("id = ? AND user_id = ?", pt.ID, pt.UserID).
				Updates(updates[i])
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return pointNotFound(pt.ID)
			}
		}
		return nil
	})
	if entries.KindOf(err) == entries.KindNotFound {
		return err
	}
	return Unavailable("pgvector.refresh", err)
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
