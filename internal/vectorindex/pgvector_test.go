package vectorindex

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	qlog "github.com/yungbote/quickentry-backend/internal/platform/logger"
)

func dryRunPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  "host=127.0.0.1 user=test dbname=test sslmode=disable",
		PreferSimpleProtocol: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open dry-run postgres: %v", err)
	}
	return db
}

func TestPGVectorSearchStatement(t *testing.T) {
	db := dryRunPostgres(t)
	idx, err := NewPGVector(db, 3, qlog.Nop())
	if err != nil {
		t.Fatalf("NewPGVector: %v", err)
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, err := Normalize(Query{
		Vector:    []float32{0.1, 0.2, 0.3},
		UserID:    uuid.New(),
		Threshold: 0.7,
		Subtypes:  []entries.Subtype{entries.SubtypeMeal},
		From:      &from,
		Metadata:  map[string]any{"time_of_day": "morning"},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		stmt, err := idx.searchStatement(tx, q)
		if err != nil {
			t.Fatalf("searchStatement: %v", err)
		}
		return stmt
	})
	for _, want := range []string{
		"FROM vector_point",
		"1 - (embedding <=> '[0.1,0.2,0.3]') AS similarity",
		"active = true",
		"subtype IN ('meal')",
		"event_at >=",
		`metadata @> '{"time_of_day":"morning"}'::jsonb`,
		"ORDER BY embedding <=>",
		"LIMIT 10",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("sql missing %q:\n%s", want, sql)
		}
	}
}

func TestPGVectorUpsertStatementIsIdempotentByID(t *testing.T) {
	db := dryRunPostgres(t)
	idx, err := NewPGVector(db, 2, qlog.Nop())
	if err != nil {
		t.Fatalf("NewPGVector: %v", err)
	}
	rows := []pgPoint{{ID: "e:content", UserID: uuid.New(), QuickEntryID: uuid.New(), EventAt: time.Now(), Active: true}}
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB { return idx.upsertStatement(tx, rows) })
	if !strings.Contains(sql, `ON CONFLICT ("id") DO UPDATE SET`) {
		t.Fatalf("expected upsert on id:\n%s", sql)
	}
}

func TestPGVectorRejectsWrongDimension(t *testing.T) {
	db := dryRunPostgres(t)
	idx, _ := NewPGVector(db, 3, qlog.Nop())
	_, err := idx.Search(context.Background(), Query{Vector: []float32{1, 0}, UserID: uuid.New()})
	if !entries.IsKind(err, entries.KindValidation) {
		t.Fatalf("kind: want=%s got=%v", entries.KindValidation, err)
	}
}

func TestPGVectorSkipsRowsWithUnreadableMetadata(t *testing.T) {
	idx, err := NewPGVector(dryRunPostgres(t), 2, qlog.Nop())
	if err != nil {
		t.Fatalf("NewPGVector: %v", err)
	}
	user := uuid.New()
	rows := []pgMatch{
		{ID: "good", UserID: user, Subtype: "meal", Metadata: datatypes.JSON(`{"time_of_day":"evening"}`), Similarity: 0.9},
		{ID: "corrupt", UserID: user, Subtype: "meal", Metadata: datatypes.JSON(`{"time_of_day":`), Similarity: 0.95},
		{ID: "bare", UserID: user, Subtype: "note", Similarity: 0.8},
	}
	got := idx.toMatches(rows)
	if len(got) != 2 || got[0].ID != "good" || got[1].ID != "bare" {
		t.Fatalf("matches: want=[good bare] got=%+v", got)
	}
	if got[0].Metadata["time_of_day"] != "evening" {
		t.Fatalf("metadata: want=evening got=%v", got[0].Metadata)
	}
	if got[1].Metadata == nil {
		t.Fatalf("metadata: want empty map got=nil")
	}
}

func TestPGVectorIntegration(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TEST_PGVECTOR_DSN"))
	if dsn == "" {
		t.Skip("set TEST_PGVECTOR_DSN to run pgvector integration test")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	idx, err := NewPGVector(db, 2, qlog.Nop())
	if err != nil {
		t.Fatalf("NewPGVector: %v", err)
	}
	if err := idx.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	user := uuid.New()
	p := newPoint(user, PointID(uuid.New(), entries.EmbeddingContent), []float32{1, 0}, entries.SubtypeMeal, time.Now().UTC())
	if err := idx.Upsert(ctx, p, p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := idx.Search(ctx, Query{Vector: []float32{1, 0}, UserID: user, Threshold: 0.7})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("matches: want=[%s] got=%+v", p.ID, got)
	}
	refreshed := p
	refreshed.Content = "refreshed"
	if err := idx.Refresh(ctx, refreshed); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got, err = idx.Search(ctx, Query{Vector: []float32{1, 0}, UserID: user, Threshold: 0.7})
	if err != nil {
		t.Fatalf("Search after refresh: %v", err)
	}
	if len(got) != 1 || got[0].Content != "refreshed" {
		t.Fatalf("refreshed content: got=%+v", got)
	}
	missing := newPoint(user, PointID(uuid.New(), entries.EmbeddingContent), []float32{1, 0}, entries.SubtypeMeal, time.Now().UTC())
	if err := idx.Refresh(ctx, missing); !entries.IsKind(err, entries.KindNotFound) {
		t.Fatalf("kind: want=%s got=%v", entries.KindNotFound, err)
	}
	if err := idx.Deactivate(ctx, user, []string{p.ID}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, err = idx.Search(ctx, Query{Vector: []float32{1, 0}, UserID: user})
	if err != nil {
		t.Fatalf("Search after deactivate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("deactivated point returned: %+v", got)
	}
}
