package ctxbuilder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability/testutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, []entries.Attempt, error) {
	return f.vec, nil, f.err
}
func (f *fakeEmbedder) Dim() int      { return len(f.vec) }
func (f *fakeEmbedder) Model() string { return "fake-embed" }

type downIndex struct{}

func (downIndex) Upsert(ctx context.Context, points ...vectorindex.Point) error { return nil }
func (downIndex) Search(ctx context.Context, q vectorindex.Query) ([]vectorindex.Match, error) {
	return nil, vectorindex.Unavailable("search", errors.New("connection refused"))
}
func (downIndex) Deactivate(ctx context.Context, userID uuid.UUID, ids []string) error { return nil }
func (downIndex) Refresh(ctx context.Context, points ...vectorindex.Point) error       { return nil }

func newBuilder(t *testing.T, emb *fakeEmbedder, index vectorindex.Index) Service {
	t.Helper()
	pol := testutil.Policy()
	svc, err := NewService(logger.Nop(), testutil.Runner(t, pol), emb, index, pol.Retrieval)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seed(t *testing.T, idx *vectorindex.Memory, user uuid.UUID, subtype entries.Subtype, vec []float32, at time.Time, summary string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := idx.Upsert(context.Background(), vectorindex.Point{
		ID:           vectorindex.PointID(id, entries.EmbeddingContent),
		Vector:       vec,
		UserID:       user,
		QuickEntryID: id,
		Subtype:      subtype,
		EventAt:      at,
		Active:       true,
		Content:      "raw text",
		Metadata:     map[string]any{vectorindex.MetaSummary: summary},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return id
}

func TestBuildFormatsAndOrdersSnippets(t *testing.T) {
	idx := vectorindex.NewMemory(2, logger.Nop())
	user := uuid.New()
	at := time.Date(2026, 3, 9, 19, 30, 0, 0, time.UTC)
	seed(t, idx, user, entries.SubtypeMeal, []float32{1, 0.1}, at, "dinner: salmon, rice (650 kcal)")
	seed(t, idx, user, entries.SubtypeWorkout, []float32{1, 0}, at.Add(-24*time.Hour), "run 5 km in 28 min")
	seed(t, idx, user, entries.SubtypeMeal, []float32{0, 1}, at, "unrelated")
	seed(t, idx, uuid.New(), entries.SubtypeMeal, []float32{1, 0}, at, "someone else")

	svc := newBuilder(t, &fakeEmbedder{vec: []float32{1, 0}}, idx)
	snips, _, err := svc.Build(context.Background(), user, "what did I eat yesterday", Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snips) != 2 {
		t.Fatalf("snippets: want=2 got=%d (%v)", len(snips), snips)
	}
	want := "[WORKOUT | 2026-03-08 19:30] run 5 km in 28 min"
	if snips[0].Text != want {
		t.Fatalf("first snippet: want=%q got=%q", want, snips[0].Text)
	}
	if !strings.HasPrefix(snips[1].Text, "[MEAL | 2026-03-09 19:30] dinner") {
		t.Fatalf("second snippet: got=%q", snips[1].Text)
	}
	if snips[0].Similarity < snips[1].Similarity {
		t.Fatalf("snippets must be ordered by similarity")
	}
}

func TestBuildDegradesToEmptyContext(t *testing.T) {
	user := uuid.New()
	cases := []struct {
		name  string
		emb   *fakeEmbedder
		index vectorindex.Index
	}{
		{"embedder_down", &fakeEmbedder{err: entries.NewError(entries.KindEmbeddingUnavailable, "down", nil)}, vectorindex.NewMemory(2, logger.Nop())},
		{"index_down", &fakeEmbedder{vec: []float32{1, 0}}, downIndex{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snips, _, err := newBuilder(t, tc.emb, tc.index).Build(context.Background(), user, "how much protein today", Options{})
			if err != nil || len(snips) != 0 {
				t.Fatalf("want empty context and nil error, got snippets=%d err=%v", len(snips), err)
			}
		})
	}
}

func TestBuildRequiresUser(t *testing.T) {
	svc := newBuilder(t, &fakeEmbedder{vec: []float32{1, 0}}, vectorindex.NewMemory(2, logger.Nop()))
	if _, _, err := svc.Build(context.Background(), uuid.Nil, "hello", Options{}); !entries.IsKind(err, entries.KindValidation) {
		t.Fatalf("kind: want=ValidationError got=%v", err)
	}
}

func TestSnippetsDedupByEntry(t *testing.T) {
	entry := uuid.New()
	at := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	got := Snippets([]vectorindex.Match{
		{QuickEntryID: entry, Subtype: entries.SubtypeNote, EventAt: at, Content: "content", Similarity: 0.8},
		{QuickEntryID: entry, Subtype: entries.SubtypeNote, EventAt: at, Content: "summary", Similarity: 0.9},
	})
	if len(got) != 1 || got[0].Similarity != 0.9 || got[0].Text != "[NOTE | 2026-03-09 08:00] summary" {
		t.Fatalf("dedup: got=%+v", got)
	}
}

func TestFitDropsLeastSimilar(t *testing.T) {
	snips := []entries.Snippet{
		{Text: strings.Repeat("a", 10), Similarity: 0.9},
		{Text: strings.Repeat("b", 10), Similarity: 0.8},
		{Text: strings.Repeat("c", 10), Similarity: 0.7},
	}
	cases := []struct {
		max  int
		want int
	}{
		{0, 3},
		{32, 3},
		{31, 2},
		{21, 2},
		{20, 1},
		{9, 0},
	}
	for _, tc := range cases {
		got := Fit(snips, tc.max)
		if len(got) != tc.want {
			t.Fatalf("Fit(%d): want=%d got=%d", tc.max, tc.want, len(got))
		}
		if tc.max > 0 && len(Render(got)) > tc.max {
			t.Fatalf("Fit(%d) rendered %d chars", tc.max, len(Render(got)))
		}
	}
	if Render(snips[:2]) != "aaaaaaaaaa\nbbbbbbbbbb" {
		t.Fatalf("Render: got=%q", Render(snips[:2]))
	}
}
