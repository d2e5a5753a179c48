package vectorindex

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

func newPoint(user uuid.UUID, id string, vec []float32, st entries.Subtype, at time.Time) Point {
	return Point{
		ID:           id,
		Vector:       vec,
		UserID:       user,
		QuickEntryID: uuid.New(),
		Subtype:      st,
		EventAt:      at,
		Active:       true,
		Content:      "content " + id,
		Metadata:     map[string]any{"time_of_day": "morning"},
	}
}

func TestMemorySearchScopesByUserAndActive(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(3, logger.Nop())
	alice, bob := uuid.New(), uuid.New()
	now := time.Now().UTC()

	inactive := newPoint(alice, "a2", []float32{1, 0, 0}, entries.SubtypeMeal, now)
	inactive.Active = false
	if err := idx.Upsert(ctx,
		newPoint(alice, "a1", []float32{1, 0, 0}, entries.SubtypeMeal, now),
		inactive,
		newPoint(bob, "b1", []float32{1, 0, 0}, entries.SubtypeMeal, now),
	); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Search(ctx, Query{Vector: []float32{1, 0, 0}, UserID: alice, Threshold: 0.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("matches: want=[a1] got=%+v", got)
	}
	if got[0].UserID != alice {
		t.Fatalf("user: want=%s got=%s", alice, got[0].UserID)
	}
}

func TestMemorySearchRequiresUser(t *testing.T) {
	idx := NewMemory(3, logger.Nop())
	_, err := idx.Search(context.Background(), Query{Vector: []float32{1, 0, 0}})
	if !entries.IsKind(err, entries.KindValidation) {
		t.Fatalf("kind: want=%s got=%v", entries.KindValidation, err)
	}
}

func TestMemorySearchThresholdOrderingAndK(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2, logger.Nop())
	u := uuid.New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	pts := []Point{
		newPoint(u, "old-exact", []float32{1, 0}, entries.SubtypeMeal, base),
		newPoint(u, "new-exact", []float32{2, 0}, entries.SubtypeMeal, base.Add(24*time.Hour)),
		newPoint(u, "close", []float32{1, 0.3}, entries.SubtypeMeal, base),
		newPoint(u, "orthogonal", []float32{0, 1}, entries.SubtypeMeal, base),
	}
	if err := idx.Upsert(ctx, pts...); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Search(ctx, Query{Vector: []float32{1, 0}, UserID: u, Threshold: 0.7})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"new-exact", "old-exact", "close"}
	if len(got) != len(want) {
		t.Fatalf("len: want=%d got=%d (%+v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("order[%d]: want=%s got=%s", i, want[i], got[i].ID)
		}
	}
	for _, m := range got {
		if m.Similarity < 0.7 {
			t.Fatalf("similarity below threshold: %+v", m)
		}
	}

	got, err = idx.Search(ctx, Query{Vector: []float32{1, 0}, UserID: u, Threshold: 0.7, K: 1})
	if err != nil {
		t.Fatalf("Search K=1: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new-exact" {
		t.Fatalf("K=1: want=[new-exact] got=%+v", got)
	}
}

func TestMemorySearchFilters(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2, logger.Nop())
	u := uuid.New()
	day := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	evening := newPoint(u, "evening", []float32{1, 0}, entries.SubtypeMeal, day.Add(48*time.Hour))
	evening.Metadata = map[string]any{"time_of_day": "evening"}
	if err := idx.Upsert(ctx,
		newPoint(u, "meal", []float32{1, 0}, entries.SubtypeMeal, day),
		newPoint(u, "workout", []float32{1, 0}, entries.SubtypeWorkout, day),
		evening,
	); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	to := day.Add(time.Hour)

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"subtype", Query{Subtypes: []entries.Subtype{entries.SubtypeWorkout}}, []string{"workout"}},
		{"date range", Query{To: &to}, []string{"meal", "workout"}},
		{"metadata", Query{Metadata: map[string]any{"time_of_day": "evening"}}, []string{"evening"}},
		{"metadata miss", Query{Metadata: map[string]any{"time_of_day": "night"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.q
			q.Vector = []float32{1, 0}
			q.UserID = u
			got, err := idx.Search(ctx, q)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			ids := map[string]bool{}
			for _, m := range got {
				ids[m.ID] = true
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids: want=%v got=%v", tt.want, ids)
			}
			for _, id := range tt.want {
				if !ids[id] {
					t.Fatalf("missing %s: got=%v", id, ids)
				}
			}
		})
	}
}

func TestMemoryUpsertReplacesAndDeactivates(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2, logger.Nop())
	u := uuid.New()
	now := time.Now().UTC()
	if err := idx.Upsert(ctx, newPoint(u, "p", []float32{1, 0}, entries.SubtypeMeal, now)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Upsert(ctx, newPoint(u, "p", []float32{0, 1}, entries.SubtypeNote, now)); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("Len: want=1 got=%d", idx.Len())
	}
	got, _ := idx.Search(ctx, Query{Vector: []float32{0, 1}, UserID: u, Threshold: 0.9})
	if len(got) != 1 || got[0].Subtype != entries.SubtypeNote {
		t.Fatalf("replaced point: got=%+v", got)
	}

	if err := idx.Deactivate(ctx, u, []string{"p"}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, _ = idx.Search(ctx, Query{Vector: []float32{0, 1}, UserID: u})
	if len(got) != 0 {
		t.Fatalf("deactivated point returned: %+v", got)
	}
}

func TestMemoryRefreshKeepsVector(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2, logger.Nop())
	u := uuid.New()
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := idx.Upsert(ctx, newPoint(u, "p", []float32{1, 0}, entries.SubtypeMeal, first)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Deactivate(ctx, u, []string{"p"}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	later := first.Add(11 * time.Hour)
	next := newPoint(u, "p", nil, entries.SubtypeMeal, later)
	next.Metadata = map[string]any{"time_of_day": "evening"}
	if err := idx.Refresh(ctx, next); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	next.Metadata["time_of_day"] = "night"

	got, err := idx.Search(ctx, Query{Vector: []float32{1, 0}, UserID: u, Threshold: 0.9})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("matches: want=1 got=%+v", got)
	}
	if !got[0].EventAt.Equal(later) {
		t.Fatalf("event_at: want=%s got=%s", later, got[0].EventAt)
	}
	if got[0].Metadata["time_of_day"] != "evening" {
		t.Fatalf("time_of_day: want=evening got=%v", got[0].Metadata["time_of_day"])
	}
}

func TestMemoryRefreshMissingPoint(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2, logger.Nop())
	u := uuid.New()
	if err := idx.Upsert(ctx, newPoint(u, "p", []float32{1, 0}, entries.SubtypeMeal, time.Now())); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	err := idx.Refresh(ctx, newPoint(u, "p", nil, entries.SubtypeMeal, time.Now()), newPoint(u, "q", nil, entries.SubtypeMeal, time.Now()))
	if !entries.IsKind(err, entries.KindNotFound) {
		t.Fatalf("kind: want=%s got=%v", entries.KindNotFound, err)
	}
	err = idx.Refresh(ctx, newPoint(uuid.New(), "p", nil, entries.SubtypeMeal, time.Now()))
	if !entries.IsKind(err, entries.KindNotFound) {
		t.Fatalf("other user kind: want=%s got=%v", entries.KindNotFound, err)
	}
	if err := idx.Refresh(ctx, Point{ID: "p"}); !entries.IsKind(err, entries.KindValidation) {
		t.Fatalf("missing user kind: want=%s got=%v", entries.KindValidation, err)
	}
}

func TestMemoryUpsertRejectsDimensionMismatch(t *testing.T) {
	idx := NewMemory(3, logger.Nop())
	err := idx.Upsert(context.Background(), newPoint(uuid.New(), "p", []float32{1, 0}, entries.SubtypeMeal, time.Now()))
	if !entries.IsKind(err, entries.KindValidation) {
		t.Fatalf("kind: want=%s got=%v", entries.KindValidation, err)
	}
	if idx.Len() != 0 {
		t.Fatalf("Len: want=0 got=%d", idx.Len())
	}
}

func TestMemoryConcurrentUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2, logger.Nop())
	u := uuid.New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = idx.Upsert(ctx, newPoint(u, fmt.Sprintf("p-%d-%d", w, i%5), []float32{1, float32(i)}, entries.SubtypeMeal, time.Now()))
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ms, err := idx.Search(ctx, Query{Vector: []float32{1, 0}, UserID: u, K: 100})
				if err != nil {
					t.Errorf("Search: %v", err)
					return
				}
				for _, m := range ms {
					if m.Similarity < 0 || m.Similarity > 1.0000001 {
						t.Errorf("similarity out of range: %v", m.Similarity)
					}
				}
			}
		}()
	}
	wg.Wait()
	if idx.Len() != 20 {
		t.Fatalf("Len: want=20 got=%d", idx.Len())
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got < 0.9999 {
		t.Fatalf("identical: want=1 got=%v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal: want=0 got=%v", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("mismatch: want=0 got=%v", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector: want=0 got=%v", got)
	}
}
