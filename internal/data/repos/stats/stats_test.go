package stats

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/data/repos/testutil"
	types "github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
)

func TestIncrementConcurrentNoLostUpdates(t *testing.T) {
	db := testutil.DB(t)
	repo := NewUserEntryStatsRepo(db, testutil.Logger(t))
	user := uuid.New()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := types.StatsDelta{Total: 1, Log: 1, ExtractionSuccess: 1, ProviderCalls: 2, CostUSD: 0.001}
			d.CountSubtype(types.SubtypeMeal)
			errs <- repo.Increment(dbctx.Context{Ctx: context.Background()}, user, d)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	got, err := repo.Get(dbctx.Context{Ctx: context.Background()}, user)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalEntries != workers || got.MealEntries != workers || got.ProviderCalls != 2*workers {
		t.Fatalf("counts: want total=%d meal=%d calls=%d got total=%d meal=%d calls=%d",
			workers, workers, 2*workers, got.TotalEntries, got.MealEntries, got.ProviderCalls)
	}
}

func TestCallLogCreate(t *testing.T) {
	db := testutil.DB(t)
	repo := NewAICallLogRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	user, entry := uuid.New(), uuid.New()

	err := repo.Create(dbc, user, &entry, []types.Attempt{
		{Capability: "embed", Provider: "openai", Attempt: 1, ErrorKind: types.KindEmbeddingUnavailable},
		{Capability: "embed", Provider: "openai", Attempt: 2, Success: true, CostUSD: 0.0001},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rows, err := repo.ListByEntry(dbc, entry)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Success || !rows[1].Success {
		t.Fatalf("rows: got %d, first success=%v", len(rows), len(rows) > 0 && rows[0].Success)
	}
}
