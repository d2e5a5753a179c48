package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	aggtest "github.com/yungbote/quickentry-backend/internal/data/aggregates/testutil"
	"github.com/yungbote/quickentry-backend/internal/data/repos"
	repotest "github.com/yungbote/quickentry-backend/internal/data/repos/testutil"
	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability/testutil"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/classifier"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/ctxbuilder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/estimator"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/extractor"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/intake"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

type fakeClassifier struct {
	fn func(text string) (entries.Classification, error)
}

func (f *fakeClassifier) Classify(ctx context.Context, in classifier.Input) (entries.Classification, []entries.Attempt, error) {
	c, err := f.fn(in.Text)
	attempts := []entries.Attempt{{Capability: "classification", Provider: "fake", Attempt: 1, Success: err == nil}}
	return c, attempts, err
}

func logAs(st entries.Subtype) *fakeClassifier {
	return &fakeClassifier{fn: func(string) (entries.Classification, error) {
		return entries.LogAs(st, 0.9, "fake"), nil
	}}
}

type countingEmbedder struct {
	calls atomic.Int64
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, []entries.Attempt, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, nil, e.err
	}
	return []float32{1, 0, 0, 0}, nil, nil
}
func (e *countingEmbedder) Dim() int      { return 4 }
func (e *countingEmbedder) Model() string { return "fake-embed" }

type harness struct {
	c     *Coordinator
	repos repos.Set
	tx    *aggtest.InjectedTxRunner
	index *vectorindex.Memory
	emb   *countingEmbedder
	cls   classifier.Service
}

func newHarness(t *testing.T, cls classifier.Service) *harness {
	t.Helper()
	log := repotest.Logger(t)
	db := repotest.DB(t)
	pol := testutil.Policy()
	runner := testutil.Runner(t, pol)
	h := &harness{
		repos: repos.NewSet(db, log),
		tx:    &aggtest.InjectedTxRunner{Inner: aggregates.NewGormTxRunner(db)},
		index: vectorindex.NewMemory(4, log),
		emb:   &countingEmbedder{},
		cls:   cls,
	}
	ext, err := extractor.NewService(log, runner, pol.Extractor, pol.DayBuckets, extractor.Rules{})
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	est, err := estimator.NewService(log, runner, h.emb, h.index, pol.Estimator)
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}
	cb, err := ctxbuilder.NewService(log, runner, h.emb, h.index, pol.Retrieval)
	if err != nil {
		t.Fatalf("ctxbuilder: %v", err)
	}
	h.c, err = New(Deps{
		Log:        log,
		Policy:     pol,
		Tx:         h.tx,
		Repos:      h.repos,
		Runner:     runner,
		Classifier: h.cls,
		Extractor:  ext,
		Estimator:  est,
		Embedder:   h.emb,
		Index:      h.index,
		Context:    cb,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) submit(t *testing.T, user uuid.UUID, text string) StatusView {
	t.Helper()
	id, err := h.c.Submit(context.Background(), intake.Submission{UserID: user, Text: text})
	if err != nil {
		t.Fatalf("Submit(%q): %v", text, err)
	}
	h.c.Wait()
	v, err := h.c.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return v
}

func (h *harness) submitAt(t *testing.T, user uuid.UUID, text string, at time.Time) StatusView {
	t.Helper()
	id, err := h.c.Submit(context.Background(), intake.Submission{UserID: user, Text: text, OccurredAt: &at})
	if err != nil {
		t.Fatalf("Submit(%q): %v", text, err)
	}
	h.c.Wait()
	v, err := h.c.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return v
}

// activePoints returns what a search can see for user.
func (h *harness) activePoints(t *testing.T, user uuid.UUID) []vectorindex.Match {
	t.Helper()
	ms, err := h.index.Search(context.Background(), vectorindex.Query{Vector: []float32{1, 0, 0, 0}, UserID: user, K: 50})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	return ms
}

func (h *harness) stats(t *testing.T, user uuid.UUID) *entries.UserEntryStats {
	t.Helper()
	s, err := h.repos.Stats.Get(dbctx.Context{Ctx: context.Background()}, user)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return s
}

const mealText = "200g chicken breast with 2 cups of rice, 650 calories and 45g protein"

func TestLogEntryCompletes(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeMeal))
	user := uuid.New()

	v := h.submit(t, user, mealText)
	if v.Status != entries.StatusCompleted || v.Stage != entries.StageCompleted {
		t.Fatalf("status: want=completed got=%s/%s (%+v)", v.Status, v.Stage, v.Error)
	}
	meal, ok := v.Record.(*entries.MealRecord)
	if !ok {
		t.Fatalf("record: want=*MealRecord got=%T", v.Record)
	}
	if meal.Calories == nil || *meal.Calories != 650 {
		t.Fatalf("calories: want=650 got=%v", meal.Calories)
	}
	if meal.QuickEntryID != v.ID || meal.UserID != user {
		t.Fatalf("record header not linked to entry")
	}
	if got := meal.FieldSource("calories"); got != entries.ProvenanceAIExtracted {
		t.Fatalf("calories provenance: want=%s got=%s", entries.ProvenanceAIExtracted, got)
	}
	if h.index.Len() != 1 {
		t.Fatalf("vectors: want=1 got=%d", h.index.Len())
	}
	s := h.stats(t, user)
	if s.TotalEntries != 1 || s.LogEntries != 1 || s.MealEntries != 1 || s.ExtractionSuccess != 1 {
		t.Fatalf("stats: got=%+v", s)
	}
	if s.ProviderCalls == 0 {
		t.Fatalf("provider calls not counted")
	}
}

func TestResubmissionReusesEntryAndEmbedding(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeMeal))
	user := uuid.New()

	first := h.submit(t, user, mealText)
	embeds := h.emb.calls.Load()
	second := h.submit(t, user, "  "+mealText+"  ")

	if second.ID != first.ID {
		t.Fatalf("entry id: want=%s got=%s", first.ID, second.ID)
	}
	if second.Revision != 2 || second.Status != entries.StatusCompleted {
		t.Fatalf("resubmission: want revision 2 completed, got=%d %s", second.Revision, second.Status)
	}
	if second.Record.Header().Revision != 2 {
		t.Fatalf("record revision: want=2 got=%d", second.Record.Header().Revision)
	}
	// Only the estimator embeds again; the stored embedding is reused.
	if got := h.emb.calls.Load() - embeds; got != 1 {
		t.Fatalf("embed calls on resubmit: want=1 got=%d", got)
	}
	dbc := dbctx.Context{Ctx: context.Background()}
	n, err := h.repos.Records.CountByEntry(dbc, first.ID)
	if err != nil || n != 1 {
		t.Fatalf("records: want=1 got=%d err=%v", n, err)
	}
	active, err := h.repos.Embeddings.CountActiveByHash(dbc, user, intake.ContentHash(intake.Normalize(mealText)))
	if err != nil || active != 1 {
		t.Fatalf("active embeddings: want=1 got=%d err=%v", active, err)
	}
	if h.index.Len() != 1 {
		t.Fatalf("vectors: want=1 got=%d", h.index.Len())
	}
}

func TestResubmissionRefreshesPointMetadata(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeMeal))
	user := uuid.New()
	first := daysAgoAt(3, 8)
	second := daysAgoAt(1, 19)

	h.submitAt(t, user, mealText, first)
	embeds := h.emb.calls.Load()
	v := h.submitAt(t, user, mealText, second)
	if v.Status != entries.StatusCompleted || v.Revision != 2 {
		t.Fatalf("resubmission: want completed revision 2, got=%s %d", v.Status, v.Revision)
	}
	if got := h.emb.calls.Load() - embeds; got != 1 {
		t.Fatalf("embed calls on resubmit: want=1 got=%d", got)
	}
	ms := h.activePoints(t, user)
	if len(ms) != 1 {
		t.Fatalf("active points: want=1 got=%d", len(ms))
	}
	if !ms[0].EventAt.Equal(second) {
		t.Fatalf("point event time: want=%s got=%s", second, ms[0].EventAt)
	}
	if tod := ms[0].Metadata[vectorindex.MetaTimeOfDay]; tod != string(entries.TimeEvening) {
		t.Fatalf("point time of day: want=%s got=%v", entries.TimeEvening, tod)
	}
}

func TestRolledBackPersistWithdrawsPoint(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeMeal))
	user := uuid.New()
	h.tx.FailAfterBody = errors.New("commit refused")

	v := h.submit(t, user, mealText)
	if v.Status == entries.StatusCompleted || v.RecordID != nil {
		t.Fatalf("entry: want not completed without record, got=%s record=%v", v.Status, v.RecordID)
	}
	if h.tx.RollbackCalls == 0 {
		t.Fatalf("rollbacks: want>0 got=0")
	}
	if h.index.Len() != 1 {
		t.Fatalf("stored points: want=1 got=%d", h.index.Len())
	}
	if ms := h.activePoints(t, user); len(ms) != 0 {
		t.Fatalf("active points after rollback: want=0 got=%d", len(ms))
	}
	n, err := h.repos.Records.CountByEntry(dbctx.Context{Ctx: context.Background()}, v.ID)
	if err != nil || n != 0 {
		t.Fatalf("records: want=0 got=%d err=%v", n, err)
	}
}

func TestRolledBackResubmissionWithdrawsReusedPoint(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeMeal))
	user := uuid.New()
	h.submit(t, user, mealText)
	if ms := h.activePoints(t, user); len(ms) != 1 {
		t.Fatalf("active points: want=1 got=%d", len(ms))
	}

	h.tx.FailAfterBody = errors.New("commit refused")
	v := h.submit(t, user, mealText)
	if v.Status == entries.StatusCompleted {
		t.Fatalf("resubmission: want not completed, got=%s", v.Status)
	}
	if ms := h.activePoints(t, user); len(ms) != 0 {
		t.Fatalf("active points after rollback: want=0 got=%d", len(ms))
	}
}

func TestHeuristicMorningRunUsesHistory(t *testing.T) {
	h := newHarness(t, heuristicClassifier(t))
	user := uuid.New()
	for i, text := range []string{
		"ran 5k in 31 min this morning",
		"ran 5k in 32 min this morning",
		"ran 5k in 33 min this morning",
	} {
		v := h.submitAt(t, user, text, daysAgoAt(i+2, 7))
		if v.Status != entries.StatusCompleted {
			t.Fatalf("history %q: want completed got=%s (%+v)", text, v.Status, v.Error)
		}
	}

	v := h.submitAt(t, user, "morning run", daysAgoAt(1, 7))
	if v.Status != entries.StatusCompleted {
		t.Fatalf("status: want=completed got=%s (%+v)", v.Status, v.Error)
	}
	c := v.Classification
	if c == nil || c.Mode != entries.ModeLog || c.NeedsClarification || *c.Subtype != entries.SubtypeWorkout {
		t.Fatalf("classification: want log/workout got=%+v", c)
	}
	w, ok := v.Record.(*entries.WorkoutRecord)
	if !ok {
		t.Fatalf("record: want workout got=%T", v.Record)
	}
	if w.DurationMin == nil || *w.DurationMin < 31 || *w.DurationMin > 33 {
		t.Fatalf("duration: want within [31,33] got=%v", w.DurationMin)
	}
	if w.DistanceKm == nil || *w.DistanceKm != 5 {
		t.Fatalf("distance: want=5 got=%v", w.DistanceKm)
	}
	if src := w.Header().FieldSource("duration_min"); src != entries.ProvenancePatternEstimated {
		t.Fatalf("duration provenance: want=%s got=%s", entries.ProvenancePatternEstimated, src)
	}
}

func heuristicClassifier(t *testing.T) classifier.Service {
	t.Helper()
	pol := testutil.Policy()
	svc, err := classifier.NewService(repotest.Logger(t), testutil.Runner(t, pol), pol.Classifier, classifier.Heuristic{})
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	return svc
}

// daysAgoAt is hour o'clock UTC, n days before today.
func daysAgoAt(n, hour int) time.Time {
	d := time.Now().UTC().AddDate(0, 0, -n)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

func TestEmbeddingOutageFailsEntry(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeWorkout))
	h.emb.err = entries.NewError(entries.KindEmbeddingUnavailable, "embedding provider down", nil)
	user := uuid.New()

	v := h.submit(t, user, "ran 5k in 25 min")
	if v.Status != entries.StatusFailed || v.Error == nil {
		t.Fatalf("status: want=failed got=%s", v.Status)
	}
	if v.Error.Kind != entries.KindEmbeddingUnavailable {
		t.Fatalf("error kind: want=%s got=%s", entries.KindEmbeddingUnavailable, v.Error.Kind)
	}
	if v.Error.Stage != entries.StageEstimating {
		t.Fatalf("error stage: want=%s got=%s", entries.StageEstimating, v.Error.Stage)
	}
	if v.RecordID != nil || v.Record != nil {
		t.Fatalf("failed entry must not have a record")
	}
	if h.index.Len() != 0 {
		t.Fatalf("vectors: want=0 got=%d", h.index.Len())
	}
	s := h.stats(t, user)
	if s.TotalEntries != 1 || s.FailedEntries != 1 {
		t.Fatalf("stats: got=%+v", s)
	}
}

func TestConcurrentSubmissionsCountStats(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeWorkout))
	user := uuid.New()
	const n = 8

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.c.Submit(context.Background(), intake.Submission{
				UserID: user,
				Text:   fmt.Sprintf("ran %dk in %d min", i+1, 10*(i+1)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	h.c.Wait()

	s := h.stats(t, user)
	if s.TotalEntries != n || s.LogEntries != n || s.WorkoutEntries != n {
		t.Fatalf("stats: want=%d got total=%d log=%d workout=%d", n, s.TotalEntries, s.LogEntries, s.WorkoutEntries)
	}
	if h.index.Len() != n {
		t.Fatalf("vectors: want=%d got=%d", n, h.index.Len())
	}
}

func TestChatEntryGetsContext(t *testing.T) {
	cls := logAs(entries.SubtypeMeal)
	h := newHarness(t, cls)
	user := uuid.New()
	h.submit(t, user, mealText)

	cls.fn = func(string) (entries.Classification, error) {
		return entries.ChatAs(0.95, "question"), nil
	}
	v := h.submit(t, user, "how much protein did I eat today?")
	if v.Status != entries.StatusCompleted || v.Classification == nil || v.Classification.Mode != entries.ModeChat {
		t.Fatalf("chat: got status=%s classification=%+v", v.Status, v.Classification)
	}
	if len(v.ChatContext) != 1 {
		t.Fatalf("chat context: want=1 got=%d", len(v.ChatContext))
	}
	if v.RecordID != nil {
		t.Fatalf("chat entry must not have a record")
	}
	if h.index.Len() != 1 {
		t.Fatalf("chat text must not be indexed: vectors=%d", h.index.Len())
	}
	s := h.stats(t, user)
	if s.TotalEntries != 2 || s.ChatEntries != 1 {
		t.Fatalf("stats: got=%+v", s)
	}
}

func TestClassifierOutageAsksForClarification(t *testing.T) {
	h := newHarness(t, &fakeClassifier{fn: func(string) (entries.Classification, error) {
		return entries.Classification{}, entries.NewError(entries.KindClassificationUnavailable, "all providers down", nil)
	}})
	user := uuid.New()

	v := h.submit(t, user, "something happened")
	if v.Status != entries.StatusCompleted {
		t.Fatalf("status: want=completed got=%s (%+v)", v.Status, v.Error)
	}
	if v.Classification == nil || !v.Classification.NeedsClarification {
		t.Fatalf("classification: want clarification got=%+v", v.Classification)
	}
	if h.emb.calls.Load() != 0 {
		t.Fatalf("clarification must not retrieve context")
	}
	s := h.stats(t, user)
	if s.ClarificationEntries != 1 || s.ChatEntries != 1 {
		t.Fatalf("stats: got=%+v", s)
	}
}

func TestPreviewThenCommitWithEdit(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeMeal))
	user := uuid.New()
	ctx := context.Background()

	pv, err := h.c.Preview(ctx, intake.Submission{UserID: user, Text: mealText})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if pv.Stage != entries.StageEstimating || pv.Draft == nil {
		t.Fatalf("preview: want parked draft got stage=%s draft=%v", pv.Stage, pv.Draft)
	}
	if h.index.Len() != 0 {
		t.Fatalf("preview must not index")
	}

	draft, ok := pv.Draft.Record.(*entries.MealRecord)
	if !ok {
		t.Fatalf("draft: want=*MealRecord got=%T", pv.Draft.Record)
	}
	edited := *draft
	kcal := 700.0
	edited.Calories = &kcal

	v, err := h.c.Commit(ctx, pv.ID, &edited)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if v.Status != entries.StatusCompleted || v.Draft != nil {
		t.Fatalf("commit: want completed without draft got=%s draft=%v", v.Status, v.Draft)
	}
	meal := v.Record.(*entries.MealRecord)
	if meal.Calories == nil || *meal.Calories != 700 {
		t.Fatalf("calories: want=700 got=%v", meal.Calories)
	}
	if got := meal.FieldSource("calories"); got != entries.ProvenanceUserEntered {
		t.Fatalf("calories provenance: want=%s got=%s", entries.ProvenanceUserEntered, got)
	}
	if got := meal.FieldSource("protein_g"); got == entries.ProvenanceUserEntered {
		t.Fatalf("unchanged field marked user-entered")
	}
	if h.index.Len() != 1 {
		t.Fatalf("vectors: want=1 got=%d", h.index.Len())
	}

	if _, err := h.c.Commit(ctx, pv.ID, nil); !entries.IsKind(err, entries.KindValidation) {
		t.Fatalf("second commit: want=ValidationError got=%v", err)
	}
}

func TestCommitRejectsSubtypeChange(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeMeal))
	pv, err := h.c.Preview(context.Background(), intake.Submission{UserID: uuid.New(), Text: mealText})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	_, err = h.c.Commit(context.Background(), pv.ID, &entries.NoteRecord{Text: "not a meal"})
	if !entries.IsKind(err, entries.KindValidation) {
		t.Fatalf("kind: want=ValidationError got=%v", err)
	}
}

func TestRetireHidesEntry(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeMeal))
	user := uuid.New()
	v := h.submit(t, user, mealText)
	ctx := context.Background()

	if err := h.c.Retire(ctx, v.ID); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	got, err := h.c.GetStatus(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.RetiredAt == nil {
		t.Fatalf("retired_at not set")
	}
	matches, err := h.index.Search(ctx, vectorindex.Query{Vector: []float32{1, 0, 0, 0}, UserID: user, K: 5})
	if err != nil || len(matches) != 0 {
		t.Fatalf("search after retire: want none got=%d err=%v", len(matches), err)
	}
	cv, err := h.c.GetContext(ctx, user, "what did I eat", 0)
	if err != nil || len(cv.Snippets) != 0 || cv.Context != "" {
		t.Fatalf("context after retire: got=%+v err=%v", cv, err)
	}
	if err := h.c.Retire(ctx, v.ID); err != nil {
		t.Fatalf("second Retire: %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeNote))
	cases := []struct {
		name string
		sub  intake.Submission
	}{
		{"no_user", intake.Submission{Text: "hello"}},
		{"no_content", intake.Submission{UserID: uuid.New()}},
		{"blank_text", intake.Submission{UserID: uuid.New(), Text: "   \n\t"}},
		{"media_disabled", intake.Submission{UserID: uuid.New(), AudioRef: "gs://bucket/a.ogg"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.c.Submit(context.Background(), tc.sub)
			if !entries.IsKind(err, entries.KindValidation) {
				t.Fatalf("kind: want=ValidationError got=%v", err)
			}
		})
	}
}

func TestGetStatusNotFound(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeNote))
	_, err := h.c.GetStatus(context.Background(), uuid.New())
	if !entries.IsKind(err, entries.KindNotFound) {
		t.Fatalf("kind: want=NotFound got=%v", err)
	}
}

func TestCloseLeavesLateEntriesPending(t *testing.T) {
	h := newHarness(t, logAs(entries.SubtypeNote))
	if err := h.c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	id, err := h.c.Submit(context.Background(), intake.Submission{UserID: uuid.New(), Text: "felt tired today"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v, err := h.c.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if v.Stage != entries.StagePending {
		t.Fatalf("stage: want=pending got=%s", v.Stage)
	}
	if err := h.c.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if v, _ = h.c.GetStatus(context.Background(), id); v.Status != entries.StatusCompleted {
		t.Fatalf("status after Process: want=completed got=%s", v.Status)
	}
}
