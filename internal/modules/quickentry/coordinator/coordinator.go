// Package coordinator owns the quick-entry state machine: it accepts
// submissions, runs each entry's pipeline in the background and exposes the
// status, preview/commit, retire and chat-context operations.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	"github.com/yungbote/quickentry-backend/internal/data/repos"
	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/classifier"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/ctxbuilder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/embedder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/estimator"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/extractor"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/intake"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/media"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

// Service is the caller-facing surface used by the HTTP handlers.
type Service interface {
	Submit(ctx context.Context, sub intake.Submission) (uuid.UUID, error)
	Preview(ctx context.Context, sub intake.Submission) (StatusView, error)
	Commit(ctx context.Context, entryID uuid.UUID, edited entries.Record) (StatusView, error)
	GetStatus(ctx context.Context, entryID uuid.UUID) (StatusView, error)
	GetContext(ctx context.Context, userID uuid.UUID, queryText string, maxChars int) (ContextView, error)
	Retire(ctx context.Context, entryID uuid.UUID) error
}

type Deps struct {
	Log        *logger.Logger
	Policy     policy.Policy
	Tx         aggregates.TxRunner
	Repos      repos.Set
	Runner     *capability.Runner
	Classifier classifier.Service
	Extractor  extractor.Service
	Estimator  estimator.Service
	Embedder   embedder.Service
	Index      vectorindex.Index
	Context    ctxbuilder.Service
	// Media is optional; without it media-only submissions are rejected.
	Media   *media.Chain
	Metrics *observability.Metrics
}

type Coordinator struct {
	log        *logger.Logger
	pol        policy.Policy
	tx         aggregates.TxRunner
	repos      repos.Set
	runner     *capability.Runner
	classifier classifier.Service
	extractor  extractor.Service
	estimator  estimator.Service
	embedder   embedder.Service
	index      vectorindex.Index
	context    ctxbuilder.Service
	media      *media.Chain
	metrics    *observability.Metrics

	locks  *entryLocks
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	now    func() time.Time
}

// errSuperseded ends a run whose entry was restarted by a resubmission.
var errSuperseded = errors.New("entry superseded by a newer submission")

const finalWriteTimeout = 10 * time.Second

func New(d Deps) (*Coordinator, error) {
	if d.Log == nil {
		return nil, fmt.Errorf("logger required")
	}
	switch {
	case d.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case d.Repos.QuickEntries == nil || d.Repos.Records == nil || d.Repos.Embeddings == nil ||
		d.Repos.Stats == nil || d.Repos.CallLogs == nil:
		return nil, fmt.Errorf("repos required")
	case d.Runner == nil:
		return nil, fmt.Errorf("capability runner required")
	case d.Classifier == nil || d.Extractor == nil || d.Estimator == nil || d.Embedder == nil:
		return nil, fmt.Errorf("classifier, extractor, estimator and embedder required")
	case d.Index == nil || d.Context == nil:
		return nil, fmt.Errorf("vector index and context builder required")
	}
	return &Coordinator{
		log:        d.Log.With("service", "EntryCoordinator"),
		pol:        d.Policy,
		tx:         d.Tx,
		repos:      d.Repos,
		runner:     d.Runner,
		classifier: d.Classifier,
		extractor:  d.Extractor,
		estimator:  d.Estimator,
		embedder:   d.Embedder,
		index:      d.Index,
		context:    d.Context,
		media:      d.Media,
		metrics:    d.Metrics,
		locks:      newEntryLocks(),
		now:        time.Now,
	}, nil
}

// Submit stores the entry and schedules its pipeline. The pipeline outlives
// ctx; only the pipeline ceiling can stop it.
func (c *Coordinator) Submit(ctx context.Context, sub intake.Submission) (uuid.UUID, error) {
	e, err := c.accept(ctx, sub)
	if err != nil {
		return uuid.Nil, err
	}
	c.schedule(ctx, e.ID)
	return e.ID, nil
}

// Process runs the pipeline of a pending entry synchronously. Entries that
// are no longer pending are left alone.
func (c *Coordinator) Process(ctx context.Context, entryID uuid.UUID) error {
	_, err := c.process(ctx, entryID, false)
	return err
}

// Wait blocks until every scheduled pipeline has returned.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close stops scheduling new pipelines and waits for running ones until ctx
// is done. Entries accepted after Close stay pending for the sweeper.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) accept(ctx context.Context, sub intake.Submission) (*entries.QuickEntry, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	refs := media.RefsOf(sub.MediaRefs())
	var (
		transcripts []string
		attempts    []entries.Attempt
	)
	if len(refs) > 0 {
		if c.media == nil {
			return nil, entries.NewError(entries.KindValidation, "media submissions are not enabled", nil)
		}
		var err error
		transcripts, attempts, err = c.media.Resolve(ctx, refs)
		if err != nil {
			c.recordUsage(ctx, sub.UserID, nil, attempts)
			return nil, err
		}
	}

	raw := intake.Compose(sub.Text, transcripts...)
	normalized := intake.Normalize(raw)
	if normalized == "" {
		return nil, entries.NewError(entries.KindValidation, "submission has no usable content", nil)
	}
	e := &entries.QuickEntry{
		UserID:         sub.UserID,
		ContentHash:    intake.ContentHash(normalized),
		Modalities:     datatypes.NewJSONType(sub.Modalities()),
		RawText:        raw,
		NormalizedText: normalized,
		MediaRefs:      datatypes.NewJSONType(sub.MediaRefs()),
		SubmittedAt:    c.now().UTC(),
		OccurredAt:     sub.OccurredAt,
	}
	saved, err := c.repos.QuickEntries.CreateOrBump(dbctx.Of(ctx), e)
	if err != nil {
		return nil, err
	}
	c.recordUsage(ctx, saved.UserID, &saved.ID, attempts)
	c.log.Debug("quick entry accepted", "entry_id", saved.ID, "user_id", saved.UserID, "revision", saved.Revision)
	return saved, nil
}

// recordUsage books provider calls made outside a pipeline run.
func (c *Coordinator) recordUsage(ctx context.Context, userID uuid.UUID, entryID *uuid.UUID, attempts []entries.Attempt) {
	if len(attempts) == 0 {
		return
	}
	var d entries.StatsDelta
	d.AddAttempts(attempts)
	err := c.tx.InTx(ctx, func(dbc dbctx.Context) error {
		if err := c.repos.CallLogs.Create(dbc, userID, entryID, attempts); err != nil {
			return err
		}
		return c.repos.Stats.Increment(dbc, userID, d)
	})
	if err != nil {
		c.log.Warn("failed to record provider usage", "user_id", userID, "error", err)
	}
}

func (c *Coordinator) schedule(ctx context.Context, entryID uuid.UUID) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Warn("coordinator closed; entry left pending", "entry_id", entryID)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		runCtx, cancel := context.WithTimeout(ctxutil.Detach(ctx), c.pol.Pipeline.Ceiling)
		defer cancel()
		if err := c.Process(runCtx, entryID); err != nil {
			c.log.Debug("pipeline returned error", "entry_id", entryID, "error", err)
		}
	}()
}

type entryLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func newEntryLocks() *entryLocks {
	return &entryLocks{locks: map[uuid.UUID]*entryLock{}}
}

// lock serializes work on one entry and returns the unlock func.
func (l *entryLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	el := l.locks[id]
	if el == nil {
		el = &entryLock{}
		l.locks[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
