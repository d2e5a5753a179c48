package coordinator

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/classifier"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/ctxbuilder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/estimator"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/extractor"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

// run is the in-memory state of one pipeline execution.
type run struct {
	entry          *entries.QuickEntry
	classification *entries.Classification
	attempts       []entries.Attempt
	delta          entries.StatsDelta
	preview        bool
	started        time.Time
}

var stageSpans = map[entries.Stage]string{
	entries.StageClassifying: "quickentry.classify",
	entries.StageExtracting:  "quickentry.extract",
	entries.StageEstimating:  "quickentry.estimate",
	entries.StagePersisting:  "quickentry.persist",
	entries.StageRetrieving:  "quickentry.retrieve",
}

func (c *Coordinator) process(ctx context.Context, entryID uuid.UUID, preview bool) (*run, error) {
	unlock := c.locks.lock(entryID)
	defer unlock()

	e, err := c.repos.QuickEntries.Get(dbctx.Of(ctx), entryID)
	if err != nil {
		return nil, err
	}
	if e.Stage != entries.StagePending {
		c.log.Debug("entry not pending; skipping run", "entry_id", entryID, "stage", e.Stage)
		return nil, nil
	}

	r := &run{entry: e, preview: preview, started: c.now()}
	c.metrics.PipelineStarted()
	defer c.metrics.PipelineFinished()

	ctx, span := observability.StartSpan(ctx, "quickentry.pipeline",
		attribute.String("quickentry.entry_id", entryID.String()),
		attribute.Int("quickentry.revision", e.Revision),
	)
	err = c.runPipeline(ctx, r)
	if errors.Is(err, errSuperseded) {
		c.log.Debug("run superseded by resubmission", "entry_id", entryID)
		observability.EndSpan(span, nil, "")
		return r, nil
	}
	if err != nil {
		c.fail(ctx, r, err)
	}
	c.observe(r, err)
	observability.EndSpan(span, err, string(entries.KindOf(err)))
	return r, err
}

func (c *Coordinator) runPipeline(ctx context.Context, r *run) error {
	cls, err := c.classify(ctx, r)
	if err != nil {
		return err
	}
	if !cls.IsLog() {
		return c.respond(ctx, r, cls)
	}
	rec, err := c.extract(ctx, r, *cls.Subtype)
	if err != nil {
		return err
	}
	est, err := c.estimate(ctx, r, rec)
	if err != nil {
		return err
	}
	if r.preview {
		return c.park(ctx, r, rec, est)
	}
	return c.persist(ctx, r, rec, false)
}

// stage wraps one stage body with its span, metrics and error stamping.
func (c *Coordinator) stage(ctx context.Context, r *run, stage entries.Stage, fn func(ctx context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, stageSpans[stage],
		attribute.String("quickentry.entry_id", r.entry.ID.String()),
		attribute.String("quickentry.stage", string(stage)),
	)
	start := c.now()
	err := fn(ctx)
	if err != nil && !errors.Is(err, errSuperseded) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && entries.KindOf(err) != entries.KindTimeout {
			err = entries.NewError(entries.KindTimeout, "pipeline ceiling reached", err)
		}
		err = entries.AtStage(err, stage)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.ObserveStage(string(stage), status, c.now().Sub(start))
	observability.EndSpan(span, err, string(entries.KindOf(err)))
	return err
}

// advance moves the entry forward only from the expected stage. A miss means
// a resubmission restarted the entry underneath this run.
func (c *Coordinator) advance(dbc dbctx.Context, r *run, from, to entries.Stage, updates map[string]interface{}) error {
	ok, err := c.repos.QuickEntries.Advance(dbc, r.entry.ID, []entries.Stage{from}, to, updates)
	if err != nil {
		return err
	}
	if !ok {
		return errSuperseded
	}
	r.entry.Stage = to
	c.log.Debug("entry stage advanced", "entry_id", r.entry.ID, "from", from, "to", to)
	return nil
}

func (c *Coordinator) classify(ctx context.Context, r *run) (entries.Classification, error) {
	if err := c.advance(dbctx.Of(ctx), r, entries.StagePending, entries.StageClassifying, nil); err != nil {
		return entries.Classification{}, err
	}
	var cls entries.Classification
	err := c.stage(ctx, r, entries.StageClassifying, func(ctx context.Context) error {
		out, attempts, err := c.classifier.Classify(ctx, classifier.Input{
			Text:     r.entry.NormalizedText,
			HasImage: hasModality(r.entry, entries.ModalityImage),
		})
		r.attempts = append(r.attempts, attempts...)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			// Asking the user is a valid outcome when no provider answers.
			c.log.Warn("classification unavailable; asking for clarification", "entry_id", r.entry.ID, "error", err)
			out = entries.ChatAs(0, "classification unavailable").Clarify()
		}
		cls = out
		return nil
	})
	r.classification = &cls
	return cls, err
}

// respond finishes the chat path: a clarification request completes at once,
// a chat query gets its retrieval context. Chat text is never indexed.
func (c *Coordinator) respond(ctx context.Context, r *run, cls entries.Classification) error {
	r.delta.Chat = 1
	classification := datatypes.NewJSONType(&cls)
	if cls.NeedsClarification {
		r.delta.Clarification = 1
		return c.tx.InTx(ctx, func(dbc dbctx.Context) error {
			return c.closeOut(dbc, r, entries.StageClassifying, map[string]interface{}{"classification": classification})
		})
	}

	err := c.advance(dbctx.Of(ctx), r, entries.StageClassifying, entries.StageRetrieving,
		map[string]interface{}{"classification": classification})
	if err != nil {
		return err
	}
	var snippets []entries.Snippet
	err = c.stage(ctx, r, entries.StageRetrieving, func(ctx context.Context) error {
		out, attempts, err := c.context.Build(ctx, r.entry.UserID, r.entry.NormalizedText, ctxbuilder.Options{})
		r.attempts = append(r.attempts, attempts...)
		if err != nil {
			return err
		}
		snippets = out
		return nil
	})
	if err != nil {
		return err
	}
	return c.tx.InTx(ctx, func(dbc dbctx.Context) error {
		return c.closeOut(dbc, r, entries.StageRetrieving, map[string]interface{}{
			"chat_context": datatypes.NewJSONType(snippets),
		})
	})
}

func (c *Coordinator) extract(ctx context.Context, r *run, subtype entries.Subtype) (entries.Record, error) {
	r.delta.Log = 1
	r.delta.CountSubtype(subtype)
	err := c.advance(dbctx.Of(ctx), r, entries.StageClassifying, entries.StageExtracting,
		map[string]interface{}{"classification": datatypes.NewJSONType(r.classification)})
	if err != nil {
		return nil, err
	}
	var rec entries.Record
	err = c.stage(ctx, r, entries.StageExtracting, func(ctx context.Context) error {
		out, attempts, err := c.extractor.Extract(ctx, extractor.Input{
			Text:        r.entry.NormalizedText,
			Subtype:     subtype,
			SubmittedAt: r.entry.SubmittedAt,
			OccurredAt:  r.entry.OccurredAt,
		})
		r.attempts = append(r.attempts, attempts...)
		if err != nil {
			return err
		}
		h := out.Header()
		h.QuickEntryID = r.entry.ID
		h.UserID = r.entry.UserID
		h.Confidence = r.classification.Confidence
		rec = out
		return nil
	})
	if err != nil {
		r.delta.ExtractionFailure = 1
		return nil, err
	}
	r.delta.ExtractionSuccess = 1
	return rec, nil
}

func (c *Coordinator) estimate(ctx context.Context, r *run, rec entries.Record) (*entries.PatternEstimate, error) {
	if err := c.advance(dbctx.Of(ctx), r, entries.StageExtracting, entries.StageEstimating, nil); err != nil {
		return nil, err
	}
	var est *entries.PatternEstimate
	err := c.stage(ctx, r, entries.StageEstimating, func(ctx context.Context) error {
		out, attempts, err := c.estimator.Estimate(ctx, rec, r.entry.NormalizedText, r.entry.UserID)
		r.attempts = append(r.attempts, attempts...)
		if err != nil {
			return err
		}
		est = out
		return nil
	})
	if err != nil || est == nil {
		return est, err
	}
	if filled := estimator.Apply(rec, est); len(filled) > 0 {
		h := rec.Header()
		h.Confidence = math.Min(h.Confidence, est.Confidence)
		c.log.Debug("record gaps estimated", "entry_id", r.entry.ID, "fields", filled, "tier", est.Tier)
	}
	c.metrics.IncEstimateTier(string(rec.Subtype()), string(est.Tier))
	return est, nil
}

// persist commits the record, its embedding row, the entry completion and
// the stats increment in one transaction, with the index write as its last
// step. The index is not transactional, so a rollback after that write
// withdraws the point again.
func (c *Coordinator) persist(ctx context.Context, r *run, rec entries.Record, reindex bool) error {
	if err := c.advance(dbctx.Of(ctx), r, entries.StageEstimating, entries.StagePersisting, nil); err != nil {
		return err
	}
	var vectorAttempts []entries.Attempt
	err := c.stage(ctx, r, entries.StagePersisting, func(ctx context.Context) error {
		e := r.entry
		existing, err := c.repos.Embeddings.GetByEntry(dbctx.Of(ctx), e.ID, entries.EmbeddingContent)
		if err != nil && !entries.IsKind(err, entries.KindNotFound) {
			return err
		}
		reuse := !reindex && existing != nil && existing.Active &&
			existing.ContentHash == e.ContentHash && existing.Dim == c.embedder.Dim()

		var vec []float32
		if !reuse {
			v, attempts, err := c.embedder.Embed(ctx, e.NormalizedText)
			r.attempts = append(r.attempts, attempts...)
			if err != nil {
				return err
			}
			vec = v
		}

		h := rec.Header()
		point := vectorindex.Point{
			ID:           vectorindex.PointID(e.ID, entries.EmbeddingContent),
			Vector:       vec,
			UserID:       e.UserID,
			QuickEntryID: e.ID,
			Subtype:      rec.Subtype(),
			EventAt:      h.EventAt,
			Active:       true,
			Content:      e.NormalizedText,
			Metadata:     pointMetadata(rec, e.ContentHash),
		}
		indexed := false
		err = c.tx.InTx(ctx, func(dbc dbctx.Context) error {
			if err := c.repos.Records.DeleteOtherSubtypes(dbc, e.ID, rec.Subtype()); err != nil {
				return err
			}
			saved, err := c.repos.Records.Upsert(dbc, rec)
			if err != nil {
				return err
			}
			row, err := c.repos.Embeddings.Upsert(dbc, &entries.EntryEmbedding{
				QuickEntryID: e.ID,
				Kind:         entries.EmbeddingContent,
				UserID:       e.UserID,
				PointID:      point.ID,
				Dim:          c.embedder.Dim(),
				Model:        c.embedder.Model(),
				SourceText:   e.NormalizedText,
				ContentHash:  e.ContentHash,
				Subtype:      rec.Subtype(),
				EventAt:      h.EventAt,
				TimeOfDay:    h.TimeOfDay,
				Active:       true,
			})
			if err != nil {
				return err
			}
			recordID, embeddingID := saved.Header().ID, row.ID
			err = c.closeOut(dbc, r, entries.StagePersisting, map[string]interface{}{
				"record_id":      recordID,
				"record_subtype": string(rec.Subtype()),
				"embedding_id":   embeddingID,
				"draft":          nil,
			})
			if err != nil {
				return err
			}
			// A timed-out write may still have landed.
			indexed = true
			attempts, err := c.writePoint(ctx, r, point, reuse)
			vectorAttempts = append(vectorAttempts, attempts...)
			return err
		})
		if err != nil && indexed {
			c.withdrawPoint(ctx, e.UserID, point.ID)
		}
		return err
	})
	r.attempts = append(r.attempts, vectorAttempts...)
	if err == nil {
		c.recordUsage(ctx, r.entry.UserID, &r.entry.ID, vectorAttempts)
	}
	return err
}

// writePoint upserts the entry's point. A reused embedding only refreshes the
// stored point's metadata; if the index lost the point it is embedded again.
func (c *Coordinator) writePoint(ctx context.Context, r *run, point vectorindex.Point, reuse bool) ([]entries.Attempt, error) {
	var attempts []entries.Attempt
	if reuse {
		out, err := c.callIndex(ctx, func(ctx context.Context) error { return c.index.Refresh(ctx, point) })
		attempts = append(attempts, out...)
		if !entries.IsKind(err, entries.KindNotFound) {
			return attempts, err
		}
		c.log.Warn("stored point missing from index; embedding again", "entry_id", r.entry.ID, "point_id", point.ID)
		vec, embedAttempts, err := c.embedder.Embed(ctx, r.entry.NormalizedText)
		attempts = append(attempts, embedAttempts...)
		if err != nil {
			return attempts, err
		}
		point.Vector = vec
	}
	out, err := c.callIndex(ctx, func(ctx context.Context) error { return c.index.Upsert(ctx, point) })
	return append(attempts, out...), err
}

func (c *Coordinator) callIndex(ctx context.Context, fn func(ctx context.Context) error) ([]entries.Attempt, error) {
	_, attempts, err := capability.Run(ctx, c.runner, policy.CapVector, capability.Call[struct{}]{
		Provider: "vector_index",
		Fn: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		},
	})
	switch entries.KindOf(err) {
	case "", entries.KindTimeout, entries.KindValidation, entries.KindNotFound, entries.KindVectorIndexUnavailable:
	default:
		err = entries.NewError(entries.KindVectorIndexUnavailable, "vector index write failed", err)
	}
	return attempts, err
}

// withdrawPoint deactivates a point whose transaction rolled back. It gets a
// fresh deadline since the run's own may be spent.
func (c *Coordinator) withdrawPoint(ctx context.Context, userID uuid.UUID, pointID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := c.index.Deactivate(ctx, userID, []string{pointID}); err != nil {
		c.log.Error("could not withdraw point after rollback", "point_id", pointID, "user_id", userID, "error", err)
		return
	}
	c.log.Warn("point withdrawn after rollback", "point_id", pointID, "user_id", userID)
}

// park stores the previewed record as a draft. The entry stays in
// estimating until Commit.
func (c *Coordinator) park(ctx context.Context, r *run, rec entries.Record, est *entries.PatternEstimate) error {
	draft, err := encodeDraft(rec, est)
	if err != nil {
		return entries.AtStage(entries.NewError(entries.KindValidation, "encode draft", err), entries.StageEstimating)
	}
	err = c.repos.QuickEntries.UpdateFields(dbctx.Of(ctx), r.entry.ID, map[string]interface{}{
		"draft":          datatypes.JSON(draft),
		"provider_trail": datatypes.NewJSONType(r.attempts),
	})
	if err != nil {
		return entries.AtStage(err, entries.StageEstimating)
	}
	c.recordUsage(ctx, r.entry.UserID, &r.entry.ID, r.attempts)
	return nil
}

// closeOut completes the entry, increments the user's stats and writes the
// call log. It must run inside the caller's transaction.
func (c *Coordinator) closeOut(dbc dbctx.Context, r *run, from entries.Stage, updates map[string]interface{}) error {
	updates["provider_trail"] = datatypes.NewJSONType(r.attempts)
	if err := c.advance(dbc, r, from, entries.StageCompleted, updates); err != nil {
		return err
	}
	d := r.delta
	d.Total = 1
	d.AddAttempts(r.attempts)
	if err := c.repos.Stats.Increment(dbc, r.entry.UserID, d); err != nil {
		return err
	}
	return c.repos.CallLogs.Create(dbc, r.entry.UserID, &r.entry.ID, r.attempts)
}

// fail records the terminal failure with its kind and stage. Its writes get
// a fresh deadline so a run that hit the ceiling can still be recorded.
func (c *Coordinator) fail(ctx context.Context, r *run, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	kind := entries.KindOf(cause)
	stage := entries.StageOf(cause)
	if stage == "" {
		stage = r.entry.Stage
	}
	d := r.delta
	d.Total = 1
	d.Failed = 1
	d.AddAttempts(r.attempts)
	err := c.tx.InTx(ctx, func(dbc dbctx.Context) error {
		ok, err := c.repos.QuickEntries.MarkFailed(dbc, r.entry.ID, kind, stage, errorMessage(cause))
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		if err := c.repos.QuickEntries.UpdateFields(dbc, r.entry.ID, map[string]interface{}{
			"provider_trail": datatypes.NewJSONType(r.attempts),
		}); err != nil {
			return err
		}
		if err := c.repos.Stats.Increment(dbc, r.entry.UserID, d); err != nil {
			return err
		}
		return c.repos.CallLogs.Create(dbc, r.entry.UserID, &r.entry.ID, r.attempts)
	})
	switch {
	case errors.Is(err, errSuperseded):
		c.log.Debug("failed run was superseded", "entry_id", r.entry.ID)
	case err != nil:
		c.log.Error("failed to record entry failure", "entry_id", r.entry.ID, "error", err)
	default:
		r.entry.Stage = entries.StageFailed
		c.log.Warn("quick entry failed",
			"entry_id", r.entry.ID,
			"stage", stage,
			"error_kind", kind,
			"error", cause,
		)
	}
}

func (c *Coordinator) observe(r *run, err error) {
	mode, subtype := "", ""
	if r.classification != nil {
		mode = string(r.classification.Mode)
		if r.classification.Subtype != nil {
			subtype = string(*r.classification.Subtype)
		}
	}
	status := string(entries.StatusCompleted)
	if r.preview && err == nil && r.entry.Stage == entries.StageEstimating {
		status = "previewed"
	}
	if err != nil {
		status = string(entries.StatusFailed)
	}
	c.metrics.ObservePipeline(mode, subtype, status, string(entries.KindOf(err)), c.now().Sub(r.started))
}

func pointMetadata(rec entries.Record, contentHash string) map[string]any {
	fields := map[string]any{}
	for k, v := range entries.ObservedNumeric(rec) {
		fields[k] = v
	}
	meta := map[string]any{
		vectorindex.MetaTimeOfDay:   string(rec.Header().TimeOfDay),
		vectorindex.MetaFields:      fields,
		vectorindex.MetaSummary:     rec.Summary(),
		vectorindex.MetaContentHash: contentHash,
	}
	if m, ok := rec.(*entries.MeasurementRecord); ok {
		meta[vectorindex.MetaMeasurementKind] = string(m.Kind)
	}
	return meta
}

func hasModality(e *entries.QuickEntry, m entries.Modality) bool {
	for _, x := range e.Modalities.Data() {
		if x == m {
			return true
		}
	}
	return false
}

func errorMessage(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		msg = strings.ToValidUTF8(msg[:500], "")
	}
	return msg
}
