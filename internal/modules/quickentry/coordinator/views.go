package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/ctxbuilder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/intake"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
)

type ErrorView struct {
	Kind    entries.ErrorKind `json:"kind"`
	Stage   entries.Stage     `json:"stage"`
	Message string            `json:"message,omitempty"`
}

type DraftView struct {
	Subtype  entries.Subtype          `json:"subtype"`
	Record   entries.Record           `json:"record"`
	Estimate *entries.PatternEstimate `json:"estimate,omitempty"`
}

// StatusView is the caller-facing snapshot of an entry.
type StatusView struct {
	ID             uuid.UUID               `json:"quick_entry_id"`
	UserID         uuid.UUID               `json:"user_id"`
	Status         entries.Status          `json:"status"`
	Stage          entries.Stage           `json:"stage"`
	Revision       int                     `json:"revision"`
	Modalities     []entries.Modality      `json:"modalities"`
	RawText        string                  `json:"raw_text"`
	SubmittedAt    time.Time               `json:"submitted_at"`
	OccurredAt     *time.Time              `json:"occurred_at,omitempty"`
	Classification *entries.Classification `json:"classification,omitempty"`
	RecordID       *uuid.UUID              `json:"record_id,omitempty"`
	RecordSubtype  entries.Subtype         `json:"record_subtype,omitempty"`
	Record         entries.Record          `json:"record,omitempty"`
	Draft          *DraftView              `json:"draft,omitempty"`
	ChatContext    []entries.Snippet       `json:"chat_context,omitempty"`
	Error          *ErrorView              `json:"error,omitempty"`
	RetiredAt      *time.Time              `json:"retired_at,omitempty"`
}

type ContextView struct {
	Context  string            `json:"context"`
	Snippets []entries.Snippet `json:"snippets"`
}

func (c *Coordinator) GetStatus(ctx context.Context, entryID uuid.UUID) (StatusView, error) {
	dbc := dbctx.Of(ctx)
	e, err := c.repos.QuickEntries.Get(dbc, entryID)
	if err != nil {
		return StatusView{}, err
	}
	v := StatusView{
		ID:             e.ID,
		UserID:         e.UserID,
		Status:         e.Status,
		Stage:          e.Stage,
		Revision:       e.Revision,
		Modalities:     e.Modalities.Data(),
		RawText:        e.RawText,
		SubmittedAt:    e.SubmittedAt,
		OccurredAt:     e.OccurredAt,
		Classification: e.ClassificationResult(),
		RecordID:       e.RecordID,
		RecordSubtype:  e.RecordSubtype,
		ChatContext:    e.ChatContext.Data(),
		RetiredAt:      e.RetiredAt,
	}
	if e.ErrorKind != "" {
		v.Error = &ErrorView{Kind: e.ErrorKind, Stage: e.ErrorStage, Message: e.ErrorMessage}
	}
	if e.RecordID != nil && e.RecordSubtype != "" {
		rec, err := c.repos.Records.GetByEntry(dbc, e.RecordSubtype, e.ID)
		switch {
		case err == nil:
			v.Record = rec
		case !entries.IsKind(err, entries.KindNotFound):
			return StatusView{}, err
		}
	}
	if len(e.Draft) > 0 {
		d, rec, err := decodeDraft(e.Draft)
		if err != nil {
			return StatusView{}, err
		}
		v.Draft = &DraftView{Subtype: d.Subtype, Record: rec, Estimate: d.Estimate}
	}
	return v, nil
}

// Preview runs a submission through estimating and parks the result as a
// draft. Chat submissions complete as usual. A pipeline failure is reported
// in the returned view, not as an error.
func (c *Coordinator) Preview(ctx context.Context, sub intake.Submission) (StatusView, error) {
	e, err := c.accept(ctx, sub)
	if err != nil {
		return StatusView{}, err
	}
	runCtx, cancel := context.WithTimeout(ctxutil.Default(ctx), c.pol.Pipeline.Ceiling)
	defer cancel()
	if _, err := c.process(runCtx, e.ID, true); err != nil {
		c.log.Debug("preview run failed", "entry_id", e.ID, "error", err)
	}
	return c.GetStatus(ctx, e.ID)
}

// Commit persists a previewed entry from its draft, or from edited when the
// user changed it. Changed numeric fields become user-entered.
func (c *Coordinator) Commit(ctx context.Context, entryID uuid.UUID, edited entries.Record) (StatusView, error) {
	if err := c.commit(ctx, entryID, edited); err != nil {
		return StatusView{}, err
	}
	return c.GetStatus(ctx, entryID)
}

func (c *Coordinator) commit(ctx context.Context, entryID uuid.UUID, edited entries.Record) error {
	unlock := c.locks.lock(entryID)
	defer unlock()

	e, err := c.repos.QuickEntries.Get(dbctx.Of(ctx), entryID)
	if err != nil {
		return err
	}
	if e.Stage != entries.StageEstimating || len(e.Draft) == 0 {
		return entries.NewError(entries.KindValidation, "entry has no pending preview", nil)
	}
	d, rec, err := decodeDraft(e.Draft)
	if err != nil {
		return err
	}
	if edited != nil {
		if rec, err = c.mergeEdited(rec, edited); err != nil {
			return err
		}
	}

	r := &run{entry: e, classification: e.ClassificationResult(), started: c.now()}
	r.delta.Log = 1
	r.delta.ExtractionSuccess = 1
	r.delta.CountSubtype(d.Subtype)

	runCtx, cancel := context.WithTimeout(ctxutil.Detach(ctx), c.pol.Pipeline.Ceiling)
	defer cancel()
	err = c.persist(runCtx, r, rec, edited != nil)
	if errors.Is(err, errSuperseded) {
		return nil
	}
	if err != nil {
		c.fail(runCtx, r, err)
	}
	c.observe(r, err)
	return nil
}

// mergeEdited carries the draft's header onto edited and marks every numeric
// field whose value changed as user-entered.
func (c *Coordinator) mergeEdited(draft, edited entries.Record) (entries.Record, error) {
	if edited.Subtype() != draft.Subtype() {
		return nil, entries.NewError(entries.KindValidation, "edited record subtype does not match the preview", nil)
	}
	dh, eh := draft.Header(), edited.Header()
	h := *dh
	before := draft.Numeric()
	for name, v := range edited.Numeric() {
		old := before[name]
		if v != nil && (old == nil || *old != *v) {
			h.SetFieldSource(name, entries.ProvenanceUserEntered)
		}
	}
	if !eh.EventAt.IsZero() && !eh.EventAt.Equal(dh.EventAt) {
		h.EventAt = eh.EventAt
		h.TimeOfDay = c.pol.DayBuckets.ForTime(eh.EventAt)
	}
	*eh = h
	if m, ok := edited.(*entries.MealRecord); ok {
		m.RollUpMacros()
	}
	if err := edited.Validate(); err != nil {
		return nil, entries.NewError(entries.KindValidation, "edited record is invalid", err)
	}
	return edited, nil
}

// GetContext returns the rendered retrieval context for a chat turn. Provider
// outages yield an empty context.
func (c *Coordinator) GetContext(ctx context.Context, userID uuid.UUID, queryText string, maxChars int) (ContextView, error) {
	snippets, attempts, err := c.context.Build(ctx, userID, queryText, ctxbuilder.Options{MaxChars: maxChars})
	c.recordUsage(ctx, userID, nil, attempts)
	if err != nil {
		return ContextView{}, err
	}
	if snippets == nil {
		snippets = []entries.Snippet{}
	}
	return ContextView{Context: ctxbuilder.Render(snippets), Snippets: snippets}, nil
}

// Retire hides an entry from future retrieval and estimation. The record and
// embedding rows are kept; the vector is deactivated.
func (c *Coordinator) Retire(ctx context.Context, entryID uuid.UUID) error {
	unlock := c.locks.lock(entryID)
	defer unlock()

	e, err := c.repos.QuickEntries.Get(dbctx.Of(ctx), entryID)
	if err != nil {
		return err
	}
	if e.RetiredAt != nil {
		return nil
	}
	rows, err := c.repos.Embeddings.ListByEntry(dbctx.Of(ctx), entryID)
	if err != nil {
		return err
	}
	pointIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		pointIDs = append(pointIDs, row.PointID)
	}

	return c.tx.InTx(ctx, func(dbc dbctx.Context) error {
		if err := c.repos.QuickEntries.Retire(dbc, entryID, c.now().UTC()); err != nil {
			return err
		}
		if err := c.repos.Embeddings.SetActive(dbc, entryID, false); err != nil {
			return err
		}
		if len(pointIDs) == 0 {
			return nil
		}
		_, _, err := capability.Run(ctx, c.runner, policy.CapVector, capability.Call[struct{}]{
			Provider: "vector_index",
			Fn: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, c.index.Deactivate(ctx, e.UserID, pointIDs)
			},
		})
		if err != nil && entries.KindOf(err) != entries.KindTimeout {
			err = entries.NewError(entries.KindVectorIndexUnavailable, "vector deactivate failed", err)
		}
		return err
	})
}

func encodeDraft(rec entries.Record, est *entries.PatternEstimate) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entries.Draft{Subtype: rec.Subtype(), Record: raw, Estimate: est})
}

func decodeDraft(b []byte) (entries.Draft, entries.Record, error) {
	var d entries.Draft
	if err := json.Unmarshal(b, &d); err != nil {
		return entries.Draft{}, nil, entries.NewError(entries.KindValidation, "decode draft", err)
	}
	rec, err := entries.DecodeRecordAs(d.Subtype, d.Record)
	if err != nil {
		return entries.Draft{}, nil, err
	}
	return d, rec, nil
}

var _ Service = (*Coordinator)(nil)
