package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/http/middleware"
	"github.com/yungbote/quickentry-backend/internal/http/response"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/coordinator"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/intake"
	"github.com/yungbote/quickentry-backend/internal/platform/apierr"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type QuickEntryHandler struct {
	log *logger.Logger
	svc coordinator.Service
}

func NewQuickEntryHandler(log *logger.Logger, svc coordinator.Service) *QuickEntryHandler {
	return &QuickEntryHandler{log: log.With("handler", "QuickEntryHandler"), svc: svc}
}

type submitReq struct {
	UserID      uuid.UUID  `json:"user_id"`
	Text        string     `json:"text"`
	AudioRef    string     `json:"audio_ref"`
	ImageRefs   []string   `json:"image_refs"`
	DocumentRef string     `json:"document_ref"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

func (r submitReq) submission() intake.Submission {
	return intake.Submission{
		UserID:      r.UserID,
		Text:        r.Text,
		AudioRef:    r.AudioRef,
		ImageRefs:   r.ImageRefs,
		DocumentRef: r.DocumentRef,
		OccurredAt:  r.OccurredAt,
	}
}

type commitReq struct {
	Subtype entries.Subtype `json:"subtype"`
	Record  json.RawMessage `json:"record"`
}

// POST /api/quick-entries
func (h *QuickEntryHandler) Submit(c *gin.Context) {
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err))
		return
	}
	c.Set(middleware.UserIDKey, req.UserID.String())
	id, err := h.svc.Submit(c.Request.Context(), req.submission())
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"quick_entry_id": id})
}

// POST /api/quick-entries/preview
func (h *QuickEntryHandler) Preview(c *gin.Context) {
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err))
		return
	}
	c.Set(middleware.UserIDKey, req.UserID.String())
	view, err := h.svc.Preview(c.Request.Context(), req.submission())
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quick_entry": view})
}

// GET /api/quick-entries/:id
func (h *QuickEntryHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_quick_entry_id", err))
		return
	}
	view, err := h.svc.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quick_entry": view})
}

// POST /api/quick-entries/:id/commit
// An empty body commits the draft as previewed.
func (h *QuickEntryHandler) Commit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_quick_entry_id", err))
		return
	}
	edited, err := editedRecord(c.Request.Body)
	if err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err))
		return
	}
	view, err := h.svc.Commit(c.Request.Context(), id, edited)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quick_entry": view})
}

// DELETE /api/quick-entries/:id
func (h *QuickEntryHandler) Retire(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_quick_entry_id", err))
		return
	}
	if err := h.svc.Retire(c.Request.Context(), id); err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quick_entry_id": id, "retired": true})
}

func editedRecord(body io.Reader) (entries.Record, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var req commitReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if len(req.Record) == 0 || string(req.Record) == "null" {
		return nil, nil
	}
	st, ok := entries.ParseSubtype(string(req.Subtype))
	if !ok {
		return nil, fmt.Errorf("unknown subtype %q", req.Subtype)
	}
	return entries.DecodeRecordAs(st, req.Record)
}
