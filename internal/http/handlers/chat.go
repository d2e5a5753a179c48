package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/http/middleware"
	"github.com/yungbote/quickentry-backend/internal/http/response"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/coordinator"
	"github.com/yungbote/quickentry-backend/internal/platform/apierr"
)

type ChatHandler struct {
	svc coordinator.Service
}

func NewChatHandler(svc coordinator.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type contextReq struct {
	UserID    uuid.UUID `json:"user_id"`
	QueryText string    `json:"query_text"`
	MaxChars  int       `json:"max_chars"`
}

// POST /api/chat/context
func (h *ChatHandler) Context(c *gin.Context) {
	var req contextReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err))
		return
	}
	c.Set(middleware.UserIDKey, req.UserID.String())
	view, err := h.svc.GetContext(c.Request.Context(), req.UserID, req.QueryText, req.MaxChars)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, view)
}
