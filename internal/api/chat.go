package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/textbook-assistant/internal/chat"
	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/types"
)

// ChatHandler serves the chat widget endpoints
type ChatHandler struct {
	service *chat.Service
}

// NewChatHandler creates a new chat handler
func NewChatHandler(service *chat.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

// Query answers a question. Failures of the answering service come back as
// a degraded answer with status 200; only invalid input is an error.
func (h *ChatHandler) Query(c *gin.Context) {
	var query types.ChatQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		ErrorResponseFromError(c, errors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}

	resp, err := h.service.Query(c.Request.Context(), &query)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, resp)
}

// CreateSession opens a chat session. An empty body opens a global session.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req types.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ErrorResponseFromError(c, errors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}

	session, err := h.service.CreateSession(c.Request.Context(), &req)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	CreatedResponse(c, session)
}

// GetHistory lists recent exchanges, filtered by student_id and session_id
func (h *ChatHandler) GetHistory(c *gin.Context) {
	var query types.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		ErrorResponseFromError(c, errors.NewValidationError("Invalid query parameters: "+err.Error()))
		return
	}

	history, err := h.service.GetHistory(c.Request.Context(), query)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, history)
}

// SubmitFeedback forwards a rating of an answer
func (h *ChatHandler) SubmitFeedback(c *gin.Context) {
	var feedback types.Feedback
	if err := c.ShouldBindJSON(&feedback); err != nil {
		ErrorResponseFromError(c, errors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}

	ack, err := h.service.SubmitFeedback(c.Request.Context(), &feedback)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, ack)
}
