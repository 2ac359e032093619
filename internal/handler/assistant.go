package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/healspace/support-assistant/internal/middleware"
	"github.com/healspace/support-assistant/internal/model"
	"github.com/healspace/support-assistant/internal/service"
	"github.com/healspace/support-assistant/internal/store"
	"github.com/healspace/support-assistant/pkg/logger"
)

// AssistantHandler handles assistant conversation endpoints.
type AssistantHandler struct {
	service *service.AssistantService
	logger  *logger.Logger
}

// NewAssistantHandler creates a new assistant handler.
func NewAssistantHandler(svc *service.AssistantService, log *logger.Logger) *AssistantHandler {
	return &AssistantHandler{
		service: svc,
		logger:  log,
	}
}

// Send handles POST /api/v1/assistant/messages
func (h *AssistantHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	var req model.SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := h.service.Converse(ctx, ownerID, req.Content)
	if err != nil {
		h.persistenceError(w, r, err, "failed to save message")
		return
	}

	writeJSON(w, http.StatusCreated, pair)
}

// Resume handles POST /api/v1/assistant/messages/resume
func (h *AssistantHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	pair, err := h.service.ResumeTurn(ctx, ownerID)
	if errors.Is(err, service.ErrNothingToResume) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.persistenceError(w, r, err, "failed to save message")
		return
	}

	writeJSON(w, http.StatusCreated, pair)
}

// History handles GET /api/v1/assistant/messages
func (h *AssistantHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	resp, err := h.service.History(ctx, ownerID, limit)
	if err != nil {
		h.persistenceError(w, r, err, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Clear handles DELETE /api/v1/assistant/messages
func (h *AssistantHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	if err := h.service.Clear(ctx, ownerID); err != nil {
		h.persistenceError(w, r, err, "failed to clear conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AssistantHandler) persistenceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	h.logger.WithRequest(middleware.GetCorrelationID(r.Context()), middleware.GetOwnerID(r.Context())).
		Error(message, zap.Error(err))

	if store.IsPersistenceError(err) {
		writeError(w, http.StatusBadGateway, message)
		return
	}
	writeError(w, http.StatusInternalServerError, message)
}
