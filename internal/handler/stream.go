package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/healspace/support-assistant/internal/middleware"
	"github.com/healspace/support-assistant/internal/model"
	"github.com/healspace/support-assistant/internal/service"
	"github.com/healspace/support-assistant/pkg/logger"
	"github.com/healspace/support-assistant/pkg/metrics"
)

// DefaultHeartbeat is the interval between SSE heartbeat events.
const DefaultHeartbeat = 30 * time.Second

// StreamHandler pushes conversation turns to clients over SSE.
type StreamHandler struct {
	service   *service.AssistantService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler. A non-positive heartbeat
// uses DefaultHeartbeat.
func NewStreamHandler(svc *service.AssistantService, log *logger.Logger, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{
		service:   svc,
		logger:    log,
		heartbeat: heartbeat,
	}
}

// Stream handles GET /api/v1/assistant/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	log := h.logger.WithRequest(middleware.GetCorrelationID(ctx), ownerID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turns := make(chan model.ConversationTurn, 16)
	stop, err := h.service.Watch(ctx, ownerID, func(turn model.ConversationTurn) {
		select {
		case turns <- turn:
		case <-ctx.Done():
		}
	})
	if err != nil {
		log.Error("failed to watch conversation", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to watch conversation")
		return
	}
	defer stop()

	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_tag": model.ConversationTag(ownerID),
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("SSE client disconnected")
			return

		case turn := <-turns:
			if err := sendSSEEvent(w, flusher, "turn", turn); err != nil {
				log.Warn("failed to write SSE event", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
