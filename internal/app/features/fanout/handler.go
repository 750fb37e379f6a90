// internal/app/features/fanout/handler.go
package fanout

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"github.com/dalemusser/askaway/internal/app/system/auth"
	"github.com/dalemusser/askaway/internal/app/system/events"
	"github.com/dalemusser/askaway/internal/app/system/metrics"
	"github.com/dalemusser/askaway/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// KeyHeader carries the shared key the dispatcher presents on publish.
const KeyHeader = "X-Askaway-Fanout-Key"

// Authorizer decides whether userID may listen to group.
type Authorizer func(ctx context.Context, group, userID string) error

// Handler serves the fan-out endpoint and the client event stream.
type Handler struct {
	Broker    Broker
	Key       string
	Authorize Authorizer
	Heartbeat time.Duration
	Log       *zap.Logger
}

// NewHandler creates a fan-out handler. An empty key accepts every publisher.
func NewHandler(b Broker, key string, authorize Authorizer, logger *zap.Logger) *Handler {
	return &Handler{
		Broker:    b,
		Key:       key,
		Authorize: authorize,
		Heartbeat: 25 * time.Second,
		Log:       logger,
	}
}

// ServePublish handles POST /api/fanout. The event goes to the group named by
// the conversation id. 202 is the only success status; a publish failure
// answers 503 so the dispatcher retries.
func (h *Handler) ServePublish(w http.ResponseWriter, r *http.Request) {
	if h.Key != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(KeyHeader)), []byte(h.Key)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req events.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 256<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" || req.EventData.QnASessionID == "" {
		http.Error(w, "conversationId and eventData are required", http.StatusBadRequest)
		return
	}

	payload, err := json.Marshal(req.EventData)
	if err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "fanout publish")
	defer cancel()
	if err := h.Broker.Publish(ctx, req.ConversationID, payload); err != nil {
		metrics.FanoutPublished.WithLabelValues("failed").Inc()
		h.Log.Warn("fanout publish failed",
			zap.String("conversation_id", req.ConversationID),
			zap.String("operation_id", req.OperationID),
			zap.Error(err))
		http.Error(w, "publish failed", http.StatusServiceUnavailable)
		return
	}
	metrics.FanoutPublished.WithLabelValues("published").Inc()
	w.WriteHeader(http.StatusAccepted)
}

// ServeStream handles GET /api/fanout/groups/{group}/events as a stream of
// server-sent events, one "data" event per published payload.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	group := chi.URLParam(r, "group")
	if h.Authorize != nil {
		if err := h.Authorize(r.Context(), group, id.UserID); err != nil {
			var ae *apperr.Error
			status := http.StatusInternalServerError
			if errors.As(err, &ae) {
				status = apperr.HTTPStatus(ae.Kind)
			}
			http.Error(w, http.StatusText(status), status)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.Broker.Subscribe(r.Context(), group)
	if err != nil {
		h.Log.Warn("fanout subscribe failed", zap.String("group", group), zap.Error(err))
		http.Error(w, "subscribe failed", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: data\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
