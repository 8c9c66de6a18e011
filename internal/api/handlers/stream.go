package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/narvanalabs/functions/internal/api/middleware"
	"github.com/narvanalabs/functions/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxReplay = 100
)

// EventSource is the subscription side of the execution event broker.
type EventSource interface {
	Subscribe(functionID string) *events.Subscriber
	Unsubscribe(sub *events.Subscriber)
	Recent(n int, functionID string) []*events.Event
}

// Authorizer decides whether an actor may observe a function.
type Authorizer interface {
	Authorize(ctx context.Context, functionID, actor string) error
}

// StreamHandler streams execution events over a websocket.
type StreamHandler struct {
	source   EventSource
	authz    Authorizer
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a new event stream handler.
func NewStreamHandler(source EventSource, authz Authorizer, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		source: source,
		authz:  authz,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream handles GET /v1/executions/stream?function_id=...&replay=N. The
// last N recorded events are sent first, then live events as they occur.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	functionID := r.URL.Query().Get("function_id")
	if functionID == "" {
		WriteBadRequest(w, r, "function_id is required")
		return
	}
	replay := 0
	if v := r.URL.Query().Get("replay"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteBadRequest(w, r, "replay must be a non-negative integer")
			return
		}
		replay = min(n, maxReplay)
	}

	if err := h.authz.Authorize(r.Context(), functionID, middleware.GetUserID(r.Context())); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.source.Subscribe(functionID)
	defer h.source.Unsubscribe(sub)
	h.logger.Info("event stream started", "function_id", functionID, "subscriber_id", sub.ID)

	if replay > 0 {
		for _, e := range h.source.Recent(replay, functionID) {
			if err := writeEvent(conn, e); err != nil {
				return
			}
		}
	}

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("event stream closed by client", "subscriber_id", sub.ID)
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Ch:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, e); err != nil {
				h.logger.Debug("event stream write failed", "error", err, "subscriber_id", sub.ID)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e *events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

// readUntilClosed discards client messages and closes done when the
// connection ends. Pongs extend the read deadline.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
