package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamPingInterval = 30 * time.Second
	streamPongWait     = 5 * time.Second
	streamWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleStream handles GET /api/v1/stream, pushing swap events as JSON text
// messages. An optional swap_id query parameter narrows the stream to one swap.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		respondError(w, http.StatusServiceUnavailable, "Event stream is not available", nil)
		return
	}
	swapID := r.URL.Query().Get("swap_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error
		h.logger.Warn("Failed to upgrade stream connection", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.coordinator.Subscribe()
	defer unsubscribe()

	h.logger.Debug("Stream client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("swap_id", swapID))

	// The read loop only services control frames and notices the client leaving
	done := make(chan struct{})
	setDeadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(streamPingInterval + streamPongWait))
	}
	_ = setDeadline()
	conn.SetPongHandler(func(string) error { return setDeadline() })
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamPongWait)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteWait))
				return
			}
			if swapID != "" && ev.SwapID != swapID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("Stream client write failed", zap.Error(err))
				return
			}
		}
	}
}
