package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/llmosd/llmosd/internal/bus"
)

// handleWebSocket upgrades the connection and forwards every bus event
// to the client as a JSON text frame until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20) // 1MB

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Handlers must not block the broadcasting step loop, so events
	// queue into a buffered channel and slow clients drop frames.
	events := make(chan bus.Event, 64)
	id := uuid.NewString()
	s.bus.Subscribe(id, func(ev bus.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer s.bus.Unsubscribe(id)

	// Drain client frames so the close handshake is noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	slog.Info("event tap connected", "client", id, "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			slog.Info("event tap disconnected", "client", id)
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("marshal bus event", "event", ev.Name, "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Info("event tap disconnected", "client", id)
				return
			}
		}
	}
}
