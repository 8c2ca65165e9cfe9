// Package httpapi serves the conversation API: persona and
// conversation management, the three message-send flows with NDJSON
// step streaming, a health probe and a websocket event tap.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/llmosd/llmosd/internal/bus"
	"github.com/llmosd/llmosd/internal/config"
	"github.com/llmosd/llmosd/internal/runtime"
)

// Server wires the HTTP surface to the conversation runtime.
type Server struct {
	cfg    *config.Config
	rt     *runtime.Runtime
	bus    *bus.Bus
	limits *clientLimits

	httpServer *http.Server
}

func New(cfg *config.Config, rt *runtime.Runtime, eventBus *bus.Bus) *Server {
	rps := cfg.Server.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	return &Server{
		cfg:    cfg,
		rt:     rt,
		bus:    eventBus,
		limits: newClientLimits(rps),
	}
}

// BuildMux registers every route. Separate from Start so an optional
// Tailscale listener can serve the same routes.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversation-ids", s.middleware(s.handleConversationIDs))
	mux.HandleFunc("GET /personas/agents", s.middleware(s.handleAgentPersonas))
	mux.HandleFunc("GET /personas/humans", s.middleware(s.handleHumanPersonas))
	mux.HandleFunc("POST /agent", s.middleware(s.handleCreateAgent))
	mux.HandleFunc("DELETE /agent", s.middleware(s.handleDeleteAgent))
	mux.HandleFunc("GET /agent/humans", s.middleware(s.handleListHumans))
	mux.HandleFunc("POST /agent/humans", s.middleware(s.handleAddHuman))
	mux.HandleFunc("POST /messages/send", s.middleware(s.handleSend))
	mux.HandleFunc("POST /messages/send/first-message", s.middleware(s.handleSendFirst))
	mux.HandleFunc("POST /messages/send/no-heartbeat", s.middleware(s.handleSendNoHeartbeat))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.BuildMux(),
	}

	slog.Info("api listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
