// Package gateway is the HTTP/WebSocket front of the routing engine.
// Channel gateways call POST /v1/resolve per inbound message; the agent
// execution engine reports turn completion to POST /v1/usage; operator
// tooling reads GET /v1/sessions and follows /ws for live events.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentroute/internal/bus"
	"github.com/nextlevelbuilder/agentroute/internal/config"
	"github.com/nextlevelbuilder/agentroute/internal/router"
	"github.com/nextlevelbuilder/agentroute/internal/store"
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	cfg      *config.Store
	eventPub bus.EventPublisher
	resolver *router.Resolver
	sessions store.SessionStore

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*wsClient
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the gateway to the config store, event bus, resolver,
// and session store.
func NewServer(cfg *config.Store, eventPub bus.EventPublisher, resolver *router.Resolver, sessions store.SessionStore) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		resolver: resolver,
		sessions: sessions,
		clients:  make(map[string]*wsClient),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.Current().Gateway.RateLimitRPS, 5)
	return s
}

// checkOrigin validates the WebSocket Origin header against the allowed
// origins list. No configured origins means allow all; an empty Origin
// (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Current().Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("POST /v1/resolve", s.guard(s.handleResolve))
	mux.HandleFunc("POST /v1/usage", s.guard(s.handleUsage))
	mux.HandleFunc("GET /v1/sessions", s.guard(s.handleListSessions))
	mux.HandleFunc("POST /v1/config/reload", s.guard(s.handleConfigReload))

	s.mux = mux
	return mux
}

// guard wraps a handler with bearer-token auth and per-client rate
// limiting.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.rateLimiter.Enabled() && !s.rateLimiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// authorized checks the gateway token when one is configured. The token
// comes from the environment, never the config file.
func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.Current().Gateway.Token
	if token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(auth, "Bearer "); ok && v == token {
		return true
	}
	return r.URL.Query().Get("token") == token
}

// clientKey identifies a caller for rate limiting: the remote address
// without the ephemeral port.
func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	gw := s.cfg.Current().Gateway
	addr := fmt.Sprintf("%s:%d", gw.Host, gw.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleConfigReload broadcasts an invalidation so every subscriber (the
// config store, connected WS clients) refreshes.
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	s.eventPub.Broadcast(bus.Event{
		Name:    bus.EventConfigInvalidate,
		Payload: bus.ConfigInvalidatePayload{Kind: "config"},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloading"})
}
