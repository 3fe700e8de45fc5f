// Package gateway exposes the WebSocket and HTTP surface of the
// assistant: one WS route per session plus session, project, transcript,
// audio, and summarize endpoints.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/orchestrator"
	"github.com/kestrelhq/kestrel/internal/sessions"
	"github.com/kestrelhq/kestrel/internal/stt"
	"github.com/kestrelhq/kestrel/internal/summarizer"
)

// Server is the gateway handling WebSocket and HTTP connections.
type Server struct {
	cfg      *config.Config
	sessions *sessions.Manager
	orch     *orchestrator.Orchestrator
	stt      *stt.Client
	summ     *summarizer.Summarizer

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the gateway server.
func NewServer(cfg *config.Config, sm *sessions.Manager, orch *orchestrator.Orchestrator, sttClient *stt.Client, summ *summarizer.Summarizer) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sm,
		orch:     orch,
		stt:      sttClient,
		summ:     summ,
		clients:  make(map[string]*Client),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// rate_limit_rpm > 0  → enabled at that RPM
	// rate_limit_rpm <= 0 → disabled
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)

	return s
}

// checkOrigin validates WebSocket connection origin against the allowed
// origins whitelist. No configured origins allows all; an empty Origin
// header (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
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
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/{session_id}", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /session/create", s.auth(s.handleSessionCreate))
	mux.HandleFunc("GET /sessions", s.auth(s.handleSessionList))
	mux.HandleFunc("POST /session/{id}/rename", s.auth(s.handleSessionRename))
	mux.HandleFunc("DELETE /session/{id}", s.auth(s.handleSessionDelete))
	mux.HandleFunc("GET /session/{id}/transcript", s.auth(s.handleTranscript))
	mux.HandleFunc("GET /session/{id}/transcript/download", s.auth(s.handleTranscriptDownload))
	mux.HandleFunc("POST /session/{id}/event", s.auth(s.handleClientEvent))
	mux.HandleFunc("POST /session/{id}/audio", s.auth(s.handleAudio))

	mux.HandleFunc("POST /summarize", s.auth(s.handleSummarize))

	mux.HandleFunc("GET /projects", s.auth(s.handleProjectList))
	mux.HandleFunc("GET /project/{p}/branches", s.auth(s.handleBranchList))
	mux.HandleFunc("POST /project/{p}/branch", s.auth(s.handleBranchCreate))
	mux.HandleFunc("POST /project/{p}/merge", s.auth(s.handleBranchMerge))
	mux.HandleFunc("POST /project/{p}/sync", s.auth(s.handleBranchSync))
	mux.HandleFunc("POST /project/{p}/session", s.auth(s.handleProjectSession))
	mux.HandleFunc("DELETE /project/{p}", s.auth(s.handleProjectDelete))
	mux.HandleFunc("DELETE /project/{p}/branch/{b}", s.auth(s.handleBranchDelete))

	s.mux = mux
	return mux
}

// auth wraps a handler with bearer token and rate limit checks. An empty
// configured token disables authentication.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := s.cfg.Gateway.Token; token != "" {
			if r.Header.Get("Authorization") != "Bearer "+token {
				slog.Warn("security.auth_rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.rateLimiter.Allow(host) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// Start begins listening and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

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

// handleWebSocket upgrades HTTP to WebSocket for one session and runs
// the connection's read loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, sess, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	slog.Info("client connected", "id", c.id, "session", c.sess.ID)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	slog.Info("client disconnected", "id", c.id)
}

// StartTestServer creates a listener on 127.0.0.1:0 and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
