// Package server exposes the daemon's HTTP and websocket surface:
// classification, permission requests, decision history, and a live
// event feed.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/clawgate/internal/audit"
	"github.com/stellarlinkco/clawgate/internal/config"
	"github.com/stellarlinkco/clawgate/internal/hooks"
	"github.com/stellarlinkco/clawgate/internal/model"
	"github.com/stellarlinkco/clawgate/internal/permission"
)

const (
	historyDefaultLimit = 20
	historyMaxLimit     = 500
	recentTrackCap      = 100
	wsWriteTimeout      = 5 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// ModelStatus reports model readiness for the health endpoints.
type ModelStatus interface {
	State() model.State
}

// Options wires the server's collaborators. Store and Manager may be
// nil; the affected endpoints then degrade.
type Options struct {
	Config     *config.Config
	Version    string
	Handler    *permission.Handler
	Classifier permission.Classifier
	Executor   *hooks.Executor
	Manager    ModelStatus
	Store      *audit.Store
	OnShutdown func()
}

type Server struct {
	cfg        *config.Config
	version    string
	handler    *permission.Handler
	classifier permission.Classifier
	executor   *hooks.Executor
	manager    ModelStatus
	store      *audit.Store
	onShutdown func()
	start      time.Time

	listener   net.Listener
	httpServer *http.Server

	clients sync.Map // client id -> *wsClient
	nextID  atomic.Int64

	// In-memory classification tracking for the dashboard view.
	trackMu sync.Mutex
	recent  []trackedDecision
	stats   trackStats
	lastMs  int64
	hasLast bool
}

func New(opts Options) *Server {
	return &Server{
		cfg:        opts.Config,
		version:    opts.Version,
		handler:    opts.Handler,
		classifier: opts.Classifier,
		executor:   opts.Executor,
		manager:    opts.Manager,
		store:      opts.Store,
		onShutdown: opts.OnShutdown,
		start:      time.Now(),
	}
}

// Routes returns the full HTTP handler, middleware included.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/classify", s.handleClassify)
	mux.HandleFunc("POST /api/hooks/permission-request", s.handlePermissionRequest)
	mux.HandleFunc("GET /api/hooks/stats", s.handleStats)
	mux.HandleFunc("GET /api/hooks/history", s.handleHistory)
	mux.HandleFunc("GET /api/hooks/decisions", s.handleDecisions)
	mux.HandleFunc("GET /api/hooks/events", s.handleEvents)
	mux.HandleFunc("POST /api/hooks/execution-complete", s.handleExecutionComplete)
	mux.HandleFunc("POST /api/shutdown", s.handleShutdown)
	return s.withRequestID(mux)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[server] listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[server] serve error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[server] shutdown error: %v", err)
		}
	}
	s.closeClients()
	log.Printf("[server] stopped")
	return nil
}

type requestIDKey struct{}

// withRequestID tags every request with a correlation ID and logs the
// outcome.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[server] %s %s %s (%s)", id[:8], r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// requestID returns the correlation ID set by the middleware.
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func (s *Server) port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.cfg.Server.Port
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}
