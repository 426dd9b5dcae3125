// Package admin exposes the orchestrator's read-only and admin_* operations
// over HTTP, grounded on the teacher's local-only read-only server
// (internal/interfaces/http/server.go): same net.Listen probe before bind,
// the same middleware chain shape, the same mux.Router routing. The surface
// is wider than the teacher's because spec.md §4.6 names admin mutations
// (reload, purge, set key) that the teacher's read-only API never needed.
package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/marketcore/aggregator/internal/orchestrator"
)

// Config mirrors the teacher's ServerConfig, binding local-only by default.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultConfig() Config {
	port := 8090
	if v := os.Getenv("ADMIN_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	return Config{
		Host:         "127.0.0.1",
		Port:         port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the admin HTTP+WS surface in front of one Orchestrator.
type Server struct {
	router *mux.Router
	server *http.Server
	orch   *orchestrator.Orchestrator
	hub    *healthHub
	cfg    Config
}

func NewServer(orch *orchestrator.Orchestrator, cfg Config) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("admin port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	s := &Server{
		router: mux.NewRouter(),
		orch:   orch,
		hub:    newHealthHub(),
		cfg:    cfg,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	api.HandleFunc("/admin/providers", s.handleProviders).Methods("GET")
	api.HandleFunc("/admin/keys/{provider}", s.handleSetKey).Methods("PUT")
	api.HandleFunc("/admin/config/reload", s.handleReload).Methods("POST")
	api.HandleFunc("/admin/cache/purge", s.handlePurge).Methods("POST")
	api.HandleFunc("/admin/strategy", s.handleSetStrategy).Methods("PUT")

	// Not under the JSON subrouter: it upgrades the connection itself.
	s.router.HandleFunc("/admin/health/stream", s.handleHealthStream).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type ctxKey int

const requestIDKey ctxKey = iota

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapper, r)
		log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("admin request")
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP listener and, concurrently, the health broadcast loop
// feeding the websocket hub. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)
	go s.broadcastHealthLoop(ctx, 5*time.Second)
	log.Info().Str("addr", s.server.Addr).Msg("admin server starting")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) broadcastHealthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.broadcast(s.orch.Health())
		}
	}
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
