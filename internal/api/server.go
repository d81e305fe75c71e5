package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/events"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// Server is the phasetrack API server.
type Server struct {
	addr    string
	mux     *http.ServeMux
	handler http.Handler
	logger  *slog.Logger

	engine *tracker.Engine

	// Event publisher for real-time updates
	publisher events.Publisher
	wsHandler *WSHandler

	gatherer     prometheus.Gatherer
	defaultLimit int
}

// Config holds server configuration.
type Config struct {
	Addr   string
	Engine *tracker.Engine
	// Publisher must be the one the engine publishes to.
	Publisher events.Publisher
	// Gatherer serves /metrics; defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// DefaultLimit applies to analytics requests without ?limit.
	DefaultLimit int
}

// New creates a new API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.NewNopPublisher()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		addr:         addr,
		mux:          http.NewServeMux(),
		logger:       logger,
		engine:       cfg.Engine,
		publisher:    pub,
		gatherer:     gatherer,
		defaultLimit: cfg.DefaultLimit,
	}
	s.wsHandler = NewWSHandler(pub, logger)

	s.registerRoutes()
	s.handler = cors(s.mux)
	return s
}

// cors allows browser clients from any origin and answers preflight
// requests before routing.
func cors(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// Health check
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Entities
	s.mux.HandleFunc("GET /api/entities/{kind}", s.handleListEntities)
	s.mux.HandleFunc("POST /api/entities/{kind}", s.handleCreateEntity)
	s.mux.HandleFunc("DELETE /api/entities/{kind}/{id}", s.handleDeleteEntity)

	// Phases
	s.mux.HandleFunc("GET /api/phases/{kind}/{id}", s.handleGetPhases)
	s.mux.HandleFunc("GET /api/phases/{kind}/{id}/summary", s.handleGetSummary)
	s.mux.HandleFunc("POST /api/phases/{kind}/{id}/advance", s.handleAdvance)
	s.mux.HandleFunc("GET /api/phases/{kind}/{id}/{phase}", s.handleGetPhase)
	s.mux.HandleFunc("PATCH /api/phases/{kind}/{id}/{phase}", s.handleUpdatePhase)
	s.mux.HandleFunc("POST /api/phases/{kind}/{id}/{phase}/start", s.handleStartPhase)
	s.mux.HandleFunc("POST /api/phases/{kind}/{id}/{phase}/complete", s.handleCompletePhase)
	s.mux.HandleFunc("POST /api/phases/{kind}/{id}/{phase}/block", s.handleBlockPhase)
	s.mux.HandleFunc("POST /api/phases/{kind}/{id}/{phase}/unblock", s.handleUnblockPhase)
	s.mux.HandleFunc("POST /api/phases/{kind}/{id}/{phase}/skip", s.handleSkipPhase)

	// Queries
	s.mux.HandleFunc("GET /api/query/{kind}/status", s.handleFindByStatus)
	s.mux.HandleFunc("GET /api/query/{kind}/blocked", s.handleFindBlocked)
	s.mux.HandleFunc("GET /api/query/{kind}/current", s.handleFindByCurrent)
	s.mux.HandleFunc("GET /api/query/{kind}/custom-field", s.handleFindByCustomField)

	// Analytics
	s.mux.HandleFunc("GET /api/analytics", s.handleAllAnalytics)
	s.mux.HandleFunc("GET /api/analytics/{kind}", s.handleAnalytics)

	// WebSocket for real-time updates
	s.mux.Handle("GET /api/ws", s.wsHandler)

	// Prometheus
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routed handler, including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// StartContext starts the API server and shuts it down gracefully when ctx
// is cancelled.
func (s *Server) StartContext(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.wsHandler.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", "error", err)
		}
	}()

	s.logger.Info("starting API server", "addr", s.addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]any{
		"status":      "ok",
		"connections": s.wsHandler.ConnectionCount(),
	})
}

// handleError writes err and logs unexpected failures.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if te := pterrors.AsTrackError(err); te != nil {
		s.logger.Debug("request failed", "method", r.Method, "path", r.URL.Path, "code", te.Code)
	} else {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	HandleError(w, err)
}
