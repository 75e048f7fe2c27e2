// Package api provides the HTTP surface of the pipeline: paper
// submission, run status, the resume callback and the chat-bot
// webhook.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/metrics"
	"github.com/hugo-lorenzo-mato/paperflow/internal/workflow"
)

// Engine is the pipeline surface the handlers drive.
type Engine interface {
	Start(ctx context.Context, source string, opts workflow.StartOptions) (*workflow.StartResult, error)
	Resume(ctx context.Context, id core.RunID, input workflow.ResumeInput) (*core.Run, error)
	AddThoughts(ctx context.Context, id core.RunID, text string) (*core.Run, error)
	Status(ctx context.Context, id core.RunID) (*core.Run, error)
	List(ctx context.Context) ([]core.RunSummary, error)
	IsDuplicateTrigger(key string) bool
}

// ChatBot is the webhook-side contract of the chat integration.
type ChatBot interface {
	VerifyToken(token string) bool
	SendText(ctx context.Context, target core.NotifyTarget, text string) error
}

// URLExtractor pulls a paper link out of free-form chat text when the
// plain URL scan comes up empty.
type URLExtractor interface {
	ExtractPaperURL(ctx context.Context, message string) (string, error)
}

// Server provides the HTTP REST API.
type Server struct {
	router      chi.Router
	engine      Engine
	bot         ChatBot
	extractor   URLExtractor
	logger      *slog.Logger
	timeout     time.Duration
	corsOrigins []string
	// startTimeout bounds background pipeline executions kicked off by
	// async submissions and webhook triggers.
	startTimeout time.Duration

	// lastRunMu guards lastRunByChat, the per-chat memory that lets a
	// thoughts message without a link land on that chat's latest run.
	lastRunMu     sync.Mutex
	lastRunByChat map[string]core.RunID
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithChatBot enables the chat webhook routes.
func WithChatBot(bot ChatBot) ServerOption {
	return func(s *Server) { s.bot = bot }
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.timeout = d }
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithURLExtractor enables the language-model fallback for finding
// paper links in chat messages that carry none in plain text.
func WithURLExtractor(x URLExtractor) ServerOption {
	return func(s *Server) { s.extractor = x }
}

// NewServer creates a new API server.
func NewServer(engine Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine:        engine,
		logger:        slog.Default(),
		timeout:       120 * time.Second,
		corsOrigins:   []string{"*"},
		startTimeout:  10 * time.Minute,
		lastRunByChat: make(map[string]core.RunID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/papers", func(r chi.Router) {
			r.Get("/", s.handleListPapers)
			r.Post("/", s.handleCreatePaper)
			r.Post("/sync", s.handleCreatePaperSync)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetPaper)
				r.Post("/resume", s.handleResumePaper)
				r.Post("/thoughts", s.handleAddThoughts)
			})
		})
	})

	if s.bot != nil {
		r.Post("/feishu/callback", s.handleFeishuCallback)
	}

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			metrics.ObserveHTTP(r.Method, r.URL.Path, ww.Status())
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps a domain error onto the wire.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	respondError(w, status, err.Error())
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server with graceful shutdown tied to
// the context.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	return srv.ListenAndServe()
}
