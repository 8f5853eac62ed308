// Package httpapi wires the gateway's OpenAI-compatible HTTP surface onto
// internal/pipeline.Engine: request decode, pipeline/guard resolution,
// dispatch, and response/SSE encoding. Routing and middleware composition
// follow the teacher's cmd/server/main.go chi.Router setup.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/middleware"
	"ai-gateway/internal/pipeline"
)

// Server owns every HTTP-facing dependency and assembles the chi.Router.
type Server struct {
	cfg    *gwconfig.Manager
	engine *pipeline.Engine
	db     *gorm.DB
	log    *zap.SugaredLogger

	metricsUsername string
	metricsPassword string
	maxRequestBytes int64
}

// Option configures optional Server fields.
type Option func(*Server)

// WithMetricsAuth gates GET /metrics behind HTTP basic auth, mirroring the
// teacher's MetricsHandler.authenticate.
func WithMetricsAuth(username, password string) Option {
	return func(s *Server) { s.metricsUsername, s.metricsPassword = username, password }
}

// WithMaxRequestBytes caps request body size; zero disables the cap.
func WithMaxRequestBytes(n int64) Option {
	return func(s *Server) { s.maxRequestBytes = n }
}

func NewServer(cfg *gwconfig.Manager, engine *pipeline.Engine, db *gorm.DB, log *zap.SugaredLogger, opts ...Option) *Server {
	s := &Server{cfg: cfg, engine: engine, db: db, log: log, maxRequestBytes: 25 << 20}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes assembles the gateway's HTTP handler, grounded on the teacher's
// cmd/server/main.go router construction (global Recovery/SecurityHeaders,
// per-route grouping, chi subrouters per handler family).
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequestLogger(s.log))
	if s.maxRequestBytes > 0 {
		r.Use(middleware.MaxRequestSize(s.maxRequestBytes))
	}

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/completions", s.handleCompletions)
	r.Post("/v1/embeddings", s.handleEmbeddings)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/livez", s.handleLivez)

	r.Get("/metrics", s.handleMetrics)

	r.Get("/ops/config/stream", s.handleConfigStream)

	return r
}
