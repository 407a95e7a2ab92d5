// Package api exposes the approval engine over HTTP using a chi router.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/approvals/callback"
	"github.com/xraph/approvals/engine"
	"github.com/xraph/approvals/ingest"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng      *engine.Engine
	signer   *callback.Signer
	ingestor *ingest.Ingestor
	limiter  *ipLimiter
	logger   *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithSigner enables the signed-link respond endpoint. Without a signer
// the endpoint answers 404.
func WithSigner(s *callback.Signer) Option { return func(a *API) { a.signer = s } }

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(a *API) { a.logger = l } }

// WithRateLimit overrides the per-client-IP token bucket. A non-positive
// rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *API) { a.limiter = newIPLimiter(rps, burst) }
}

// New creates an API for eng. Rate limits and ingestion settings come
// from the engine configuration unless overridden.
func New(eng *engine.Engine, opts ...Option) *API {
	cfg := eng.Config()
	a := &API{
		eng:     eng,
		limiter: newIPLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ingestor = ingest.New(cfg.Ingest, cfg.Artifacts, eng.StartInstance, ingest.WithLogger(a.logger))
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)
	if a.limiter != nil {
		r.Use(a.limiter.middleware)
	}
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes into r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/approvals", a.startApproval)
		r.Get("/approvals/respond", a.respondByLink)
		r.Post("/approvals/{instanceId}/response", a.receiveResponse)
		r.Get("/approvals/{instanceId}/events", a.streamEvents)

		r.Get("/status", a.getStatus)

		r.Post("/ingest/storage-events", a.ingestStorageEvents)
	})
}
