// Package api exposes the recalculation, override, risk and analysis
// operations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/config"
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/store"
)

const maxBodyBytes = 20 << 20

// ComparableWriter stores imported comparable sales.
type ComparableWriter interface {
	UpsertComparables(ctx context.Context, comps []model.ComparableSale) (int64, error)
	ListComparables(ctx context.Context, filter store.CompFilter) ([]model.ComparableSale, error)
}

// Server holds the engines behind the HTTP handlers.
type Server struct {
	cfg      config.ServerConfig
	recalc   *recalc.Engine
	resolver *params.Resolver
	risk     *risk.Engine
	analyses *analysis.Orchestrator
	comps    ComparableWriter
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithAnalysis enables POST /v1/analyses.
func WithAnalysis(o *analysis.Orchestrator) Option {
	return func(s *Server) { s.analyses = o }
}

// WithComparables enables the comparable sales endpoints.
func WithComparables(c ComparableWriter) Option {
	return func(s *Server) { s.comps = c }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a Server. A zero RateLimitRPS disables rate limiting.
func New(cfg config.ServerConfig, recalcEngine *recalc.Engine, resolver *params.Resolver, riskEngine *risk.Engine, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		recalc:   recalcEngine,
		resolver: resolver,
		risk:     riskEngine,
		gatherer: prometheus.DefaultGatherer,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Route("/deals/{id}", func(r chi.Router) {
			r.Post("/recalculate", s.handleRecalculate)
			r.Post("/sensitivity", s.handleSensitivity)
			r.Post("/tornado", s.handleTornado)
			r.Post("/scenarios", s.handleScenarios)
			r.Post("/montecarlo", s.handleMonteCarlo)
			r.Post("/export", s.handleExport)
			r.Get("/parameters", s.handleParameters)
			r.Get("/overrides", s.handleListOverrides)
			r.Put("/overrides/{param}", s.handleSetOverride)
			r.Delete("/overrides/{param}", s.handleRemoveOverride)
		})

		r.Post("/risk/assess", s.handleAssess)

		if s.analyses != nil {
			r.Post("/analyses", s.handleAnalysis)
		}
		if s.comps != nil {
			r.Post("/comparables", s.handleImportComparables)
			r.Get("/comparables", s.handleListComparables)
		}
	})
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
