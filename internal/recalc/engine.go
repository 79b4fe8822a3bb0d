// Package recalc runs valuations against resolved deal parameters with
// caching, and the exploratory analyses built on them: sensitivity sweeps,
// tornado charts, scenario comparison and Monte Carlo simulation.
package recalc

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/config"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/settings"
	"github.com/sells-group/underwriter/internal/valuation"
)

// ErrInvalidRequest is returned for analysis requests naming an unknown or
// non-numeric parameter, or with an empty parameter list.
var ErrInvalidRequest = eris.New("recalc: invalid request")

// Request identifies a deal, its facility input and any session overrides.
type Request struct {
	DealID string          `json:"deal_id"`
	Input  valuation.Input `json:"input"`
	Inputs params.Inputs   `json:"overrides,omitempty"`
}

// Valuator runs a valuation with the given settings.
type Valuator func(s settings.Settings, in valuation.Input) *valuation.Output

// DefaultValuator builds a valuation engine for s and runs it.
func DefaultValuator(s settings.Settings, in valuation.Input) *valuation.Output {
	return valuation.NewEngine(s).Valuate(in)
}

// DefaultConfig returns the recalculation defaults.
func DefaultConfig() config.RecalcConfig {
	return config.RecalcConfig{
		CacheTTLSecs:            30,
		CacheBackend:            "memory",
		Workers:                 8,
		DebounceMS:              150,
		MaxWaitMS:               500,
		MonteCarloMinIterations: 10,
		MonteCarloMaxIterations: 100_000,
		DefaultIterations:       500,
	}
}

// Engine wraps the parameter resolver and valuation with a cache.
type Engine struct {
	resolver *params.Resolver
	cache    Cache
	cfg      config.RecalcConfig
	metrics  *Metrics
	tracer   trace.Tracer
	valuate  Valuator

	nowFunc func() time.Time
}

// NewEngine creates an Engine and registers cache invalidation on the
// resolver's override hook. A nil cache means a MemoryCache; nil metrics
// register on a private registry.
func NewEngine(resolver *params.Resolver, cache Cache, cfg config.RecalcConfig, metrics *Metrics) *Engine {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MonteCarloMaxIterations <= 0 {
		cfg.MonteCarloMaxIterations = DefaultConfig().MonteCarloMaxIterations
	}
	e := &Engine{
		resolver: resolver,
		cache:    cache,
		cfg:      cfg,
		metrics:  metrics,
		tracer:   otel.Tracer("github.com/sells-group/underwriter/internal/recalc"),
		valuate:  DefaultValuator,
		nowFunc:  time.Now,
	}
	resolver.OnOverrideChange(func(dealID string) {
		if err := e.Invalidate(context.Background(), dealID); err != nil {
			zap.L().Warn("recalc: invalidate failed", zap.String("deal_id", dealID), zap.Error(err))
		}
	})
	return e
}

// WithValuator replaces the valuation function.
func (e *Engine) WithValuator(v Valuator) *Engine {
	e.valuate = v
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() config.RecalcConfig { return e.cfg }

func (e *Engine) ttl() time.Duration {
	return time.Duration(e.cfg.CacheTTLSecs) * time.Second
}

// Recalculate resolves the deal's parameters and runs the valuation, serving
// repeated requests from cache until the TTL lapses or an override for the
// deal is written. Cache failures degrade to a fresh computation.
func (e *Engine) Recalculate(ctx context.Context, req Request) (*Entry, error) {
	ctx, span := e.tracer.Start(ctx, "recalc.Recalculate", trace.WithAttributes(attribute.String("deal_id", req.DealID)))
	defer span.End()
	start := time.Now()
	log := zap.L().With(zap.String("deal_id", req.DealID))

	key, err := cacheKey(req.DealID, req.Inputs, req.Input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if e.ttl() > 0 {
		cached, err := e.cache.Get(ctx, key)
		if err != nil {
			log.Warn("recalc: cache read failed", zap.Error(err))
		}
		if cached != nil {
			e.metrics.CacheHits.Inc()
			span.SetAttributes(attribute.Bool("cache_hit", true))
			log.Debug("recalc: cache hit", zap.String("key", key))
			hit := *cached
			hit.Cached = true
			return &hit, nil
		}
	}
	e.metrics.CacheMisses.Inc()
	span.SetAttributes(attribute.Bool("cache_hit", false))

	entry, err := e.compute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if e.ttl() > 0 {
		if err := e.cache.Set(ctx, key, entry, e.ttl()); err != nil {
			log.Warn("recalc: cache write failed", zap.Error(err))
		}
	}
	e.metrics.Duration.WithLabelValues("recalculate").Observe(time.Since(start).Seconds())
	log.Debug("recalc: computed",
		zap.Duration("elapsed", entry.Duration),
		zap.Float64("value", entry.Valuation.Result.ReconciledValue),
	)
	return entry, nil
}

// compute runs one uncached resolve + valuate pass.
func (e *Engine) compute(ctx context.Context, req Request) (*Entry, error) {
	start := time.Now()
	resolved, err := e.resolver.ResolveWithInputs(ctx, req.DealID, req.Inputs)
	if err != nil {
		return nil, eris.Wrapf(err, "recalc: resolve %s", req.DealID)
	}
	out := e.valuate(resolved.Settings, req.Input)
	return &Entry{
		Valuation:  out,
		Parameters: resolved,
		Timestamp:  e.nowFunc().UTC(),
		Duration:   time.Since(start),
	}, nil
}

// Invalidate drops cached entries for a deal, or all entries when dealID is
// empty.
func (e *Engine) Invalidate(ctx context.Context, dealID string) error {
	e.metrics.Invalidations.Inc()
	zap.L().Debug("recalc: invalidate", zap.String("deal_id", dealID))
	return eris.Wrapf(e.cache.Invalidate(ctx, dealID), "recalc: invalidate %s", dealID)
}

// resolveBase resolves the request once for analyses that evaluate many
// parameter variations without touching storage again.
func (e *Engine) resolveBase(ctx context.Context, req Request) (settings.Settings, float64, error) {
	resolved, err := e.resolver.ResolveWithInputs(ctx, req.DealID, req.Inputs)
	if err != nil {
		return settings.Settings{}, 0, eris.Wrapf(err, "recalc: resolve %s", req.DealID)
	}
	base := e.valuate(resolved.Settings, req.Input).Result.ReconciledValue
	return resolved.Settings, base, nil
}

// valueAt returns the reconciled value with the given parameters replaced.
func (e *Engine) valueAt(base settings.Settings, in valuation.Input, set map[settings.Param]float64) (float64, error) {
	s := base.Clone()
	for p, v := range set {
		if err := s.Set(p, v); err != nil {
			return 0, eris.Wrapf(ErrInvalidRequest, "%v", err)
		}
	}
	if err := settings.Validate(s); err != nil {
		return 0, eris.Wrapf(ErrInvalidRequest, "%v", err)
	}
	return e.valuate(s, in).Result.ReconciledValue, nil
}

// numericParam resolves path to a numeric parameter.
func numericParam(path string) (settings.Param, error) {
	p, err := settings.Lookup(path)
	if err != nil {
		return "", eris.Wrapf(ErrInvalidRequest, "%v", err)
	}
	if !p.Numeric() {
		return "", eris.Wrapf(ErrInvalidRequest, "%s is not numeric", path)
	}
	return p, nil
}

func (e *Engine) observe(op string, start time.Time) {
	e.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
