package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/cms"
	"github.com/sells-group/underwriter/internal/fetcher"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/resilience"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/settings"
	"github.com/sells-group/underwriter/internal/store"
)

// appEnv holds the store, engines and optional clients shared by the
// commands.
type appEnv struct {
	Store    store.Store
	Resolver *params.Resolver
	Recalc   *recalc.Engine
	Risk     *risk.Engine
	CMS      *cms.Service
	Redis    *redis.Client // nil unless a redis backend is configured
	Registry *prometheus.Registry
}

// Close releases the store and redis connections.
func (e *appEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Orchestrator builds an analysis orchestrator over the environment.
func (e *appEnv) Orchestrator() *analysis.Orchestrator {
	opts := []analysis.Option{
		analysis.WithComparables(e.Store, 50),
		analysis.WithPolicy(resilience.FromConfig(cfg.Retry)),
	}
	if e.CMS != nil {
		opts = append(opts, analysis.WithCMS(e.CMS))
	}
	return analysis.New(e.Risk, e.Recalc, opts...)
}

// initEnv validates config for mode, opens and migrates the store, and
// wires the engines. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	riskEngine, err := newRiskEngine()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{
		Store:    st,
		Registry: prometheus.NewRegistry(),
	}

	var cache recalc.Cache = recalc.NewMemoryCache()
	if cfg.Recalc.CacheBackend == "redis" {
		env.Redis = recalc.NewRedisClient(cfg.Redis)
		rc := recalc.NewRedisCache(env.Redis)
		if err := rc.Ping(ctx); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "connect redis")
		}
		cache = rc
	}

	env.Resolver = params.NewResolver(st, st, settings.Defaults())
	env.Recalc = recalc.NewEngine(env.Resolver, cache, cfg.Recalc, recalc.NewMetrics(env.Registry))
	env.Risk = riskEngine
	env.CMS = initCMS(env.Redis, st)

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Recalc.CacheBackend),
	)
	return env, nil
}

// newRiskEngine builds the risk engine with the default factors and
// deal-breaker rules after checking the configured weights.
func newRiskEngine() (*risk.Engine, error) {
	if err := risk.ValidateConfig(cfg.Risk); err != nil {
		return nil, err
	}
	return risk.NewEngine(cfg.Risk, nil, nil), nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "underwriter.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: int32(cfg.Store.MaxConns)})
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCMS wires the snapshot cache (when redis is available), the store
// tier and the provider data API.
func initCMS(rdb *redis.Client, st store.Store) *cms.Service {
	var cache cms.Cache
	if rdb != nil {
		cache = cms.NewRedisSnapshotCache(rdb)
	}
	var provider cms.Fetcher
	if cfg.CMS.BaseURL != "" {
		hf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:    time.Duration(cfg.CMS.TimeoutSecs) * time.Second,
			Retry:      resilience.FromConfig(cfg.Retry),
			HostLimits: fetcher.DefaultHostLimits(),
		})
		provider = cms.NewProviderFetcher(hf, cfg.CMS.BaseURL, cfg.CMS.Dataset)
	}
	return cms.NewService(cache, st, provider, cfg.CMS, resilience.FromConfig(cfg.Retry))
}
