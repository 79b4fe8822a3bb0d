package recalc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the recalculation collectors.
type Metrics struct {
	Duration        *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	Invalidations   prometheus.Counter
	MonteCarloDraws prometheus.Counter
}

// NewMetrics registers the collectors with reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "underwriter_recalc_duration_seconds",
				Help:    "Duration of recalculation operations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "underwriter_recalc_cache_hits_total",
			Help: "Recalculations served from cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "underwriter_recalc_cache_misses_total",
			Help: "Recalculations computed on a cache miss",
		}),
		Invalidations: f.NewCounter(prometheus.CounterOpts{
			Name: "underwriter_recalc_cache_invalidations_total",
			Help: "Cache invalidations triggered by override or preset writes",
		}),
		MonteCarloDraws: f.NewCounter(prometheus.CounterOpts{
			Name: "underwriter_monte_carlo_draws_total",
			Help: "Monte Carlo draws evaluated",
		}),
	}
}
