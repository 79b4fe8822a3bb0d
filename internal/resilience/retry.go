// Package resilience retries and guards calls to storage and cache backends.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/config"
)

// Policy controls retries with exponential backoff and jitter.
type Policy struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFraction spreads each delay by up to ±fraction.
	JitterFraction float64

	// Retryable decides which errors are retried. Nil means IsTransient.
	Retryable func(err error) bool
}

// DefaultPolicy suits short storage and cache calls on an interactive path.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// FromConfig overlays the configured values on DefaultPolicy. Zero values
// keep the defaults.
func FromConfig(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.JitterFraction > 0 {
		p.JitterFraction = cfg.JitterFraction
	}
	return p
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// backoff is the delay after the given zero-based attempt.
func (p Policy) backoff(attempt int) time.Duration {
	delay := math.Min(float64(p.InitialBackoff)*math.Pow(p.Multiplier, float64(attempt)), float64(p.MaxBackoff))
	if p.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.JitterFraction
	}
	return time.Duration(math.Max(delay, 0))
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. The last error is returned unchanged. op names the
// call in retry logs.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var zero T
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		var v T
		if v, err = fn(ctx); err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.backoff(attempt)
		zap.L().Warn("resilience: retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}

// Run is Do for calls without a result.
func Run(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
