package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is a breaker state.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cooldown passes.
	Open
	// HalfOpen lets probe calls through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned for calls rejected by an open breaker.
var ErrOpen = eris.New("resilience: breaker open")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls that close it.
	Probes int
}

// DefaultBreakerConfig opens after five failures for thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// Breaker stops calling a backend that keeps failing so callers can fall
// through to another source without paying a timeout on every request.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a closed breaker. name labels state-change logs.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = d.Probes
	}
	return &Breaker{name: name, cfg: cfg, nowFunc: time.Now}
}

// Call runs fn through b. Context cancellation by the caller is not counted
// as a backend failure.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, ErrOpen
	}
	v, err := fn(ctx)
	b.record(err != nil && ctx.Err() == nil)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// State returns the current state, reporting HalfOpen once the cooldown has
// passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooledDown() {
		return HalfOpen
	}
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes = 0, 0
	b.transition(Closed)
}

func (b *Breaker) cooledDown() bool {
	return b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return true
	}
	if b.cooledDown() {
		b.successes = 0
		b.transition(HalfOpen)
		return true
	}
	return false
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.transition(Closed)
			}
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.nowFunc()
		b.transition(Open)
	}
}

// transition changes state. Callers hold b.mu.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	zap.L().Warn("resilience: breaker state change",
		zap.String("breaker", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}
