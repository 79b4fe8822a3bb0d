package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/config"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDo_RetriesTransient(t *testing.T) {
	var calls int
	got, err := Do(context.Background(), fastPolicy(), "test", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("blip"))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	permanent := errors.New("bad row")
	var calls int
	_, err := Do(context.Background(), fastPolicy(), "test", func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := Run(context.Background(), fastPolicy(), "test", func(context.Context) error {
		calls++
		return Transient(fmt.Errorf("attempt %d", calls))
	})
	require.Error(t, err)
	assert.Equal(t, "attempt 3", err.Error(), "last error is returned")
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy()
	p.InitialBackoff = time.Hour
	p.MaxBackoff = time.Hour

	var calls int
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, p, "test", func(context.Context) error {
			calls++
			return Transient(errors.New("blip"))
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancel")
	}
}

func TestDo_CustomRetryable(t *testing.T) {
	p := fastPolicy()
	p.Retryable = func(error) bool { return true }
	var calls int
	_ = Run(context.Background(), p, "test", func(context.Context) error {
		calls++
		return errors.New("anything")
	})
	assert.Equal(t, 3, calls)
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{MaxAttempts: 5, InitialBackoffMs: 50, Multiplier: 3})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, DefaultPolicy().MaxBackoff, p.MaxBackoff)
	assert.InDelta(t, 3.0, p.Multiplier, 1e-12)
	assert.InDelta(t, 0.25, p.JitterFraction, 1e-12)
}

func TestBackoff(t *testing.T) {
	p := Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}.normalized()
	p.JitterFraction = 0
	assert.Equal(t, 100*time.Millisecond, p.backoff(0))
	assert.Equal(t, 400*time.Millisecond, p.backoff(2))
	assert.Equal(t, time.Second, p.backoff(10))

	p.JitterFraction = 0.5
	for range 100 {
		d := p.backoff(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("constraint violated"), false},
		{"marked", Transient(errors.New("x")), true},
		{"marked and wrapped", eris.Wrap(Transient(errors.New("x")), "store: get"), true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"refused message", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), true},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"pg constraint", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
	assert.Nil(t, Transient(nil))
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	b := NewBreaker("redis", BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	b.nowFunc = func() time.Time { return now }
	ctx := context.Background()
	fail := func(context.Context) (int, error) { return 0, errors.New("down") }
	ok := func(context.Context) (int, error) { return 1, nil }

	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Closed, b.State())
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Open, b.State())

	_, err := Call(ctx, b, func(context.Context) (int, error) {
		t.Error("called while open")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrOpen)

	now = now.Add(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	// A failed probe reopens.
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Open, b.State())

	now = now.Add(time.Minute)
	v, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker("pg", BreakerConfig{Threshold: 2})
	ctx := context.Background()
	fail := func(context.Context) (int, error) { return 0, errors.New("down") }

	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, func(context.Context) (int, error) { return 0, nil })
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Closed, b.State())

	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Open, b.State())
	b.Reset()
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CancelledCallerIsNotAFailure(t *testing.T) {
	b := NewBreaker("pg", BreakerConfig{Threshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Call(ctx, b, func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, "half-open", HalfOpen.String())
}
