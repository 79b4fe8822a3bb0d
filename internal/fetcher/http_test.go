package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/resilience"
)

func fastRetry(attempts int) resilience.Policy {
	return resilience.Policy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

// countingServer answers with the given statuses in order, then 200 with body.
func countingServer(t *testing.T, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		assert.Equal(t, "uw-test", r.Header.Get("User-Agent"))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDownload_OK(t *testing.T) {
	srv, hits := countingServer(t, "Name,Beds,Price\n")
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "uw-test", Retry: fastRetry(3)})

	body, err := f.Download(context.Background(), srv.URL+"/comps.csv")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "Name,Beds,Price\n", string(data))
	assert.EqualValues(t, 1, hits.Load())
}

func TestDownloadToFile(t *testing.T) {
	srv, _ := countingServer(t, "Name,Beds,Price\n")
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "uw-test", Retry: fastRetry(1)})

	path := filepath.Join(t.TempDir(), "comps.csv")
	n, err := f.DownloadToFile(context.Background(), srv.URL+"/comps.csv", path)
	require.NoError(t, err)
	assert.EqualValues(t, 16, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Name,Beds,Price\n", string(data))
}

func TestDownload_RetryBehaviour(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		attempts  int
		wantHits  int32
		wantErr   string
		transient bool
	}{
		{name: "recovers after 5xx", statuses: []int{500, 502}, attempts: 3, wantHits: 3},
		{name: "gives up after attempts", statuses: []int{503, 503, 503}, attempts: 2, wantHits: 2, wantErr: "all retries exhausted", transient: true},
		{name: "4xx is final", statuses: []int{403}, attempts: 3, wantHits: 1, wantErr: "unexpected status 403"},
		{name: "404 is final", statuses: []int{404}, attempts: 3, wantHits: 1, wantErr: "unexpected status 404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := countingServer(t, "ok", tt.statuses...)
			f := NewHTTPFetcher(HTTPOptions{UserAgent: "uw-test", Retry: fastRetry(tt.attempts)})

			body, err := f.Download(context.Background(), srv.URL+"/x")
			assert.Equal(t, tt.wantHits, hits.Load())
			if tt.wantErr == "" {
				require.NoError(t, err)
				_ = body.Close()
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))

			var serr *StatusError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, tt.statuses[0], serr.Code)
		})
	}
}

func TestDownload_RateLimitedHostSlowsDown(t *testing.T) {
	srv, _ := countingServer(t, "ok", http.StatusTooManyRequests)

	lim := NewAdaptiveLimiter(100, 10)
	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "uw-test",
		Retry:      fastRetry(2),
		HostLimits: map[string]*AdaptiveLimiter{srv.Listener.Addr().String(): lim},
	})

	body, err := f.Download(context.Background(), srv.URL+"/limited")
	require.NoError(t, err)
	_ = body.Close()

	// 100 halved to 50, then up a fifth.
	assert.InDelta(t, 60, float64(lim.Limit()), 1e-9)
}

func TestDownload_CancelledContext(t *testing.T) {
	srv, hits := countingServer(t, "ok")
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "uw-test", Retry: fastRetry(3)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Download(ctx, srv.URL+"/x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 1)
	for range 10 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20, float64(lim.Limit()), 1e-9)
	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 1e-9)
}
