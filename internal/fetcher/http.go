package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/underwriter/internal/resilience"
)

// HTTPOptions configures HTTPFetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// Retry governs retries of transport errors, 429 and 5xx responses.
	// A zero MaxAttempts selects a download-sized policy.
	Retry resilience.Policy
	// HostLimits pace requests per host. Other hosts share a 20 rps limit.
	HostLimits map[string]*AdaptiveLimiter
}

// AdaptiveLimiter is a token bucket that creeps up after successful calls
// and backs off hard after a 429. The rate stays within [start/4, start*2].
type AdaptiveLimiter struct {
	mu      sync.Mutex
	bucket  *rate.Limiter
	floor   rate.Limit
	ceiling rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter starts a limiter at start requests per second.
func NewAdaptiveLimiter(start rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		bucket:  rate.NewLimiter(start, burst),
		floor:   start / 4,
		ceiling: start * 2,
		current: start,
	}
}

// Wait blocks until a request may be sent.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error { return a.bucket.Wait(ctx) }

// OnSuccess raises the rate by a fifth.
func (a *AdaptiveLimiter) OnSuccess() { a.scale(1.2) }

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	r := a.scale(0.5)
	zap.L().Warn("fetcher: host rate limited, slowing down", zap.Float64("rps", float64(r)))
}

func (a *AdaptiveLimiter) scale(f float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = min(max(a.current*rate.Limit(f), a.floor), a.ceiling)
	a.bucket.SetLimit(a.current)
	return a.current
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// DefaultHostLimits paces the public data hosts the CLI talks to.
func DefaultHostLimits() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"data.cms.gov": NewAdaptiveLimiter(5, 5),
	}
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// HTTPFetcher implements Fetcher over net/http.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	policy    resilience.Policy
	hosts     map[string]*AdaptiveLimiter
	shared    *rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher. Nil HostLimits selects
// DefaultHostLimits.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "underwriter/1.0"
	}
	if opts.HostLimits == nil {
		opts.HostLimits = DefaultHostLimits()
	}
	p := opts.Retry
	if p.MaxAttempts <= 0 {
		p = resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, Multiplier: 2, JitterFraction: 0.25}
	}
	p.Retryable = resilience.IsTransient

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		userAgent: opts.UserAgent,
		policy:    p,
		hosts:     opts.HostLimits,
		shared:    rate.NewLimiter(20, 20),
	}
}

// get sends one GET. 429, 5xx and transport failures come back marked
// transient; any other non-200 status is final.
func (f *HTTPFetcher) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	lim := f.hosts[u.Host]
	var err error
	if lim != nil {
		err = lim.Wait(ctx)
	} else {
		err = f.shared.Wait(ctx)
	}
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.Transient(err)
	}
	if resp.StatusCode == http.StatusOK {
		if lim != nil {
			lim.OnSuccess()
		}
		return resp, nil
	}

	_ = resp.Body.Close()
	serr := &StatusError{Code: resp.StatusCode, URL: u.Redacted()}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if lim != nil {
			lim.OnRateLimit()
		}
		return nil, resilience.Transient(serr)
	case resp.StatusCode >= 500:
		return nil, resilience.Transient(serr)
	}
	return nil, serr
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}

	resp, err := resilience.Do(ctx, f.policy, "fetcher.download", func(ctx context.Context) (*http.Response, error) {
		return f.get(ctx, u)
	})
	switch {
	case err == nil:
		return resp.Body, nil
	case resilience.IsTransient(err) && ctx.Err() == nil:
		return nil, eris.Wrapf(err, "fetcher: all retries exhausted for %s", u.Host)
	default:
		return nil, eris.Wrap(err, "fetcher: download")
	}
}

// DownloadToFile fetches the URL into path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, eris.Wrapf(err, "fetcher: write %s", path)
	}
	return n, nil
}
