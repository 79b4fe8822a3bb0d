package cms

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/config"
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/resilience"
	"github.com/sells-group/underwriter/internal/store"
)

// DefaultTTL is how long a snapshot is served before it is refetched.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidCCN is returned for a malformed certification number.
	ErrInvalidCCN = eris.New("cms: invalid certification number")
	// ErrUnavailable is returned when no tier has data and the fetch failed.
	ErrUnavailable = eris.New("cms: snapshot unavailable")
)

// CCNs are six alphanumeric characters.
var ccnPattern = regexp.MustCompile(`^[0-9A-Z]{6}$`)

// Source names the tier a lookup was served from.
type Source string

// Lookup sources.
const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
	SourceFetch Source = "fetch"
	// SourceStale is an expired stored snapshot served because the fetch
	// failed.
	SourceStale Source = "stale"
)

// Fetcher retrieves current data for a provider from the external dataset.
type Fetcher interface {
	Fetch(ctx context.Context, ccn string) (*model.CMSData, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ccn string) (*model.CMSData, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, ccn string) (*model.CMSData, error) { return f(ctx, ccn) }

// SnapshotStore is the durable snapshot tier.
type SnapshotStore interface {
	GetCMSSnapshot(ctx context.Context, ccn string) (*model.CMSData, error)
	SaveCMSSnapshot(ctx context.Context, data model.CMSData) error
}

// Result is a looked-up snapshot and where it came from.
type Result struct {
	Data   *model.CMSData `json:"data"`
	Source Source         `json:"source"`
}

// Service resolves snapshots tier by tier. Cache and fetcher are optional.
type Service struct {
	cache   Cache
	store   SnapshotStore
	fetcher Fetcher
	ttl     time.Duration
	policy  resilience.Policy
	breaker *resilience.Breaker

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewService wires the tiers. A nil cache or fetcher skips that tier.
func NewService(cache Cache, st SnapshotStore, fetcher Fetcher, cfg config.CMSConfig, policy resilience.Policy) *Service {
	ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		cache:   cache,
		store:   st,
		fetcher: fetcher,
		ttl:     ttl,
		policy:  policy,
		breaker: resilience.NewBreaker("cms-cache", resilience.DefaultBreakerConfig()),
		nowFunc: time.Now,
	}
}

// NormalizeCCN upper-cases and trims ccn and checks its shape.
func NormalizeCCN(ccn string) (string, error) {
	ccn = strings.ToUpper(strings.TrimSpace(ccn))
	if !ccnPattern.MatchString(ccn) {
		return "", eris.Wrapf(ErrInvalidCCN, "%q", ccn)
	}
	return ccn, nil
}

// Lookup returns the snapshot for ccn. Cache failures are logged and skipped;
// a failed fetch falls back to an expired stored snapshot when one exists.
func (s *Service) Lookup(ctx context.Context, ccn string) (*Result, error) {
	ccn, err := NormalizeCCN(ccn)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("ccn", ccn))

	if s.cache != nil {
		cached, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (*model.CMSData, error) {
			return s.cache.Get(ctx, ccn)
		})
		switch {
		case err != nil:
			log.Warn("cms: cache read failed", zap.Error(err))
		case cached != nil:
			return &Result{Data: cached, Source: SourceCache}, nil
		}
	}

	stored, err := resilience.Do(ctx, s.policy, "cms.store.get", func(ctx context.Context) (*model.CMSData, error) {
		return s.store.GetCMSSnapshot(ctx, ccn)
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("cms: snapshot read failed", zap.Error(err))
		stored = nil
	}
	if stored != nil && s.fresh(stored) {
		s.fill(ctx, *stored)
		return &Result{Data: stored, Source: SourceStore}, nil
	}

	if s.fetcher == nil {
		return s.staleOr(stored, eris.Wrapf(ErrUnavailable, "%s: no fetcher", ccn))
	}
	fetched, err := resilience.Do(ctx, s.policy, "cms.fetch", func(ctx context.Context) (*model.CMSData, error) {
		return s.fetcher.Fetch(ctx, ccn)
	})
	if err != nil || fetched == nil {
		log.Warn("cms: fetch failed", zap.Error(err), zap.Bool("have_stale", stored != nil))
		return s.staleOr(stored, eris.Wrapf(ErrUnavailable, "%s: %v", ccn, err))
	}

	data := *fetched
	data.CertificationNumber = ccn
	if data.AsOf.IsZero() {
		data.AsOf = s.nowFunc().UTC()
	}
	if err := resilience.Run(ctx, s.policy, "cms.store.save", func(ctx context.Context) error {
		return s.store.SaveCMSSnapshot(ctx, data)
	}); err != nil {
		log.Warn("cms: snapshot save failed", zap.Error(err))
	}
	s.fill(ctx, data)
	log.Info("cms: fetched snapshot", zap.Int("overall_rating", data.OverallRating))
	return &Result{Data: &data, Source: SourceFetch}, nil
}

func (s *Service) fresh(d *model.CMSData) bool {
	return !d.AsOf.IsZero() && s.nowFunc().Sub(d.AsOf) < s.ttl
}

// fill writes d to the cache with the TTL remaining on its snapshot age.
func (s *Service) fill(ctx context.Context, d model.CMSData) {
	if s.cache == nil {
		return
	}
	ttl := s.ttl - s.nowFunc().Sub(d.AsOf)
	if ttl <= 0 {
		return
	}
	if _, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.cache.Set(ctx, d, ttl)
	}); err != nil {
		zap.L().Warn("cms: cache write failed", zap.String("ccn", d.CertificationNumber), zap.Error(err))
	}
}

func (s *Service) staleOr(stored *model.CMSData, err error) (*Result, error) {
	if stored != nil {
		return &Result{Data: stored, Source: SourceStale}, nil
	}
	return nil, err
}
