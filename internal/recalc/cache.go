package recalc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/valuation"
)

// Entry is one cached recalculation.
type Entry struct {
	Valuation  *valuation.Output `json:"valuation"`
	Parameters *params.Resolved  `json:"parameters"`
	Timestamp  time.Time         `json:"timestamp"`
	Duration   time.Duration     `json:"duration"`
	Cached     bool              `json:"cached"`
}

// Cache stores recalculation entries by key with a TTL. Invalidate with an
// empty deal ID clears every entry.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error
	Invalidate(ctx context.Context, dealID string) error
}

// digestLen is the hex length of the digest suffix of every cache key.
const digestLen = 24

// cacheKey is "<deal>:<digest>" where the digest covers the session inputs
// (map keys are sorted by encoding/json) and the facility input. Deal IDs may
// themselves contain colons; the digest never does.
func cacheKey(dealID string, inputs params.Inputs, in valuation.Input) (string, error) {
	if inputs == nil {
		inputs = params.Inputs{}
	}
	ov, err := json.Marshal(inputs)
	if err != nil {
		return "", eris.Wrap(err, "recalc: encode overrides for cache key")
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", eris.Wrap(err, "recalc: encode input for cache key")
	}
	h := sha256.New()
	h.Write(ov)
	h.Write([]byte{0})
	h.Write(data)
	return dealID + ":" + hex.EncodeToString(h.Sum(nil))[:digestLen], nil
}

func dealOf(key string) string {
	i := strings.LastIndex(key, ":")
	if i < 0 {
		return key
	}
	return key[:i]
}

type memoryItem struct {
	entry   *Entry
	expires time.Time
}

// MemoryCache is a process-local cache with lazy expiry checked on read.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), nowFunc: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	if !c.nowFunc().Before(it.expires) {
		delete(c.items, key)
		return nil, nil
	}
	return it.entry, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{entry: e, expires: c.nowFunc().Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, dealID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dealID == "" {
		c.items = make(map[string]memoryItem)
		return nil
	}
	for k := range c.items {
		if dealOf(k) == dealID {
			delete(c.items, k)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
