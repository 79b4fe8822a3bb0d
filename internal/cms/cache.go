// Package cms looks up CMS Care Compare snapshots by certification number
// through a Redis cache, the snapshot store and finally the external source.
package cms

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/model"
)

const keyPrefix = "cms:"

// Cache holds snapshots for a TTL. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, ccn string) (*model.CMSData, error)
	Set(ctx context.Context, data model.CMSData, ttl time.Duration) error
}

// RedisSnapshotCache stores snapshots as JSON under cms:<ccn>.
type RedisSnapshotCache struct {
	client *redis.Client
}

// NewRedisSnapshotCache wraps client.
func NewRedisSnapshotCache(client *redis.Client) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client}
}

func (c *RedisSnapshotCache) Get(ctx context.Context, ccn string) (*model.CMSData, error) {
	raw, err := c.client.Get(ctx, keyPrefix+ccn).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cms: redis get %s", ccn)
	}
	var d model.CMSData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, eris.Wrapf(err, "cms: decode cached %s", ccn)
	}
	return &d, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, data model.CMSData, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "cms: encode snapshot")
	}
	return eris.Wrapf(c.client.Set(ctx, keyPrefix+data.CertificationNumber, raw, ttl).Err(),
		"cms: redis set %s", data.CertificationNumber)
}
