package recalc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/config"
)

const redisKeyPrefix = "recalc:"

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// RedisCache shares recalculation entries between processes. Expiry is
// delegated to Redis key TTLs.
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "recalc: redis get %s", key)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, eris.Wrap(err, "recalc: decode cached entry")
	}
	return &e, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "recalc: encode cached entry")
	}
	return eris.Wrapf(c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(), "recalc: redis set %s", key)
}

func (c *RedisCache) Invalidate(ctx context.Context, dealID string) error {
	pattern := redisKeyPrefix + "*"
	if dealID != "" {
		// One ? per digest character, so deal "a" leaves "a:b" alone.
		pattern = redisKeyPrefix + globEscaper.Replace(dealID) + ":" + strings.Repeat("?", digestLen)
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return eris.Wrapf(err, "recalc: redis scan %s", pattern)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return eris.Wrap(err, "recalc: redis del")
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return eris.Wrap(c.client.Ping(ctx).Err(), "recalc: redis ping")
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
