package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis driver.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisDriver is a shared cache backend on Redis. All keys carry a prefix so
// Clear only touches this cache's namespace. It also implements TagStore
// using Redis sets, one set of member keys per tag.
type RedisDriver struct {
	client *redis.Client
	prefix string
}

// NewRedisDriver connects a driver to Redis. The connection is lazy; use
// Available to probe it.
func NewRedisDriver(cfg RedisConfig) *RedisDriver {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "eav:cache:"
	}
	return &RedisDriver{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
	}
}

func (d *RedisDriver) Name() string { return "redis" }

func (d *RedisDriver) key(key string) string { return d.prefix + key }

func (d *RedisDriver) tagKey(tag string) string { return d.prefix + "tag:" + tag }

func (d *RedisDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := d.client.Get(ctx, d.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d *RedisDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return d.client.Set(ctx, d.key(key), value, ttl).Err()
}

func (d *RedisDriver) Delete(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.key(key)).Err()
}

// Clear removes every key under the driver's prefix, scanning in batches so
// unrelated keys in the same database survive.
func (d *RedisDriver) Clear(ctx context.Context) error {
	iter := d.client.Scan(ctx, 0, d.prefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			if err := d.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return d.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (d *RedisDriver) Available(ctx context.Context) bool {
	return d.client.Ping(ctx).Err() == nil
}

// Close releases the underlying connection pool.
func (d *RedisDriver) Close() error {
	return d.client.Close()
}

func (d *RedisDriver) AddToTag(ctx context.Context, tag string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	for i, key := range keys {
		members[i] = key
	}
	return d.client.SAdd(ctx, d.tagKey(tag), members...).Err()
}

func (d *RedisDriver) TagMembers(ctx context.Context, tag string) ([]string, error) {
	members, err := d.client.SMembers(ctx, d.tagKey(tag)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return members, err
}

func (d *RedisDriver) DeleteTag(ctx context.Context, tag string) error {
	return d.client.Del(ctx, d.tagKey(tag)).Err()
}

func (d *RedisDriver) ClearTags(ctx context.Context) error {
	iter := d.client.Scan(ctx, 0, d.prefix+"tag:*", 500).Iterator()
	for iter.Next(ctx) {
		if err := d.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
