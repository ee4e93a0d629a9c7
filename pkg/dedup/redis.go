package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a content hash is remembered.
const DefaultTTL = 30 * 24 * time.Hour

// RedisIndex implements Index with SETNX so several service replicas share
// one view of first producers.
type RedisIndex struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisConfig configures NewRedisIndex.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewRedisIndex creates an index backed by Redis.
func NewRedisIndex(cfg RedisConfig) *RedisIndex {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisIndexWithClient(rdb, cfg.TTL)
}

// NewRedisIndexWithClient wraps an existing client.
func NewRedisIndexWithClient(client redis.UniversalClient, ttl time.Duration) *RedisIndex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisIndex{client: client, prefix: "mismo:content:", ttl: ttl}
}

// Ping checks connectivity.
func (r *RedisIndex) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("dedup: redis ping: %w", err)
	}
	return nil
}

func (r *RedisIndex) Claim(ctx context.Context, hash, runID string) (string, bool, error) {
	if err := validate(hash, runID); err != nil {
		return "", false, err
	}
	key := r.prefix + hash

	// A key can expire between SETNX and GET; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.client.SetNX(ctx, key, runID, r.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("dedup: redis setnx: %w", err)
		}
		if ok {
			return runID, false, nil
		}
		first, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("dedup: redis get: %w", err)
		}
		return first, first != runID, nil
	}
	return "", false, fmt.Errorf("dedup: could not claim %s", hash)
}

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *RedisIndex) Release(ctx context.Context, hash, runID string) error {
	if err := validate(hash, runID); err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + hash}, runID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("dedup: redis release: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisIndex) Close() error {
	return r.client.Close()
}
