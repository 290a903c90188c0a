// Package cache provides a Redis client wrapper for the compliance service.
// It holds the latest compliance result per job, suppresses repeated alerts
// within a dedup window and backs per-key request rate limiting.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// Cache wraps a Redis client with compliance-specific operations.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewCache connects to Redis. redisURL may be a redis:// URL or a plain
// "host:port" address.
func NewCache(ctx context.Context, redisURL string, logger zerolog.Logger) (*Cache, error) {
	opts, err := clientOptions(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "cache: failed to connect to Redis at %s", opts.Addr)
	}

	logger = logger.With().Str("component", "cache").Logger()
	logger.Info().Str("addr", opts.Addr).Msg("connected to Redis")
	return &Cache{client: client, logger: logger}, nil
}

func clientOptions(redisURL string) (*redis.Options, error) {
	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, errors.Wrap(err, "cache: parse redis url")
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 20
	opts.MinIdleConns = 2
	return opts, nil
}

// Close shuts down the Redis client.
func (c *Cache) Close() error {
	if c.client != nil {
		c.logger.Info().Msg("closing Redis connection")
		return c.client.Close()
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// complianceKey is "compliance:result:{jobID}".
func complianceKey(jobID string) string {
	return fmt.Sprintf("compliance:result:%s", jobID)
}

// alertKey is "alert:sent:{key}".
func alertKey(key string) string {
	return fmt.Sprintf("alert:sent:%s", key)
}

// ratelimitKey is "ratelimit:{key}".
func ratelimitKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}

// CacheComplianceResult stores the latest result for its job.
func (c *Cache) CacheComplianceResult(ctx context.Context, result *models.ComplianceResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "cache: marshal compliance result")
	}
	key := complianceKey(result.JobID)
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "cache: set %q", key)
	}
	return nil
}

// GetComplianceResult returns the cached result for a job, or nil when none
// is cached.
func (c *Cache) GetComplianceResult(ctx context.Context, jobID string) (*models.ComplianceResult, error) {
	key := complianceKey(jobID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cache: get %q", key)
	}

	var result models.ComplianceResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrapf(err, "cache: decode %q", key)
	}
	return &result, nil
}

// MarkAlerted records that an alert with the given dedup key was sent. It
// returns true if the key was not already set within the window, meaning the
// caller should send the alert.
func (c *Cache) MarkAlerted(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, alertKey(key), time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, errors.Wrap(err, "cache: mark alerted")
	}
	return ok, nil
}

// rateLimitLua increments the counter and sets the TTL only on the first
// request in the window.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RateLimitCheck performs a fixed-window rate limit check and returns true
// if the request is allowed.
func (c *Cache) RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	windowSeconds := int(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	count, err := rateLimitLua.Run(ctx, c.client, []string{ratelimitKey(key)}, windowSeconds).Int64()
	if err != nil {
		return false, errors.Wrap(err, "cache: rate limit check")
	}
	return count <= maxRequests, nil
}
