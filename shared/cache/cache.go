// Package cache keeps short-lived job status entries in Redis so status reads
// can skip the database.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StatusCache stores the last known status of a job
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// JobStatusKey returns the Redis key for a job's status
func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("docflow:job:%s:status", jobID)
}

// RedisCache implements StatusCache using go-redis/v9
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error {
	return c.client.Set(ctx, JobStatusKey(jobID), status, ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Nop is used when Redis is disabled. Every lookup misses.
type Nop struct{}

func (Nop) SetJobStatus(context.Context, uuid.UUID, string, time.Duration) error { return nil }
func (Nop) GetJobStatus(context.Context, uuid.UUID) (string, bool, error)      { return "", false, nil }
func (Nop) Ping(context.Context) error                                       { return nil }
func (Nop) Close() error                                                     { return nil }
