package coursectx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sapling-graph/backend/pkg/logger"
)

// Cache holds recently built course contexts. Implementations must treat
// every failure as a miss; the record store stays the source of truth.
type Cache interface {
	Get(ctx context.Context, courseName string) (*CourseContext, bool)
	Set(ctx context.Context, courseName string, cc *CourseContext)
	Invalidate(ctx context.Context, courseName string)
}

// NopCache never stores anything
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*CourseContext, bool) { return nil, false }
func (NopCache) Set(context.Context, string, *CourseContext)        {}
func (NopCache) Invalidate(context.Context, string)                 {}

const cacheKeyPrefix = "course_context:"

// RedisCache stores course contexts as JSON strings with a TTL
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache wraps an existing client
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("course_context_cache"),
	}
}

// DialRedis connects to addr and checks the connection
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func cacheKey(courseName string) string {
	return cacheKeyPrefix + courseName
}

func (c *RedisCache) Get(ctx context.Context, courseName string) (*CourseContext, bool) {
	raw, err := c.client.Get(ctx, cacheKey(courseName)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Course context cache read failed",
				zap.String("course", courseName),
				zap.Error(err),
			)
		}
		return nil, false
	}
	var cc CourseContext
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Warn("Discarding unreadable cached course context",
			zap.String("course", courseName),
			zap.Error(err),
		)
		return nil, false
	}
	return &cc, true
}

func (c *RedisCache) Set(ctx context.Context, courseName string, cc *CourseContext) {
	if cc == nil {
		return
	}
	raw, err := json.Marshal(cc)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(courseName), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Course context cache write failed",
			zap.String("course", courseName),
			zap.Error(err),
		)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, courseName string) {
	if err := c.client.Del(ctx, cacheKey(courseName)).Err(); err != nil {
		c.logger.Warn("Course context cache delete failed",
			zap.String("course", courseName),
			zap.Error(err),
		)
	}
}
