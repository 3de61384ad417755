package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Authorizer answers whether an idTag is entitled to charge.
type Authorizer interface {
	IsAuthorized(ctx context.Context, idTag string) (bool, error)
}

// KV is the part of the redis client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// AuthorizationCache remembers accepted idTags for ttl. Rejections always go
// to the backing authorizer so a fresh entitlement is seen at once. Redis
// failures fall through to the authorizer.
type AuthorizationCache struct {
	client KV
	next   Authorizer
	ttl    time.Duration
	logger *zap.Logger
}

// NewAuthorizationCache returns redis-backed cache.
func NewAuthorizationCache(client KV, next Authorizer, ttl time.Duration, logger *zap.Logger) *AuthorizationCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AuthorizationCache{client: client, next: next, ttl: ttl, logger: logger}
}

func (c *AuthorizationCache) key(idTag string) string {
	return fmt.Sprintf("ocpp:authorized:%s", idTag)
}

func (c *AuthorizationCache) IsAuthorized(ctx context.Context, idTag string) (bool, error) {
	cached, err := c.client.Get(ctx, c.key(idTag)).Result()
	switch {
	case err == nil && cached == "1":
		return true, nil
	case err != nil && !errors.Is(err, redis.Nil):
		c.logger.Warn("authorization cache read failed", zap.String("id_tag", idTag), zap.Error(err))
	}

	ok, err := c.next.IsAuthorized(ctx, idTag)
	if err != nil {
		return false, err
	}
	if ok {
		if err := c.client.Set(ctx, c.key(idTag), "1", c.ttl).Err(); err != nil {
			c.logger.Warn("authorization cache write failed", zap.String("id_tag", idTag), zap.Error(err))
		}
	}
	return ok, nil
}
