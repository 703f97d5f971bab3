package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"hcert/internal/ratelimit/models"
)

const redisKeyPrefix = "hcert:ratelimit:"

// RedisLimiter is a fixed window counter shared by every server instance.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (*models.Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return &models.Result{Allowed: true, Limit: l.limit, Remaining: l.limit}, nil
	}
	rkey := redisKeyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, rkey)
		p.ExpireNX(ctx, rkey, l.window)
		ttl = p.PTTL(ctx, rkey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}

	count := int(incr.Val())
	reset := ttl.Val()
	if reset <= 0 {
		reset = l.window
	}
	res := &models.Result{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
		ResetAt:   time.Now().Add(reset),
	}
	if !res.Allowed {
		res.RetryAfter = max(int((reset+time.Second-1)/time.Second), 1)
	}
	return res, nil
}
