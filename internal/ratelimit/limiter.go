package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter interface {
	// Allow 给 key 的计数加一，加完之后超过 limit 就返回 false。
	// 拒绝不回滚计数，调用方在窗口内重试只会继续被拒。
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// RedisLimiter 固定窗口限流，计数器带 TTL。
// 限流只是一个保护措施，Redis 不可用时放行，不能因为它挡住正常流量。
type RedisLimiter struct {
	client redis.Cmdable
	window time.Duration
	logger *slog.Logger
}

func NewRedisLimiter(client redis.Cmdable, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		window: window,
		logger: slog.Default(),
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	cnt, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Warn("限流计数失败，直接放行",
			slog.String("key", key),
			slog.Any("err", err))
		return true, nil
	}
	if cnt == 1 {
		// 第一次创建计数器时设置窗口
		err = r.client.Expire(ctx, key, r.window).Err()
		if err != nil {
			r.logger.Warn("设置限流窗口失败",
				slog.String("key", key),
				slog.Any("err", err))
		}
	}
	return cnt <= int64(limit), nil
}
