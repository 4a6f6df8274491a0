package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// SlidingWindowLimiter admits at most limit requests per key within any window-long interval.
// Each admitted request is a member of a sorted set scored by its arrival time in milliseconds.
type SlidingWindowLimiter struct {
	client *redis.Client
	window time.Duration
	limit  int
	now    func() time.Time
}

func NewSlidingWindowLimiter(client *redis.Client, window time.Duration, limit int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		window: window,
		limit:  limit,
		now:    time.Now,
	}
}

// Allow records the request and reports whether it fits the window. A rejected request is removed
// again so it does not count against the caller. retryAfter is set only when the request is
// rejected and is the time until the oldest counted request leaves the window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := rateLimitKeyPrefix + key
	now := l.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(nowMs-l.window.Milliseconds(), 10))
		p.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMs), Member: member})
		card = p.ZCard(ctx, redisKey)
		p.PExpire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit pipeline for %s: %w", key, err)
	}

	if card.Val() <= int64(l.limit) {
		return true, 0, nil
	}

	if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return false, 0, fmt.Errorf("rate limit rollback for %s: %w", key, err)
	}

	oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit oldest entry for %s: %w", key, err)
	}

	retryAfter := l.window
	if len(oldest) > 0 {
		retryAfter = time.Duration(int64(oldest[0].Score)+l.window.Milliseconds()-nowMs) * time.Millisecond
		if retryAfter < time.Millisecond {
			retryAfter = time.Millisecond
		}
	}
	return false, retryAfter, nil
}
