// Package ratelimit is a Redis-backed sliding-window request limiter shared by
// every API replica.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Commands is the subset of redis.Cmdable the limiter uses.
type Commands interface {
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Config sets the window and its request budget.
type Config struct {
	Window      time.Duration
	MaxRequests int
	// Prefix namespaces keys. Defaults to "ratelimit".
	Prefix string
}

// Result is the outcome of one check.
type Result struct {
	Allowed   bool
	Remaining int
	// Reset is how long until a slot frees up.
	Reset time.Duration
}

// Limiter admits at most MaxRequests per key within any Window.
type Limiter struct {
	redis Commands
	cfg   Config
	now   func() time.Time
}

// New validates cfg.
func New(client Commands, cfg Config) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Window <= 0 || cfg.MaxRequests <= 0 {
		return nil, fmt.Errorf("invalid rate limit window %s / max %d", cfg.Window, cfg.MaxRequests)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	return &Limiter{redis: client, cfg: cfg, now: time.Now}, nil
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Check records a request for key if the window has room.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	windowMs := l.cfg.Window.Milliseconds()
	redisKey := l.cfg.Prefix + ":" + key

	if err := l.redis.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(nowMs-windowMs, 10)).Err(); err != nil {
		return Result{}, fmt.Errorf("trim window: %w", err)
	}
	count, err := l.redis.ZCard(ctx, redisKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("count window: %w", err)
	}

	if count >= int64(l.cfg.MaxRequests) {
		reset := l.cfg.Window
		oldest, err := l.redis.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err != nil {
			return Result{}, fmt.Errorf("oldest entry: %w", err)
		}
		if len(oldest) > 0 {
			reset = time.Duration(max(0, int64(oldest[0].Score)+windowMs-nowMs)) * time.Millisecond
		}
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}

	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	if err := l.redis.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMs), Member: member}).Err(); err != nil {
		return Result{}, fmt.Errorf("record request: %w", err)
	}
	if err := l.redis.PExpire(ctx, redisKey, l.cfg.Window).Err(); err != nil {
		return Result{}, fmt.Errorf("expire window: %w", err)
	}
	return Result{
		Allowed:   true,
		Remaining: l.cfg.MaxRequests - int(count) - 1,
		Reset:     l.cfg.Window,
	}, nil
}

// Limit reports the configured request budget.
func (l *Limiter) Limit() int { return l.cfg.MaxRequests }
