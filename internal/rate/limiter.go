package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const windowKeyPrefix = "rr:"

// Config holds refresh throttling parameters shared by both limiters.
type Config struct {
	// MaxAttempts is the number of refreshes allowed per family within Window.
	MaxAttempts int
	Window      time.Duration
}

// Limiter is a Redis fixed-window refresh limiter keyed by token family. Use it
// when several engine instances share one registry.
type Limiter struct {
	client redis.UniversalClient
	max    int64
	window time.Duration
}

// New creates a Redis-backed [Limiter].
func New(client redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		client: client,
		max:    int64(cfg.MaxAttempts),
		window: cfg.Window,
	}
}

// CheckRefresh counts one refresh for family and returns [ErrRateLimited] once
// the window budget is spent.
//
//	Performance: 1 pipelined round trip (INCR + PTTL), plus PEXPIRE when the
//	window is opened.
func (l *Limiter) CheckRefresh(ctx context.Context, family string) error {
	key := windowKeyPrefix + family

	var (
		hits *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	// A counter without expiry is a window opened by this hit, or one whose
	// PEXPIRE was lost; either way the window starts now.
	if ttl.Val() < 0 {
		if err := l.client.PExpire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
	}

	if hits.Val() > l.max {
		return ErrRateLimited
	}
	return nil
}
