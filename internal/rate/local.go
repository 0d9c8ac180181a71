package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// Local is an in-process token-bucket refresh limiter keyed by token family.
// Idle buckets are evicted inline, at most once per window.
type Local struct {
	mu        sync.Mutex
	config    Config
	limit     xrate.Limit
	buckets   map[string]*bucket
	lastPrune time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *xrate.Limiter
	seen time.Time
}

// NewLocal creates an in-process [Local] limiter. The bucket refills
// MaxAttempts tokens per Window and holds at most MaxAttempts.
func NewLocal(cfg Config) *Local {
	return &Local{
		config:  cfg,
		limit:   xrate.Every(cfg.Window / time.Duration(cfg.MaxAttempts)),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// CheckRefresh takes one token from the family's bucket.
func (l *Local) CheckRefresh(_ context.Context, family string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	b, ok := l.buckets[family]
	if !ok {
		b = &bucket{lim: xrate.NewLimiter(l.limit, l.config.MaxAttempts)}
		l.buckets[family] = b
	}
	b.seen = now
	if !b.lim.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Len reports how many family buckets are tracked.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Local) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.config.Window {
		return
	}
	l.lastPrune = now
	for family, b := range l.buckets {
		if now.Sub(b.seen) > l.config.Window {
			delete(l.buckets, family)
		}
	}
}
