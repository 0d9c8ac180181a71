package goRotate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
)

var testSecret = []byte("engine-test-secret-engine-test-s")

// testClock is a settable clock shared by the engine, the codec and the
// registry.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessTTL = time.Minute
	cfg.JWT.RefreshTTL = time.Hour
	cfg.JWT.PrivateKey = testSecret
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type engineOption func(*Builder)

func withSink(sink AuditSink) engineOption {
	return func(b *Builder) {
		b.config.Audit.Enabled = true
		b.config.Audit.BufferSize = 256
		b.config.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	}
}

func withConfig(mutate func(*Config)) engineOption {
	return func(b *Builder) { mutate(&b.config) }
}

func newTestEngine(t *testing.T, reg session.Registry, clock *testClock, opts ...engineOption) *Engine {
	t.Helper()
	b := New().WithConfig(testConfig()).WithRegistry(reg).WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func newMemoryEngine(t *testing.T, opts ...engineOption) (*Engine, *session.MemoryStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := session.NewMemoryStore(session.WithClock(clock.Now))
	return newTestEngine(t, store, clock, opts...), store, clock
}

func alice() Identity {
	return Identity{Subject: "42", Email: "alice@example.com", Role: jwt.RoleUser}
}

func refreshClaims(t *testing.T, e *Engine, token string) *jwt.RefreshClaims {
	t.Helper()
	claims, ok := e.Verify(token).(*jwt.RefreshClaims)
	if !ok {
		t.Fatalf("token is not a verifiable refresh token")
	}
	return claims
}

func issue(t *testing.T, e *Engine, id Identity) *TokenPair {
	t.Helper()
	pair, err := e.Issue(context.Background(), id)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair
}
