package goRotate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
)

func TestIssueRegistersFirstTokenOfNewFamily(t *testing.T) {
	e, store, _ := newMemoryEngine(t)
	ctx := context.Background()

	pair := issue(t, e, alice())
	claims := refreshClaims(t, e, pair.RefreshToken)

	if claims.TokenFamily() != pair.Family {
		t.Fatalf("family mismatch: %q vs %q", claims.TokenFamily(), pair.Family)
	}
	if !claims.ExpiresAt.Time.Equal(pair.RefreshTokenExpiresAt) {
		t.Fatalf("refresh expiry mismatch")
	}
	rec, err := store.Lookup(ctx, claims.TokenID())
	if err != nil || rec == nil {
		t.Fatalf("expected registered record, got %v %v", rec, err)
	}
	if rec.Subject != "42" || rec.Family != pair.Family {
		t.Fatalf("unexpected record %+v", rec)
	}

	access, err := e.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if access.Identity() != alice() {
		t.Fatalf("identity mismatch %+v", access.Identity())
	}

	other := issue(t, e, alice())
	if other.Family == pair.Family {
		t.Fatal("each issuance must start a new family")
	}
}

func TestIssueRejectsInvalidIdentity(t *testing.T) {
	e, store, _ := newMemoryEngine(t)

	for _, id := range []Identity{
		{Role: jwt.RoleUser},
		{Subject: "1", Role: "owner"},
	} {
		if _, err := e.Issue(context.Background(), id); !errors.Is(err, ErrInvalidIdentity) {
			t.Fatalf("expected ErrInvalidIdentity for %+v, got %v", id, err)
		}
	}

	stats, _ := store.Stats(context.Background())
	if stats.Total != 0 {
		t.Fatalf("nothing should be registered, got %+v", stats)
	}
}

func TestRefreshMovesTokenIDWithinFamily(t *testing.T) {
	e, store, _ := newMemoryEngine(t)
	ctx := context.Background()

	first := issue(t, e, alice())
	a := refreshClaims(t, e, first.RefreshToken)

	second, err := e.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	b := refreshClaims(t, e, second.RefreshToken)

	if b.TokenFamily() != a.TokenFamily() || second.Family != first.Family {
		t.Fatal("rotation must keep the family")
	}
	if b.TokenID() == a.TokenID() {
		t.Fatal("rotation must mint a new token id")
	}
	if rec, _ := store.Lookup(ctx, a.TokenID()); rec != nil {
		t.Fatal("old token id still tracked after rotation")
	}
	if rec, _ := store.Lookup(ctx, b.TokenID()); rec == nil {
		t.Fatal("new token id not tracked after rotation")
	}
	if b.Identity() != alice() {
		t.Fatalf("identity not carried over: %+v", b.Identity())
	}
}

// Family F1 issues T1; the client rotates to T2; an attacker replays T1,
// which revokes F1, so the client's next rotation with T2 fails too.
func TestRefreshReplayRevokesWholeFamily(t *testing.T) {
	e, store, _ := newMemoryEngine(t)
	ctx := context.Background()

	t1 := issue(t, e, alice())
	t2, err := e.Refresh(ctx, t1.RefreshToken)
	if err != nil {
		t.Fatalf("legitimate rotation: %v", err)
	}

	if _, err := e.Refresh(ctx, t1.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("replay of T1: expected ErrTokenReuseDetected, got %v", err)
	}

	stats, _ := store.Stats(ctx)
	if stats.Total != 1 || stats.Active != 0 {
		t.Fatalf("T2 should be kept but revoked, got %+v", stats)
	}

	if _, err := e.Refresh(ctx, t2.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("rotation with T2 after revocation: expected ErrTokenReuseDetected, got %v", err)
	}

	snap := e.MetricsSnapshot()
	if snap.Counters[MetricRefreshReuseDetected] != 2 || snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
	if snap.Counters[MetricTokensRevoked] != 1 {
		t.Fatalf("expected exactly one record newly revoked, got %d", snap.Counters[MetricTokensRevoked])
	}
}

func TestRefreshReplayDoesNotTouchOtherFamilies(t *testing.T) {
	e, _, _ := newMemoryEngine(t)
	ctx := context.Background()

	laptop := issue(t, e, alice())
	phone := issue(t, e, alice())

	if _, err := e.Refresh(ctx, laptop.RefreshToken); err != nil {
		t.Fatalf("rotate laptop: %v", err)
	}
	if _, err := e.Refresh(ctx, laptop.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse, got %v", err)
	}
	if _, err := e.Refresh(ctx, phone.RefreshToken); err != nil {
		t.Fatalf("unrelated family must survive: %v", err)
	}
}

func TestRefreshRejectsInvalidTokensWithoutStateChange(t *testing.T) {
	e, store, clock := newMemoryEngine(t)
	ctx := context.Background()
	pair := issue(t, e, alice())

	cases := map[string]string{
		"garbage":      "not-a-token",
		"access token": pair.AccessToken,
		"tampered":     tamperSignature(pair.RefreshToken),
	}
	for name, token := range cases {
		if _, err := e.Refresh(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	stats, _ := store.Stats(ctx)
	if stats.Active != 1 {
		t.Fatalf("invalid tokens must not change state, got %+v", stats)
	}

	clock.Advance(time.Hour + time.Second)
	if _, err := e.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired refresh token: expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeAllForSubjectFailsEveryFamily(t *testing.T) {
	e, _, _ := newMemoryEngine(t)
	ctx := context.Background()

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		pairs = append(pairs, issue(t, e, alice()))
	}
	bob := issue(t, e, Identity{Subject: "7", Role: jwt.RoleAdmin})

	rotated, err := e.Refresh(ctx, pairs[0].RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	pairs[0] = rotated

	n, err := e.RevokeAllForSubject(ctx, "42")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked records, got %d", n)
	}

	for i, p := range pairs {
		if _, err := e.Refresh(ctx, p.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
			t.Fatalf("family %d: expected ErrTokenReuseDetected, got %v", i, err)
		}
	}
	if _, err := e.Refresh(ctx, bob.RefreshToken); err != nil {
		t.Fatalf("other subject must be untouched: %v", err)
	}

	if _, err := e.RevokeAllForSubject(ctx, ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for empty subject, got %v", err)
	}
}

func TestLogoutRevokesOnlyThatSession(t *testing.T) {
	e, _, _ := newMemoryEngine(t)
	ctx := context.Background()

	laptop := issue(t, e, alice())
	phone := issue(t, e, alice())

	if err := e.Logout(ctx, laptop.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := e.Refresh(ctx, laptop.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("logged out session: expected ErrTokenReuseDetected, got %v", err)
	}
	if _, err := e.Refresh(ctx, phone.RefreshToken); err != nil {
		t.Fatalf("other session: %v", err)
	}
	if err := e.Logout(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeFamilyByID(t *testing.T) {
	e, _, _ := newMemoryEngine(t)
	ctx := context.Background()
	pair := issue(t, e, alice())

	n, err := e.RevokeFamily(ctx, pair.Family)
	if err != nil || n != 1 {
		t.Fatalf("revoke family: n=%d err=%v", n, err)
	}
	if n, _ := e.RevokeFamily(ctx, pair.Family); n != 0 {
		t.Fatalf("second revoke must be a no-op, got %d", n)
	}
	if _, err := e.RevokeFamily(ctx, "not a family"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected malformed family to be rejected, got %v", err)
	}
}

func TestSweepRemovesOnlyExpiredRecords(t *testing.T) {
	e, _, clock := newMemoryEngine(t)
	ctx := context.Background()

	issue(t, e, alice())
	issue(t, e, alice())
	clock.Advance(40 * time.Minute)
	live := issue(t, e, alice())
	clock.Advance(21 * time.Minute)

	before, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if before.TotalTokens != 3 || before.ActiveTokens != 1 {
		t.Fatalf("unexpected stats before sweep %+v", before)
	}

	n, err := e.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept records, got %d", n)
	}

	after, _ := e.Stats(ctx)
	if after.TotalTokens != 1 || after.ActiveTokens != 1 {
		t.Fatalf("unexpected stats after sweep %+v", after)
	}
	if _, err := e.Refresh(ctx, live.RefreshToken); err != nil {
		t.Fatalf("live token must survive the sweep: %v", err)
	}
	if got := e.MetricsSnapshot().Counters[MetricSweepRemoved]; got != 2 {
		t.Fatalf("expected sweep counter 2, got %d", got)
	}
}

func TestStatsIsReadOnly(t *testing.T) {
	e, _, clock := newMemoryEngine(t)
	ctx := context.Background()

	issue(t, e, alice())
	clock.Advance(2 * time.Hour)

	for i := 0; i < 3; i++ {
		s, err := e.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if s.TotalTokens != 1 || s.ActiveTokens != 0 {
			t.Fatalf("stats must not sweep, got %+v", s)
		}
	}
}

func TestHealthReportsLatency(t *testing.T) {
	e, _, _ := newMemoryEngine(t)
	h := e.Health(context.Background())
	if !h.Available || h.Error != "" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	if _, err := e.Issue(ctx, alice()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("issue: %v", err)
	}
	if _, err := e.Refresh(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := e.Stats(ctx); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("stats: %v", err)
	}
	if e.Verify("x") != nil {
		t.Fatal("nil engine verified a token")
	}
	if h := e.Health(ctx); h.Available {
		t.Fatal("nil engine reported healthy")
	}
	e.Close()
}

func TestRefreshThrottlePerFamily(t *testing.T) {
	e, _, _ := newMemoryEngine(t, withConfig(func(c *Config) {
		c.Rotation.EnableRefreshThrottle = true
		c.Rotation.MaxRefreshAttempts = 2
		c.Rotation.RefreshWindow = time.Hour
	}))
	ctx := context.Background()

	pair := issue(t, e, alice())
	first := pair
	other := issue(t, e, alice())
	for i := 0; i < 2; i++ {
		next, err := e.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d: %v", i+1, err)
		}
		pair = next
	}
	if _, err := e.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected ErrRefreshRateLimited, got %v", err)
	}
	if _, err := e.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("throttled token must not be consumed or revoked, got %v", err)
	}
	if _, err := e.Refresh(ctx, other.RefreshToken); err != nil {
		t.Fatalf("other family has its own budget: %v", err)
	}

	if _, err := e.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("replay on a throttled family must be detected, got %v", err)
	}
	if got := e.MetricsSnapshot().Counters[MetricTokensRevoked]; got != 1 {
		t.Fatalf("replay must revoke the live token of the throttled family, got %d", got)
	}
}

func tamperSignature(token string) string {
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	return parts[0] + "." + parts[1] + "." + string(sig)
}
