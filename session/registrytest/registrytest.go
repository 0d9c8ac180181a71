// Package registrytest is a conformance suite shared by every
// [session.Registry] backend.
package registrytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goRotate/session"
)

// Clock is a manually driven time source handed to backends via
// [session.WithClock].
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start, truncated to millisecond precision so every
// backend round-trips timestamps exactly.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.Truncate(time.Millisecond)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Harness adapts one backend to the suite.
type Harness struct {
	// New returns an empty registry that reads time from clock.
	New func(t *testing.T, clock *Clock) session.Registry
	// Advance moves backend-side time, for stores that expire keys on their
	// own. It may be nil.
	Advance func(d time.Duration)
}

type fixture struct {
	reg   session.Registry
	clock *Clock
	h     Harness
}

func (f *fixture) advance(d time.Duration) {
	f.clock.Advance(d)
	if f.h.Advance != nil {
		f.h.Advance(d)
	}
}

func (f *fixture) record(id, subject, family string, ttl time.Duration) session.Record {
	now := f.clock.Now()
	return session.Record{
		TokenID:   id,
		Subject:   subject,
		Family:    family,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func (f *fixture) register(t *testing.T, recs ...session.Record) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, f.reg.Register(context.Background(), rec), "register %s", rec.TokenID)
	}
}

// Run executes the full conformance suite against h.
func Run(t *testing.T, h Harness) {
	tests := []struct {
		name string
		fn   func(t *testing.T, f *fixture)
	}{
		{"RegisterThenLookup", testRegisterThenLookup},
		{"LookupMissIsNotAnError", testLookupMiss},
		{"RegisterRejectsDuplicateID", testDuplicate},
		{"RegisterRejectsInvalidRecord", testInvalidRecord},
		{"ConsumeIsOneShot", testConsumeOneShot},
		{"ConsumeDropsEmptyFamily", testConsumeDropsEmptyFamily},
		{"RevokeFamilyMarksButKeeps", testRevokeFamily},
		{"LookupDeletesExpired", testLookupDeletesExpired},
		{"SweepRemovesExpiredOnly", testSweep},
		{"SweepRemovesRevokedAfterExpiry", testSweepRevoked},
		{"ConcurrentConsumeSingleWinner", testConcurrentConsume},
		{"RotateSwapsWithinFamily", testRotate},
		{"RotateRefusesRevokedOrMissing", testRotateRefusesDead},
		{"RotateRefusesExpired", testRotateRefusesExpired},
		{"RotateRefusesForeignSuccessor", testRotateForeignSuccessor},
		{"RotateRejectsDuplicateSuccessor", testRotateDuplicate},
		{"RevokeFamilyAfterRotateReachesSuccessor", testRevokeAfterRotate},
		{"ConcurrentRotateSingleWinner", testConcurrentRotate},
		{"Ping", testPing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock(time.Now())
			f := &fixture{reg: h.New(t, clock), clock: clock, h: h}
			tc.fn(t, f)
		})
	}
}

func testRegisterThenLookup(t *testing.T, f *fixture) {
	want := f.record("tok-1", "user-1", "fam-1", time.Hour)
	f.register(t, want)

	got, err := f.reg.Lookup(context.Background(), "tok-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, want.TokenID, got.TokenID)
	require.Equal(t, want.Subject, got.Subject)
	require.Equal(t, want.Family, got.Family)
	require.True(t, want.IssuedAt.Equal(got.IssuedAt), "issuedAt %v != %v", got.IssuedAt, want.IssuedAt)
	require.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expiresAt %v != %v", got.ExpiresAt, want.ExpiresAt)
	require.False(t, got.Revoked)
}

func testLookupMiss(t *testing.T, f *fixture) {
	got, err := f.reg.Lookup(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)

	ok, err := f.reg.Consume(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func testDuplicate(t *testing.T, f *fixture) {
	rec := f.record("tok-1", "user-1", "fam-1", time.Hour)
	f.register(t, rec)
	require.ErrorIs(t, f.reg.Register(context.Background(), rec), session.ErrDuplicateToken)
}

func testInvalidRecord(t *testing.T, f *fixture) {
	ctx := context.Background()
	expired := f.record("tok-1", "user-1", "fam-1", -time.Second)
	require.ErrorIs(t, f.reg.Register(ctx, expired), session.ErrInvalidRecord)

	noFamily := f.record("tok-2", "user-1", "", time.Hour)
	require.ErrorIs(t, f.reg.Register(ctx, noFamily), session.ErrInvalidRecord)
}

func testConsumeOneShot(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Hour))

	ok, err := f.reg.Consume(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.reg.Consume(ctx, "tok-1")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := f.reg.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func testConsumeDropsEmptyFamily(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t,
		f.record("tok-1", "user-1", "fam-1", time.Hour),
		f.record("tok-2", "user-1", "fam-2", time.Hour),
		f.record("tok-3", "user-1", "fam-2", time.Hour),
	)

	families, err := f.reg.FamiliesForSubject(ctx, "user-1")
	require.NoError(t, err)
	sort.Strings(families)
	require.Equal(t, []string{"fam-1", "fam-2"}, families)

	for _, id := range []string{"tok-1", "tok-2"} {
		ok, err := f.reg.Consume(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}

	families, err = f.reg.FamiliesForSubject(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"fam-2"}, families)
}

func testRevokeFamily(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t,
		f.record("a-1", "user-1", "fam-a", time.Hour),
		f.record("a-2", "user-1", "fam-a", time.Hour),
		f.record("b-1", "user-1", "fam-b", time.Hour),
	)

	n, err := f.reg.RevokeFamily(ctx, "fam-a")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []string{"a-1", "a-2"} {
		got, err := f.reg.Lookup(ctx, id)
		require.NoError(t, err)
		require.Nil(t, got, "revoked record %s must not be returned", id)

		ok, err := f.reg.Consume(ctx, id)
		require.NoError(t, err)
		require.False(t, ok, "revoked record %s must not be consumable", id)
	}

	got, err := f.reg.Lookup(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	n, err = f.reg.RevokeFamily(ctx, "fam-a")
	require.NoError(t, err)
	require.Zero(t, n, "second revoke must be a no-op")

	n, err = f.reg.RevokeFamily(ctx, "fam-unknown")
	require.NoError(t, err)
	require.Zero(t, n)

	st, err := f.reg.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, session.Stats{Total: 3, Active: 1}, st)
}

func testLookupDeletesExpired(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Minute))
	f.advance(2 * time.Minute)

	got, err := f.reg.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	require.Nil(t, got)

	st, err := f.reg.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Total)

	ok, err := f.reg.Consume(ctx, "tok-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func testSweep(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t,
		f.record("short-1", "user-1", "fam-short", time.Minute),
		f.record("short-2", "user-1", "fam-short", time.Minute),
		f.record("long-1", "user-1", "fam-long", time.Hour),
	)
	f.advance(5 * time.Minute)

	n, err := f.reg.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	st, err := f.reg.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, session.Stats{Total: 1, Active: 1}, st)

	families, err := f.reg.FamiliesForSubject(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"fam-long"}, families)

	n, err = f.reg.SweepExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testSweepRevoked(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Minute))

	_, err := f.reg.RevokeFamily(ctx, "fam-1")
	require.NoError(t, err)

	st, err := f.reg.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, session.Stats{Total: 1, Active: 0}, st)

	f.advance(2 * time.Minute)
	n, err := f.reg.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	st, err = f.reg.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Total)
}

func testConcurrentConsume(t *testing.T, f *fixture) {
	const workers = 32
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Hour))

	var (
		winners atomic.Int32
		wg      sync.WaitGroup
		start   = make(chan struct{})
		errs    = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := f.reg.Consume(context.Background(), "tok-1")
			if err != nil {
				errs <- err
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), winners.Load(), fmt.Sprintf("expected exactly one winner out of %d", workers))
}

func testRotate(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Hour))

	ok, err := f.reg.Rotate(ctx, "tok-1", f.record("tok-2", "user-1", "fam-1", time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	old, err := f.reg.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	require.Nil(t, old)
	next, err := f.reg.Lookup(ctx, "tok-2")
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, "fam-1", next.Family)

	families, err := f.reg.FamiliesForSubject(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"fam-1"}, families)

	st, err := f.reg.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Total)
	require.Equal(t, 1, st.Active)

	ok, err = f.reg.Rotate(ctx, "tok-1", f.record("tok-3", "user-1", "fam-1", time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "a consumed token cannot rotate twice")
	missing, err := f.reg.Lookup(ctx, "tok-3")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func testRotateRefusesDead(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Hour))

	ok, err := f.reg.Rotate(ctx, "does-not-exist", f.record("tok-9", "user-1", "fam-1", time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.reg.RevokeFamily(ctx, "fam-1")
	require.NoError(t, err)

	ok, err = f.reg.Rotate(ctx, "tok-1", f.record("tok-2", "user-1", "fam-1", time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := f.reg.Lookup(ctx, "tok-2")
	require.NoError(t, err)
	require.Nil(t, got, "successor of a revoked token must not be registered")

	st, err := f.reg.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Total)
	require.Zero(t, st.Active)
}

func testRotateRefusesExpired(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Minute))
	f.advance(2 * time.Minute)

	ok, err := f.reg.Rotate(ctx, "tok-1", f.record("tok-2", "user-1", "fam-1", time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := f.reg.Lookup(ctx, "tok-2")
	require.NoError(t, err)
	require.Nil(t, got)
}

func testRotateForeignSuccessor(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Hour))

	for _, next := range []session.Record{
		f.record("tok-2", "user-1", "fam-2", time.Hour),
		f.record("tok-3", "user-2", "fam-1", time.Hour),
	} {
		ok, err := f.reg.Rotate(ctx, "tok-1", next)
		require.NoError(t, err)
		require.False(t, ok, "rotate into %s/%s", next.Subject, next.Family)
	}

	old, err := f.reg.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, old, "a refused rotation keeps the old token live")
}

func testRotateDuplicate(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t,
		f.record("tok-1", "user-1", "fam-1", time.Hour),
		f.record("tok-2", "user-1", "fam-1", time.Hour),
	)

	_, err := f.reg.Rotate(ctx, "tok-1", f.record("tok-2", "user-1", "fam-1", time.Hour))
	require.ErrorIs(t, err, session.ErrDuplicateToken)

	old, err := f.reg.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, old, "a failed rotation keeps the old token live")

	_, err = f.reg.Rotate(ctx, "tok-1", session.Record{TokenID: "tok-5"})
	require.ErrorIs(t, err, session.ErrInvalidRecord)
}

func testRevokeAfterRotate(t *testing.T, f *fixture) {
	ctx := context.Background()
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Hour))

	ok, err := f.reg.Rotate(ctx, "tok-1", f.record("tok-2", "user-1", "fam-1", time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	families, err := f.reg.FamiliesForSubject(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, families, 1)

	n, err := f.reg.RevokeFamily(ctx, families[0])
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.reg.Lookup(ctx, "tok-2")
	require.NoError(t, err)
	require.Nil(t, got)
}

func testConcurrentRotate(t *testing.T, f *fixture) {
	const workers = 32
	f.register(t, f.record("tok-1", "user-1", "fam-1", time.Hour))

	var (
		winners atomic.Int32
		wg      sync.WaitGroup
		start   = make(chan struct{})
		errs    = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		next := f.record(fmt.Sprintf("tok-next-%d", i), "user-1", "fam-1", time.Hour)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := f.reg.Rotate(context.Background(), "tok-1", next)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), winners.Load(), fmt.Sprintf("expected exactly one winner out of %d", workers))

	st, err := f.reg.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, st.Total)
	require.Equal(t, 1, st.Active)
}

func testPing(t *testing.T, f *fixture) {
	_, err := f.reg.Ping(context.Background())
	require.NoError(t, err)
}
