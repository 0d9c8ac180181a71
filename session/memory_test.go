package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goRotate/session"
	"github.com/MrEthical07/goRotate/session/registrytest"
)

func TestMemoryStoreConformance(t *testing.T) {
	registrytest.Run(t, registrytest.Harness{
		New: func(t *testing.T, clock *registrytest.Clock) session.Registry {
			return session.NewMemoryStore(session.WithClock(clock.Now))
		},
	})
}

func TestMemoryStoreSweepSkipsConsumedEntries(t *testing.T) {
	clock := registrytest.NewClock(time.Now())
	store := session.NewMemoryStore(session.WithClock(clock.Now))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		now := clock.Now()
		if err := store.Register(ctx, session.Record{
			TokenID: id, Subject: "u", Family: "f", IssuedAt: now, ExpiresAt: now.Add(time.Minute),
		}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if ok, err := store.Consume(ctx, "b"); err != nil || !ok {
		t.Fatalf("consume b: ok=%v err=%v", ok, err)
	}

	clock.Advance(time.Hour)
	n, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept records, got %d", n)
	}
	fams, err := store.FamiliesForSubject(ctx, "u")
	if err != nil {
		t.Fatalf("families: %v", err)
	}
	if len(fams) != 0 {
		t.Fatalf("expected subject index to be empty, got %v", fams)
	}
}

func TestMemoryStoreHonorsCanceledContext(t *testing.T) {
	store := session.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Lookup(ctx, "x")
	if !errors.Is(err, session.ErrStoreUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped cancellation, got %v", err)
	}
}

func TestMemoryStoreLookupReturnsCopy(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	if err := store.Register(ctx, session.Record{
		TokenID: "t", Subject: "u", Family: "f", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := store.Lookup(ctx, "t")
	if err != nil || got == nil {
		t.Fatalf("lookup: %v %v", got, err)
	}
	got.Revoked = true

	again, err := store.Lookup(ctx, "t")
	if err != nil || again == nil {
		t.Fatalf("mutating a returned record must not affect the store: %v %v", again, err)
	}
}
