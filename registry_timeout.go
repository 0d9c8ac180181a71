package goRotate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goRotate/session"
)

// timeoutRegistry bounds every call of the wrapped registry and normalizes its
// failures: every error wraps ErrStoreUnavailable, and deadline errors also
// wrap ErrStoreTimeout. Logical outcomes (nil record, false) pass through.
type timeoutRegistry struct {
	next    session.Registry
	timeout time.Duration
}

func withTimeout(next session.Registry, timeout time.Duration) session.Registry {
	return &timeoutRegistry{next: next, timeout: timeout}
}

func (r *timeoutRegistry) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		err = session.Unavailable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrStoreTimeout) {
		err = fmt.Errorf("%w: %w", ErrStoreTimeout, err)
	}
	return err
}

func (r *timeoutRegistry) Register(ctx context.Context, rec session.Record) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	err := r.next.Register(ctx, rec)
	if errors.Is(err, session.ErrInvalidRecord) || errors.Is(err, session.ErrDuplicateToken) {
		return err
	}
	return storeError(err)
}

func (r *timeoutRegistry) Lookup(ctx context.Context, tokenID string) (*session.Record, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	rec, err := r.next.Lookup(ctx, tokenID)
	return rec, storeError(err)
}

func (r *timeoutRegistry) Consume(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	ok, err := r.next.Consume(ctx, tokenID)
	return ok, storeError(err)
}

func (r *timeoutRegistry) Rotate(ctx context.Context, oldTokenID string, next session.Record) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	ok, err := r.next.Rotate(ctx, oldTokenID, next)
	if errors.Is(err, session.ErrInvalidRecord) || errors.Is(err, session.ErrDuplicateToken) {
		return ok, err
	}
	return ok, storeError(err)
}

func (r *timeoutRegistry) RevokeFamily(ctx context.Context, family string) (int, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	n, err := r.next.RevokeFamily(ctx, family)
	return n, storeError(err)
}

func (r *timeoutRegistry) FamiliesForSubject(ctx context.Context, subject string) ([]string, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	families, err := r.next.FamiliesForSubject(ctx, subject)
	return families, storeError(err)
}

// SweepExpired runs under the caller's deadline only.
func (r *timeoutRegistry) SweepExpired(ctx context.Context) (int, error) {
	n, err := r.next.SweepExpired(ctx)
	return n, storeError(err)
}

func (r *timeoutRegistry) Stats(ctx context.Context) (session.Stats, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	s, err := r.next.Stats(ctx)
	return s, storeError(err)
}

func (r *timeoutRegistry) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	d, err := r.next.Ping(ctx)
	return d, storeError(err)
}
