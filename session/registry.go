package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps every backend failure (I/O, timeout, corrupt data).
// It is never returned for a plain miss.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrDuplicateToken is returned by Register when the token id already exists.
var ErrDuplicateToken = errors.New("token id already registered")

// ErrInvalidRecord is returned by Register for records missing identifiers or
// already past expiry.
var ErrInvalidRecord = errors.New("invalid token record")

// ErrRecordCorrupt is joined with [ErrStoreUnavailable] when a persisted record
// cannot be decoded.
var ErrRecordCorrupt = errors.New("token record corrupt")

//go:generate mockgen -destination=mocks/registry_mock.go -package=mocks github.com/MrEthical07/goRotate/session Registry

// Registry tracks issued refresh tokens grouped by family and subject.
//
// Implementations must be safe for concurrent use. Consume must have
// exactly-one-winner semantics per token id: of N concurrent Consume or Rotate
// calls for the same live record, exactly one returns true.
type Registry interface {
	// Register stores a new record and links it into its family and subject
	// indexes.
	Register(ctx context.Context, rec Record) error
	// Lookup returns the live record for tokenID, or (nil, nil) when the record
	// is missing, revoked, or expired. Expired, non-revoked records are deleted
	// as a side effect.
	Lookup(ctx context.Context, tokenID string) (*Record, error)
	// Consume deletes a live record and reports whether this call removed it.
	// A family left without records is dropped from the indexes.
	Consume(ctx context.Context, tokenID string) (bool, error)
	// Rotate atomically consumes the live record oldTokenID and registers next
	// in its place. next must belong to the same subject and family. It
	// returns false, registering nothing, when oldTokenID is missing, revoked
	// or expired. The family stays indexed throughout, so a RevokeFamily that
	// runs concurrently either fails the rotation or revokes next.
	Rotate(ctx context.Context, oldTokenID string, next Record) (bool, error)
	// RevokeFamily flags every record of family as revoked and returns how many
	// records changed. Records are kept until they expire.
	RevokeFamily(ctx context.Context, family string) (int, error)
	// FamiliesForSubject lists the family ids currently indexed for subject.
	FamiliesForSubject(ctx context.Context, subject string) ([]string, error)
	// SweepExpired deletes every record past its expiry and returns the count.
	SweepExpired(ctx context.Context) (int, error)
	// Stats counts total and active records.
	Stats(ctx context.Context) (Stats, error)
	// Ping checks backend reachability.
	Ping(ctx context.Context) (time.Duration, error)
}

// Options carries construction settings shared by all registry backends.
type Options struct {
	Now func() time.Time
}

// Option configures a registry backend.
type Option func(*Options)

// WithClock overrides the wall clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Unavailable wraps err as a backend failure, keeping the cause (for example
// context.DeadlineExceeded) reachable through errors.Is.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func unavailable(err error) error { return Unavailable(err) }
