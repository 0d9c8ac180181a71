package session

import (
	"errors"
	"time"
)

// Record is the registry entry for one issued refresh token.
//
// A record is created at issuance, deleted when the token is consumed by a
// successful rotation, and flagged Revoked (never deleted) when its family is
// revoked. Expired records are removed lazily by [Registry.Lookup] or eagerly by
// [Registry.SweepExpired].
type Record struct {
	TokenID   string
	Subject   string
	Family    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Active reports whether the record can still be rotated at now.
func (r *Record) Active(now time.Time) bool {
	return !r.Revoked && !r.Expired(now)
}

// Validate checks the fields every backend requires before persisting r.
func (r *Record) Validate(now time.Time) error {
	switch {
	case r.TokenID == "":
		return errors.Join(ErrInvalidRecord, errors.New("empty token id"))
	case r.Subject == "":
		return errors.Join(ErrInvalidRecord, errors.New("empty subject"))
	case r.Family == "":
		return errors.Join(ErrInvalidRecord, errors.New("empty family"))
	case len(r.Subject) > 255 || len(r.Family) > 255 || len(r.TokenID) > 255:
		return errors.Join(ErrInvalidRecord, errors.New("identifier too long"))
	case r.ExpiresAt.IsZero() || !r.ExpiresAt.After(now):
		return errors.Join(ErrInvalidRecord, errors.New("record already expired"))
	}
	return nil
}

// Stats is a point-in-time count of registry records. Total includes revoked
// and not-yet-swept expired records; Active counts only records that are
// neither.
type Stats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}
