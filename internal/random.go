package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// FamilyID is the 128-bit random identifier shared by every refresh token of
// one login lineage.
type FamilyID [16]byte

// NewFamilyID draws a fresh family id from crypto/rand.
func NewFamilyID() (FamilyID, error) {
	var fid FamilyID
	_, err := rand.Read(fid[:])
	return fid, err
}

func (f FamilyID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(f[:])
}

// ParseFamilyID decodes the string form produced by [FamilyID.String].
func ParseFamilyID(family string) (FamilyID, error) {
	var fid FamilyID

	raw, err := base64.RawURLEncoding.Strict().DecodeString(family)
	if err != nil {
		return fid, err
	}
	if len(raw) != len(fid) {
		return fid, errors.New("invalid family id size")
	}

	copy(fid[:], raw)
	return fid, nil
}

// TokenIDs mints lexicographically sortable ULID token ids. Safe for
// concurrent use.
type TokenIDs struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewTokenIDs returns a generator seeded from crypto/rand with monotonic
// ordering within the same millisecond.
func NewTokenIDs() *TokenIDs {
	return &TokenIDs{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Next returns a new token id.
func (g *TokenIDs) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
