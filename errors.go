package goRotate

import (
	"errors"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
)

var (
	// ErrInvalidToken is returned when a token fails signature, expiry or shape
	// checks, or when its claims disagree with the tracked record. The client
	// must log in again.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrInvalidIdentity is returned when the identity to issue for is incomplete.
	ErrInvalidIdentity = jwt.ErrInvalidIdentity
	// ErrTokenReuseDetected is returned when a verified refresh token is no
	// longer tracked (already consumed, revoked or lost a concurrent rotation).
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrStoreUnavailable wraps every session registry fault. It is never
	// returned for a token that is merely unknown.
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrStoreTimeout accompanies ErrStoreUnavailable when a registry call ran
	// out of time.
	ErrStoreTimeout = errors.New("session store timeout")
	// ErrRefreshRateLimited is returned when a family exceeded its refresh budget.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
