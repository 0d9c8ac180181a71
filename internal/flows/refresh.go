package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureRateLimited
	RefreshFailureLookup
	RefreshFailureReuse
	RefreshFailureMismatch
	RefreshFailureRaceLost
	RefreshFailureRotate
	RefreshFailureIssue
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	Subject   string
	Family    string
	TokenID   string
	Revoked   int
	RevokeErr error
	Issue     IssueFailureKind
	Pair      Pair
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, family string) error
}

type RefreshRegistry interface {
	Lookup(ctx context.Context, tokenID string) (*session.Record, error)
	Rotate(ctx context.Context, oldTokenID string, next session.Record) (bool, error)
	RevokeFamily(ctx context.Context, family string) (int, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	VerifyRefresh func(string) (*jwt.RefreshClaims, error)
	RateLimiter   RefreshRateLimiter
	Registry      RefreshRegistry
	Issue         IssueDeps
	Warn          func(string, ...any)
}

// RunRefresh exchanges a refresh token for a new pair in the same family.
//
// A lookup miss on a token that verified is treated as replay of a consumed
// token and revokes the whole family, whatever the family's throttle state.
// A lookup fault never revokes. The successor is signed first and swapped in
// by one Registry.Rotate, so the family is never empty mid-rotation. Losing
// that swap reports reuse without revoking, because the winner already holds
// the live successor.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	res := RefreshResult{
		Subject: claims.Subject,
		Family:  claims.TokenFamily(),
		TokenID: claims.TokenID(),
	}

	rec, err := deps.Registry.Lookup(ctx, res.TokenID)
	if err != nil {
		res.Failure = RefreshFailureLookup
		res.Err = err
		return res
	}
	if rec == nil {
		res.Failure = RefreshFailureReuse
		res.Revoked, res.RevokeErr = deps.Registry.RevokeFamily(ctx, res.Family)
		if res.RevokeErr != nil && deps.Warn != nil {
			deps.Warn("goRotate: family revocation after reuse failed", "family", res.Family, "error", res.RevokeErr)
		}
		return res
	}
	if rec.Subject != res.Subject || rec.Family != res.Family {
		res.Failure = RefreshFailureMismatch
		res.Err = errors.New("record does not match token claims")
		return res
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, res.Family); err != nil {
			res.Failure = RefreshFailureRateLimited
			res.Err = err
			return res
		}
	}

	next := mintInFamily(claims.Identity(), res.Family, deps.Issue)
	if next.Failure != IssueFailureNone {
		res.Failure = RefreshFailureIssue
		res.Issue = next.Failure
		res.Err = next.Err
		return res
	}

	won, err := deps.Registry.Rotate(ctx, res.TokenID, next.Record)
	if err != nil {
		if errors.Is(err, session.ErrDuplicateToken) || errors.Is(err, session.ErrInvalidRecord) {
			res.Failure = RefreshFailureIssue
			res.Issue = IssueFailureRegister
		} else {
			res.Failure = RefreshFailureRotate
		}
		res.Err = err
		return res
	}
	if !won {
		res.Failure = RefreshFailureRaceLost
		return res
	}

	res.Pair = next.Pair
	return res
}
