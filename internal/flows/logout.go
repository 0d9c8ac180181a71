package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goRotate/jwt"
)

type LogoutRegistry interface {
	RevokeFamily(ctx context.Context, family string) (int, error)
	FamiliesForSubject(ctx context.Context, subject string) ([]string, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	VerifyRefresh func(string) (*jwt.RefreshClaims, error)
	Registry      LogoutRegistry
}

type LogoutResult struct {
	Subject string
	Family  string
	Revoked int
	Err     error
	// Decode is set when the presented token did not verify.
	Decode bool
}

// RunLogout revokes the family of a single session identified by its refresh
// token.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		return LogoutResult{Err: err, Decode: true}
	}

	n, err := deps.Registry.RevokeFamily(ctx, claims.TokenFamily())
	return LogoutResult{
		Subject: claims.Subject,
		Family:  claims.TokenFamily(),
		Revoked: n,
		Err:     err,
	}
}

type RevokeAllResult struct {
	Families int
	Revoked  int
	Err      error
}

// RunRevokeAll revokes every family currently linked to subject. A failing
// family does not stop the others; all failures are joined into Err.
func RunRevokeAll(ctx context.Context, subject string, deps LogoutDeps) RevokeAllResult {
	families, err := deps.Registry.FamiliesForSubject(ctx, subject)
	if err != nil {
		return RevokeAllResult{Err: err}
	}

	res := RevokeAllResult{Families: len(families)}
	var errs []error
	for _, family := range families {
		n, err := deps.Registry.RevokeFamily(ctx, family)
		if err != nil {
			errs = append(errs, fmt.Errorf("revoke family %s: %w", family, err))
			continue
		}
		res.Revoked += n
	}
	res.Err = errors.Join(errs...)
	return res
}
