package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
)

// IssueFailureKind classifies issuance failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureIdentity
	IssueFailureFamilyID
	IssueFailureTokenID
	IssueFailureSign
	IssueFailureRegister
)

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Family           string
	TokenID          string
}

// IssueResult carries either the new pair or failure metadata.
type IssueResult struct {
	Failure IssueFailureKind
	Err     error
	Subject string
	Pair    Pair
}

type IssueRegistry interface {
	Register(ctx context.Context, rec session.Record) error
}

// IssueDeps captures issuance dependencies.
type IssueDeps struct {
	IssueAccess  func(jwt.Identity) (string, time.Time, error)
	IssueRefresh func(id jwt.Identity, family, tokenID string) (string, time.Time, error)
	NewFamilyID  func() (string, error)
	NextTokenID  func() (string, error)
	Now          func() time.Time
	Registry     IssueRegistry
}

// RunIssue starts a new family for id and registers its first refresh token.
func RunIssue(ctx context.Context, id jwt.Identity, deps IssueDeps) IssueResult {
	if id.Subject == "" || !id.Role.Valid() {
		return IssueResult{Failure: IssueFailureIdentity, Err: jwt.ErrInvalidIdentity, Subject: id.Subject}
	}

	family, err := deps.NewFamilyID()
	if err != nil {
		return IssueResult{Failure: IssueFailureFamilyID, Err: err, Subject: id.Subject}
	}

	minted := mintInFamily(id, family, deps)
	if minted.Failure != IssueFailureNone {
		return minted.IssueResult
	}
	if err := deps.Registry.Register(ctx, minted.Record); err != nil {
		return IssueResult{Failure: IssueFailureRegister, Err: err, Subject: id.Subject}
	}
	return minted.IssueResult
}

// minted is a signed pair together with the record that must be stored
// before the pair is handed out.
type minted struct {
	IssueResult
	Record session.Record
}

// mintInFamily signs a pair under family with a new token id. It does not
// touch the registry.
func mintInFamily(id jwt.Identity, family string, deps IssueDeps) minted {
	fail := func(kind IssueFailureKind, err error) minted {
		return minted{IssueResult: IssueResult{Failure: kind, Err: err, Subject: id.Subject}}
	}

	tokenID, err := deps.NextTokenID()
	if err != nil {
		return fail(IssueFailureTokenID, err)
	}

	access, accessExp, err := deps.IssueAccess(id)
	if err != nil {
		return fail(IssueFailureSign, err)
	}
	refresh, refreshExp, err := deps.IssueRefresh(id, family, tokenID)
	if err != nil {
		return fail(IssueFailureSign, err)
	}

	return minted{
		IssueResult: IssueResult{
			Failure: IssueFailureNone,
			Subject: id.Subject,
			Pair: Pair{
				AccessToken:      access,
				AccessExpiresAt:  accessExp,
				RefreshToken:     refresh,
				RefreshExpiresAt: refreshExp,
				Family:           family,
				TokenID:          tokenID,
			},
		},
		Record: session.Record{
			TokenID:   tokenID,
			Subject:   id.Subject,
			Family:    family,
			IssuedAt:  deps.Now(),
			ExpiresAt: refreshExp,
		},
	}
}
