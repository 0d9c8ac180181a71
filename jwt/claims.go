package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role is the authorization role carried by every token.
type Role string

const (
	// RoleUser is the default role for end users.
	RoleUser Role = "user"
	// RoleAdmin grants operator endpoints such as registry introspection.
	RoleAdmin Role = "admin"
	// RoleProfessional marks accounts listed in the professionals directory.
	RoleProfessional Role = "professional"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleProfessional:
		return true
	default:
		return false
	}
}

// TokenKind discriminates access and refresh tokens through the "typ" claim.
type TokenKind string

const (
	// KindAccess marks short-lived access tokens.
	KindAccess TokenKind = "access"
	// KindRefresh marks refresh tokens bound to a family.
	KindRefresh TokenKind = "refresh"
)

// Identity is the user identity signed into both token kinds.
type Identity struct {
	Subject string
	Email   string
	Role    Role
}

// Claims is the decoded payload of a verified token. It is implemented only by
// [*AccessClaims] and [*RefreshClaims]; use a type switch to tell them apart.
type Claims interface {
	Kind() TokenKind
	Identity() Identity
	claims()
}

// AccessClaims is the payload of an access token. It never carries a token
// family or token id.
type AccessClaims struct {
	Email string    `json:"email,omitempty"`
	Role  Role      `json:"role"`
	Type  TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// Kind implements [Claims].
func (c *AccessClaims) Kind() TokenKind { return KindAccess }

// Identity implements [Claims].
func (c *AccessClaims) Identity() Identity {
	return Identity{Subject: c.Subject, Email: c.Email, Role: c.Role}
}

func (c *AccessClaims) claims() {}

// RefreshClaims is the payload of a refresh token. Family and the registered
// "jti" (token id) are always present.
type RefreshClaims struct {
	Email  string    `json:"email,omitempty"`
	Role   Role      `json:"role"`
	Type   TokenKind `json:"typ"`
	Family string    `json:"fam"`
	jwt.RegisteredClaims
}

// Kind implements [Claims].
func (c *RefreshClaims) Kind() TokenKind { return KindRefresh }

// Identity implements [Claims].
func (c *RefreshClaims) Identity() Identity {
	return Identity{Subject: c.Subject, Email: c.Email, Role: c.Role}
}

// TokenFamily returns the family id the token belongs to.
func (c *RefreshClaims) TokenFamily() string { return c.Family }

// TokenID returns the unique token id (jti).
func (c *RefreshClaims) TokenID() string { return c.ID }

func (c *RefreshClaims) claims() {}

// wireClaims is the superset decoded before the token kind is known.
type wireClaims struct {
	Email  string    `json:"email,omitempty"`
	Role   Role      `json:"role"`
	Type   TokenKind `json:"typ"`
	Family string    `json:"fam,omitempty"`
	jwt.RegisteredClaims
}
