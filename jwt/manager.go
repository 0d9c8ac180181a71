package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is wrapped by every verification failure: bad signature,
// malformed payload, wrong token kind or expiry.
var ErrInvalidToken = errors.New("invalid token")

// ErrInvalidIdentity is returned when an identity cannot be signed.
var ErrInvalidIdentity = errors.New("invalid identity")

// SigningMethod selects the JWS algorithm used by a [Manager].
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const minHMACKeyLength = 32

// Config holds codec parameters. It is copied by [NewManager] and never
// mutated afterwards.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	Logger        *slog.Logger
	// Clock replaces time.Now for issuing and expiry checks.
	Clock func() time.Time
}

// Manager signs and verifies access and refresh tokens. It holds no mutable
// state and is safe for concurrent use.
type Manager struct {
	config Config
	log    *slog.Logger
	now    func() time.Time
}

// NewManager validates cfg and returns a ready codec.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyLength {
			return nil, fmt.Errorf("hs256 requires a key of at least %d bytes", minHMACKeyLength)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Manager{config: cfg, log: log, now: now}, nil
}

// IssueAccess signs id into an access token valid for AccessTTL and returns
// the token with its expiry.
func (j *Manager) IssueAccess(id Identity) (string, time.Time, error) {
	return j.issueAccess(id, j.config.AccessTTL)
}

// IssueRefresh signs id, family and tokenID into a refresh token valid for
// RefreshTTL and returns the token with its expiry.
func (j *Manager) IssueRefresh(id Identity, family, tokenID string) (string, time.Time, error) {
	return j.issueRefresh(id, family, tokenID, j.config.RefreshTTL)
}

func (j *Manager) issueAccess(id Identity, ttl time.Duration) (string, time.Time, error) {
	if err := validateIdentity(id); err != nil {
		return "", time.Time{}, err
	}

	claims := &AccessClaims{
		Email:            id.Email,
		Role:             id.Role,
		Type:             KindAccess,
		RegisteredClaims: j.registered(id.Subject, "", ttl),
	}

	token, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

func (j *Manager) issueRefresh(id Identity, family, tokenID string, ttl time.Duration) (string, time.Time, error) {
	if err := validateIdentity(id); err != nil {
		return "", time.Time{}, err
	}
	if family == "" || tokenID == "" {
		return "", time.Time{}, fmt.Errorf("%w: refresh token requires family and token id", ErrInvalidIdentity)
	}

	claims := &RefreshClaims{
		Email:            id.Email,
		Role:             id.Role,
		Type:             KindRefresh,
		Family:           family,
		RegisteredClaims: j.registered(id.Subject, tokenID, ttl),
	}

	token, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

func (j *Manager) registered(subject, tokenID string, ttl time.Duration) jwt.RegisteredClaims {
	now := j.now()
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        tokenID,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(signKey)
}

// Verify checks signature and expiry and returns the decoded claims, or nil
// on any failure. The failure reason is only logged at debug level.
func (j *Manager) Verify(tokenStr string) Claims {
	claims, err := j.parse(tokenStr)
	if err != nil {
		j.log.Debug("token verification failed", slog.String("reason", err.Error()))
		return nil
	}
	return claims
}

// VerifyAccess is Verify restricted to access tokens.
func (j *Manager) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims, err := j.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	access, ok := claims.(*AccessClaims)
	if !ok {
		return nil, fmt.Errorf("%w: expected access token, got %s", ErrInvalidToken, claims.Kind())
	}
	return access, nil
}

// VerifyRefresh is Verify restricted to refresh tokens.
func (j *Manager) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims, err := j.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	refresh, ok := claims.(*RefreshClaims)
	if !ok {
		return nil, fmt.Errorf("%w: expected refresh token, got %s", ErrInvalidToken, claims.Kind())
	}
	return refresh, nil
}

func (j *Manager) parse(tokenStr string) (Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	var wc wireClaims
	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &wc, j.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, jwt.ErrTokenInvalidClaims)
	}
	if wc.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		if wc.IssuedAt.Time.After(j.now().Add(j.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalidToken)
		}
	}
	if wc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !wc.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, wc.Role)
	}

	switch wc.Type {
	case KindAccess:
		if wc.Family != "" || wc.ID != "" {
			return nil, fmt.Errorf("%w: access token carries refresh fields", ErrInvalidToken)
		}
		return &AccessClaims{
			Email:            wc.Email,
			Role:             wc.Role,
			Type:             KindAccess,
			RegisteredClaims: wc.RegisteredClaims,
		}, nil
	case KindRefresh:
		if wc.Family == "" || wc.ID == "" {
			return nil, fmt.Errorf("%w: refresh token without family or id", ErrInvalidToken)
		}
		return &RefreshClaims{
			Email:            wc.Email,
			Role:             wc.Role,
			Type:             KindRefresh,
			Family:           wc.Family,
			RegisteredClaims: wc.RegisteredClaims,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", ErrInvalidToken, wc.Type)
	}
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

func validateIdentity(id Identity) error {
	if strings.TrimSpace(id.Subject) == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidIdentity)
	}
	if !id.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, id.Role)
	}
	return nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		if len(j.config.PrivateKey) == 0 {
			return nil, errors.New("verify-only manager cannot sign")
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
