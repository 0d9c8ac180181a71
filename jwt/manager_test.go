package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newHSManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "gorotate",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func alice() Identity {
	return Identity{Subject: "42", Email: "alice@example.com", Role: RoleProfessional}
}

func TestRefreshRoundTrip(t *testing.T) {
	m := newHSManager(t)

	token, exp, err := m.IssueRefresh(alice(), "fam-1", "tok-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if time.Until(exp) < 7*24*time.Hour-time.Minute {
		t.Fatalf("unexpected refresh expiry %v", exp)
	}

	claims := m.Verify(token)
	refresh, ok := claims.(*RefreshClaims)
	if !ok {
		t.Fatalf("expected *RefreshClaims, got %T", claims)
	}
	if refresh.TokenFamily() != "fam-1" || refresh.TokenID() != "tok-1" {
		t.Fatalf("family/id mismatch: %q %q", refresh.TokenFamily(), refresh.TokenID())
	}
	if got := refresh.Identity(); got != alice() {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if !refresh.ExpiresAt.Time.Equal(exp) {
		t.Fatalf("returned expiry %v differs from exp claim %v", exp, refresh.ExpiresAt.Time)
	}
}

func TestAccessTokenNeverCarriesFamily(t *testing.T) {
	m := newHSManager(t)

	token, exp, err := m.IssueAccess(alice())
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if time.Until(exp) > 15*time.Minute {
		t.Fatalf("access expiry too far: %v", exp)
	}

	claims, err := m.VerifyAccess(token)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.ID != "" {
		t.Fatalf("access token must not carry jti, got %q", claims.ID)
	}
	if claims.Kind() != KindAccess {
		t.Fatalf("unexpected kind %q", claims.Kind())
	}

	if _, err := m.VerifyRefresh(token); err == nil {
		t.Fatal("access token accepted as refresh token")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	m := newHSManager(t)

	token, _, err := m.IssueRefresh(alice(), "fam-1", "tok-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if claims := m.Verify(tampered); claims != nil {
		t.Fatalf("tampered token verified: %+v", claims)
	}

	other, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("another-secret-another-secret-xx"),
		Issuer:        "gorotate",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if claims := other.Verify(token); claims != nil {
		t.Fatal("token verified under a different secret")
	}
}

func TestVerifyRejectsZeroLifetime(t *testing.T) {
	m := newHSManager(t)

	token, _, err := m.issueRefresh(alice(), "fam-1", "tok-1", 0)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if claims := m.Verify(token); claims != nil {
		t.Fatal("zero-lifetime token verified")
	}

	access, _, err := m.issueAccess(alice(), -time.Minute)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if claims := m.Verify(access); claims != nil {
		t.Fatal("expired access token verified")
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	m := newHSManager(t)

	for _, input := range []string{"", "not.a.jwt", "a.b", "eyJhbGciOiJub25lIn0.eyJzdWIiOiIxIn0."} {
		if claims := m.Verify(input); claims != nil {
			t.Fatalf("malformed input %q verified", input)
		}
	}
}

func TestVerifyRejectsShapeViolations(t *testing.T) {
	m := newHSManager(t)
	now := time.Now()
	base := gjwt.RegisteredClaims{
		Subject:   "42",
		Issuer:    "gorotate",
		IssuedAt:  gjwt.NewNumericDate(now),
		ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
	}

	sign := func(c gjwt.Claims) string {
		t.Helper()
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, c).SignedString(testSecret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	withID := base
	withID.ID = "tok-1"
	accessWithFamily := wireClaims{Role: RoleUser, Type: KindAccess, Family: "fam", RegisteredClaims: withID}
	if claims := m.Verify(sign(accessWithFamily)); claims != nil {
		t.Fatal("access token carrying family verified")
	}

	refreshWithoutID := wireClaims{Role: RoleUser, Type: KindRefresh, Family: "fam", RegisteredClaims: base}
	if claims := m.Verify(sign(refreshWithoutID)); claims != nil {
		t.Fatal("refresh token without jti verified")
	}

	unknownRole := wireClaims{Role: "root", Type: KindAccess, RegisteredClaims: base}
	if claims := m.Verify(sign(unknownRole)); claims != nil {
		t.Fatal("unknown role verified")
	}

	untyped := wireClaims{Role: RoleUser, RegisteredClaims: base}
	if claims := m.Verify(sign(untyped)); claims != nil {
		t.Fatal("token without typ verified")
	}
}

func TestIssueRejectsInvalidIdentity(t *testing.T) {
	m := newHSManager(t)

	if _, _, err := m.IssueAccess(Identity{Role: RoleUser}); err == nil {
		t.Fatal("expected empty subject to fail")
	}
	if _, _, err := m.IssueAccess(Identity{Subject: "1", Role: "owner"}); err == nil {
		t.Fatal("expected unknown role to fail")
	}
	if _, _, err := m.IssueRefresh(alice(), "", "tok"); err == nil {
		t.Fatal("expected empty family to fail")
	}
}

func TestEd25519KeyRotationByKid(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)

	oldSigner, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
	})
	if err != nil {
		t.Fatalf("old signer: %v", err)
	}
	rotated, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv2,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": pub1, "k2": pub2},
	})
	if err != nil {
		t.Fatalf("rotated signer: %v", err)
	}

	oldToken, _, err := oldSigner.IssueAccess(alice())
	if err != nil {
		t.Fatalf("issue with old key: %v", err)
	}
	if _, err := rotated.VerifyAccess(oldToken); err != nil {
		t.Fatalf("token signed by retired key should still verify: %v", err)
	}

	newToken, _, err := rotated.IssueAccess(alice())
	if err != nil {
		t.Fatalf("issue with new key: %v", err)
	}
	if claims := oldSigner.Verify(newToken); claims != nil {
		t.Fatal("old signer must not accept unknown kid")
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	c := wireClaims{Role: RoleUser, Type: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, c).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.VerifyAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
	if _, _, err := m.IssueAccess(alice()); err == nil {
		t.Fatal("verify-only manager must not sign")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := map[string]Config{
		"zero access ttl":  {RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret},
		"refresh < access": {AccessTTL: time.Hour, RefreshTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: testSecret},
		"short secret":     {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		"unknown method":   {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs256"},
		"leeway too large": {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret, Leeway: time.Hour},
	}
	for name, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
