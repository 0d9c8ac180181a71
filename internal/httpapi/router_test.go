package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

const upstreamKey = "upstream-test-key"

func newEngine(t *testing.T) *goRotate.Engine {
	t.Helper()
	cfg := goRotate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("httpapi-test-secret-0123456789abc")

	engine, err := goRotate.New().
		WithConfig(cfg).
		WithRegistry(session.NewMemoryStore()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func newServer(t *testing.T, engine Engine) http.Handler {
	t.Helper()
	return NewRouter(engine, Options{
		UpstreamKey: upstreamKey,
		Cookie:      CookieOptions{Name: "refresh_token", Path: "/auth", Secure: true},
	})
}

type call struct {
	method  string
	path    string
	body    any
	bearer  string
	cookie  string
	headers map[string]string
}

func do(t *testing.T, h http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: c.cookie})
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, h http.Handler, role jwt.Role) goRotate.TokenPair {
	t.Helper()
	rec := do(t, h, call{
		method:  http.MethodPost,
		path:    "/auth/sessions",
		body:    IssueRequest{Subject: "42", Email: "a@example.com", Role: role},
		headers: map[string]string{"X-Upstream-Key": upstreamKey},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var pair goRotate.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

func TestIssueRequiresUpstreamKey(t *testing.T) {
	h := newServer(t, newEngine(t))

	rec := do(t, h, call{
		method: http.MethodPost,
		path:   "/auth/sessions",
		body:   IssueRequest{Subject: "42", Role: jwt.RoleUser},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, call{
		method:  http.MethodPost,
		path:    "/auth/sessions",
		body:    IssueRequest{Subject: "42", Role: jwt.RoleUser},
		headers: map[string]string{"X-Upstream-Key": upstreamKey},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	c := refreshCookie(rec)
	require.NotNil(t, c)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestIssueRejectsBadIdentity(t *testing.T) {
	h := newServer(t, newEngine(t))

	rec := do(t, h, call{
		method:  http.MethodPost,
		path:    "/auth/sessions",
		body:    IssueRequest{Subject: "42", Role: "root"},
		headers: map[string]string{"X-Upstream-Key": upstreamKey},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_argument", errorCode(t, rec))
}

func TestRefreshRotatesAndDetectsReplay(t *testing.T) {
	h := newServer(t, newEngine(t))
	first := startSession(t, h, jwt.RoleUser)

	rec := do(t, h, call{method: http.MethodPost, path: "/auth/refresh", cookie: first.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second goRotate.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, first.Family, second.Family)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, second.RefreshToken, refreshCookie(rec).Value)

	rec = do(t, h, call{method: http.MethodPost, path: "/auth/refresh", body: RefreshRequest{RefreshToken: first.RefreshToken}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "token_reuse", errorCode(t, rec))
	require.Equal(t, -1, refreshCookie(rec).MaxAge)

	rec = do(t, h, call{method: http.MethodPost, path: "/auth/refresh", cookie: second.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "token_reuse", errorCode(t, rec))
}

func TestRefreshInputErrors(t *testing.T) {
	h := newServer(t, newEngine(t))

	rec := do(t, h, call{method: http.MethodPost, path: "/auth/refresh"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, call{method: http.MethodPost, path: "/auth/refresh", body: map[string]string{"token": "x"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, call{method: http.MethodPost, path: "/auth/refresh", body: RefreshRequest{RefreshToken: "garbage"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_token", errorCode(t, rec))
}

func TestLogoutEndsOneSession(t *testing.T) {
	h := newServer(t, newEngine(t))
	a := startSession(t, h, jwt.RoleUser)
	b := startSession(t, h, jwt.RoleUser)

	rec := do(t, h, call{method: http.MethodPost, path: "/auth/logout", cookie: a.RefreshToken})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, call{method: http.MethodPost, path: "/auth/refresh", cookie: a.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, call{method: http.MethodPost, path: "/auth/refresh", cookie: b.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutAllRevokesEveryFamily(t *testing.T) {
	h := newServer(t, newEngine(t))
	a := startSession(t, h, jwt.RoleUser)
	b := startSession(t, h, jwt.RoleUser)

	rec := do(t, h, call{method: http.MethodPost, path: "/auth/logout-all"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, call{method: http.MethodPost, path: "/auth/logout-all", bearer: a.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var out LogoutAllResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 2, out.Revoked)

	for _, p := range []goRotate.TokenPair{a, b} {
		rec = do(t, h, call{method: http.MethodPost, path: "/auth/refresh", cookie: p.RefreshToken})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestMeAndIntrospect(t *testing.T) {
	h := newServer(t, newEngine(t))
	user := startSession(t, h, jwt.RoleUser)
	admin := startSession(t, h, jwt.RoleAdmin)

	rec := do(t, h, call{method: http.MethodGet, path: "/auth/me", bearer: user.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var me MeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.Equal(t, "42", me.Subject)
	require.Equal(t, jwt.RoleUser, me.Role)

	rec = do(t, h, call{method: http.MethodGet, path: "/auth/me", bearer: user.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, call{method: http.MethodGet, path: "/auth/introspect", bearer: user.AccessToken})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, call{method: http.MethodGet, path: "/auth/introspect", bearer: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var stats goRotate.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, goRotate.Stats{TotalTokens: 2, ActiveTokens: 2}, stats)
}

type failingEngine struct {
	Engine
	err error
}

func (f failingEngine) Refresh(context.Context, string) (*goRotate.TokenPair, error) {
	return nil, f.err
}

func (f failingEngine) Health(context.Context) goRotate.HealthStatus {
	return goRotate.HealthStatus{Available: false, Error: f.err.Error()}
}

func TestStoreFailuresAreUnavailable(t *testing.T) {
	timeout := fmt.Errorf("%w: %w", goRotate.ErrStoreUnavailable, goRotate.ErrStoreTimeout)
	h := newServer(t, failingEngine{Engine: newEngine(t), err: timeout})

	rec := do(t, h, call{method: http.MethodPost, path: "/auth/refresh", cookie: "anything"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "store_timeout", errorCode(t, rec))

	rec = do(t, h, call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProbesAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewRouter(newEngine(t), Options{
		UpstreamKey: upstreamKey,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HTTPMetrics: NewHTTPMetrics(reg),
	})

	require.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodGet, path: "/livez"}).Code)
	require.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodGet, path: "/healthz"}).Code)

	rec := do(t, h, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `http_requests_total{method="GET",route="/livez",status="200"} 1`), rec.Body.String())
}

func TestToHTTPPrefersReuseOverStoreFailure(t *testing.T) {
	joined := errors.Join(goRotate.ErrTokenReuseDetected, goRotate.ErrStoreUnavailable)
	status, resp := ToHTTP(joined)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "token_reuse", resp.Error.Code)

	status, _ = ToHTTP(goRotate.ErrRefreshRateLimited)
	require.Equal(t, http.StatusTooManyRequests, status)

	status, _ = ToHTTP(context.Canceled)
	require.Equal(t, StatusClientClosedRequest, status)

	status, _ = ToHTTP(nil)
	require.Equal(t, http.StatusInternalServerError, status)
}

func TestAuditRecordsClientIPWithoutPort(t *testing.T) {
	sink := goRotate.NewChannelSink(8)
	cfg := goRotate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("httpapi-test-secret-0123456789abc")
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 8
	engine, err := goRotate.New().
		WithConfig(cfg).
		WithRegistry(session.NewMemoryStore()).
		WithAuditSink(sink).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	h := newServer(t, engine)

	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"ipv4", "192.0.2.10:51234", nil, "192.0.2.10"},
		{"ipv6", "[2001:db8::7]:443", nil, "2001:db8::7"},
		{"forwarded", "192.0.2.10:51234", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "203.0.113.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body bytes.Buffer
			require.NoError(t, json.NewEncoder(&body).Encode(IssueRequest{Subject: "42", Email: "a@example.com", Role: jwt.RoleUser}))
			req := httptest.NewRequest(http.MethodPost, "/auth/sessions", &body)
			req.RemoteAddr = tc.remoteAddr
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Upstream-Key", upstreamKey)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			select {
			case ev := <-sink.Events():
				require.Equal(t, tc.want, ev.Metadata["ip"])
			case <-time.After(2 * time.Second):
				t.Fatal("no audit event")
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	require.Equal(t, "10.0.0.1", clientIP("10.0.0.1:80"))
	require.Equal(t, "10.0.0.1", clientIP("10.0.0.1"))
	require.Equal(t, "::1", clientIP("[::1]:8080"))
	require.Equal(t, "", clientIP(""))
}
