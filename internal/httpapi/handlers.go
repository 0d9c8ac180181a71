package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/internal/logctx"
	"github.com/MrEthical07/goRotate/middleware"
)

// Engine is the part of [goRotate.Engine] the handlers call.
type Engine interface {
	middleware.AccessVerifier
	Issue(ctx context.Context, id goRotate.Identity) (*goRotate.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*goRotate.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	RevokeAllForSubject(ctx context.Context, subject string) (int, error)
	Stats(ctx context.Context) (goRotate.Stats, error)
	Health(ctx context.Context) goRotate.HealthStatus
}

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 16 << 10

type handlers struct {
	engine Engine
	cookie CookieOptions
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict rejects unknown fields and oversized bodies.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

func (h *handlers) setRefreshCookie(w http.ResponseWriter, pair *goRotate.TokenPair) {
	if h.cookie.Name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    pair.RefreshToken,
		Path:     h.cookie.Path,
		Expires:  pair.RefreshTokenExpiresAt,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *handlers) clearRefreshCookie(w http.ResponseWriter) {
	if h.cookie.Name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshToken reads the token from the cookie first, then from the body.
func (h *handlers) refreshToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if h.cookie.Name != "" {
		if c, err := r.Cookie(h.cookie.Name); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}

	var in RefreshRequest
	if err := decodeStrict(w, r, &in); err != nil {
		if errors.Is(err, io.EOF) {
			return "", errBadRequest
		}
		return "", errors.Join(errBadRequest, err)
	}
	if in.RefreshToken == "" {
		return "", errBadRequest
	}
	return in.RefreshToken, nil
}

func (h *handlers) issue(w http.ResponseWriter, r *http.Request) {
	var in IssueRequest
	if err := decodeStrict(w, r, &in); err != nil {
		WriteError(w, r, errBadRequest)
		return
	}

	pair, err := h.engine.Issue(r.Context(), goRotate.Identity{
		Subject: in.Subject,
		Email:   in.Email,
		Role:    in.Role,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusCreated, pair)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshToken(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	pair, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, goRotate.ErrTokenReuseDetected) || errors.Is(err, goRotate.ErrInvalidToken) {
			h.clearRefreshCookie(w)
		}
		WriteError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, pair)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshToken(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.engine.Logout(r.Context(), token); err != nil {
		WriteError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, r, goRotate.ErrInvalidToken)
		return
	}

	n, err := h.engine.RevokeAllForSubject(r.Context(), claims.Subject)
	if err != nil {
		logctx.From(r.Context()).Warn("logout_all_incomplete",
			slog.String("subject", claims.Subject),
			slog.Int("revoked", n),
			slog.String("err", err.Error()),
		)
		WriteError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, LogoutAllResponse{Revoked: n})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, r, goRotate.ErrInvalidToken)
		return
	}

	out := MeResponse{Subject: claims.Subject, Email: claims.Email, Role: claims.Role}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) introspect(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Health(r.Context())
	out := HealthResponse{Status: "ok", LatencyMS: status.Latency.Milliseconds()}
	if !status.Available {
		out.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

