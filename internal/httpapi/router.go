// Package httpapi serves the rotation endpoints of cmd/rotated over chi.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// CookieOptions controls the HttpOnly refresh token cookie. An empty Name
// disables the cookie.
type CookieOptions struct {
	Name   string
	Path   string
	Secure bool
}

// Options configures [NewRouter].
type Options struct {
	Logger      *slog.Logger
	Timeout     time.Duration
	UpstreamKey string
	Cookie      CookieOptions
	// Metrics serves /metrics when set.
	Metrics     http.Handler
	HTTPMetrics *HTTPMetrics
}

// NewRouter builds the service handler.
func NewRouter(engine Engine, opts Options) http.Handler {
	h := &handlers{engine: engine, cookie: opts.Cookie}

	root := chi.NewRouter()
	root.Use(
		chimw.Recoverer,
		chimw.RequestID,
		chimw.RealIP,
		logging(opts.Logger),
		opts.HTTPMetrics.instrument,
	)

	root.Get("/livez", h.livez)
	root.Get("/healthz", h.healthz)
	if opts.Metrics != nil {
		root.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	root.Route("/auth", func(r chi.Router) {
		r.Use(clientInfo)
		if opts.Timeout > 0 {
			r.Use(chimw.Timeout(opts.Timeout))
		}

		r.With(requireUpstreamKey(opts.UpstreamKey)).Post("/sessions", h.issue)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(engine))
			r.Post("/logout-all", h.logoutAll)
			r.Get("/me", h.me)
			r.With(middleware.RequireRole(jwt.RoleAdmin)).Get("/introspect", h.introspect)
		})
	})

	return root
}
