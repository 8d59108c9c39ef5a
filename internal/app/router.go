package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/condogate/condogate/internal/access"
	"github.com/condogate/condogate/internal/auth"
	"github.com/condogate/condogate/internal/observability"
	"github.com/condogate/condogate/internal/roles"
	"github.com/condogate/condogate/internal/users"
	"github.com/condogate/condogate/jobs"
)

// RouterParams groups the handlers mounted on the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Authn   *auth.Authenticator
	Auth    *auth.Handler
	Users   *users.Handler
	Roles   *roles.Handler
	Access  *access.Handler
	Jobs    *jobs.Handler
	Metrics *observability.Metrics
}

// NewRouter wires the middleware stack and mounts every API surface.
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(p.Config, p.Metrics) {
		r.Use(mw)
	}
	if !p.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	r.Route("/api/admin", func(r chi.Router) {
		p.Auth.MountAdminRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(p.Authn.Middleware)
			r.Route("/users", p.Users.MountRoutes)
			r.Route("/roles", p.Roles.MountRoutes)
		})
	})

	r.Route("/api/auth", p.Auth.MountClientRoutes)

	r.Route("/api/acceso", func(r chi.Router) {
		r.Use(p.Authn.Middleware)
		p.Access.MountRoutes(r)
	})

	if p.Jobs != nil {
		r.Route("/api/jobs", p.Jobs.MountRoutes)
	}

	return r
}
