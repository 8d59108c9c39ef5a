package authz

import (
	"log/slog"
	"net/http"

	"github.com/condogate/condogate/internal/platform/httpx"
	"github.com/condogate/condogate/internal/shared"
)

// Middleware wires authorization checks for HTTP handlers. It expects
// the authentication layer to have placed the actor in the request
// context; a missing actor yields 401, an insufficient one 403.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the current actor has at least one of the given
// permissions. With no arguments it only requires authentication.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			if actor == nil {
				httpx.RespondError(w, shared.ErrSessionExpired)
				return
			}
			if len(perms) == 0 || HasAny(actor, perms) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, actor, perms)
		})
	}
}

// RequireAll ensures the current actor has every given permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			if actor == nil {
				httpx.RespondError(w, shared.ErrSessionExpired)
				return
			}
			if HasAll(actor, perms) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, actor, perms)
		})
	}
}

// RequireAdministrative ensures the actor holds an administrative role.
// Superusers qualify regardless of role.
func (m Middleware) RequireAdministrative(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromContext(r.Context())
		if actor == nil {
			httpx.RespondError(w, shared.ErrSessionExpired)
			return
		}
		if actor.Superuser || actor.Administrative() {
			next.ServeHTTP(w, r)
			return
		}
		m.deny(w, r, actor, nil)
	})
}

// RequireSuperuser restricts the route to superusers.
func (m Middleware) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromContext(r.Context())
		if actor == nil {
			httpx.RespondError(w, shared.ErrSessionExpired)
			return
		}
		if !actor.Superuser {
			m.deny(w, r, actor, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, actor *Actor, perms []string) {
	if m.Logger != nil {
		m.Logger.Warn("authorization denied",
			slog.Int64("actor_id", actor.ID),
			slog.String("path", r.URL.Path),
			slog.Any("required", perms),
		)
	}
	httpx.RespondError(w, shared.ErrPermissionDenied)
}
