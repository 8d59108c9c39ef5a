package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/condogate/condogate/internal/authz"
)

// ActorLoader resolves a token subject to a full actor.
type ActorLoader interface {
	FindActor(ctx context.Context, id int64) (*authz.Actor, error)
}

// Authenticator turns a Bearer access token into an actor on the
// request context. Requests without a valid token proceed anonymously;
// the authorization middleware decides whether that is acceptable.
type Authenticator struct {
	logger *slog.Logger
	tokens *TokenService
	repo   ActorLoader
}

// NewAuthenticator builds Authenticator instance.
func NewAuthenticator(logger *slog.Logger, tokens *TokenService, repo ActorLoader) *Authenticator {
	return &Authenticator{logger: logger, tokens: tokens, repo: repo}
}

// Middleware extracts and verifies the Authorization header.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		actorID, err := a.tokens.VerifyAccess(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := a.repo.FindActor(r.Context(), actorID)
		if err != nil {
			a.logger.Warn("actor lookup failed", slog.Int64("user_id", actorID), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}
		// Deactivated accounts keep their tokens until expiry but are
		// treated as anonymous from the moment the flag flips.
		if !actor.Active {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.ContextWithActor(r.Context(), actor)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
