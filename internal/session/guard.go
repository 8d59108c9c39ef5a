package session

import "github.com/condogate/condogate/internal/authz"

// PermissionGuard decides whether a UI element is visible to the
// current actor. A single Code takes precedence over the Codes list;
// with neither configured the element is always visible.
type PermissionGuard struct {
	Code       string
	Codes      []string
	RequireAll bool
}

// Visible evaluates the guard against the actor.
func (g PermissionGuard) Visible(actor *authz.Actor) bool {
	codes := g.Codes
	if g.Code != "" {
		codes = []string{g.Code}
	}
	if len(codes) == 0 {
		return true
	}
	if g.RequireAll {
		return authz.HasAll(actor, codes)
	}
	return authz.HasAny(actor, codes)
}

// Decision is a route guard verdict.
type Decision int

const (
	// DecisionPending means the session is still resolving; render
	// nothing yet.
	DecisionPending Decision = iota
	// DecisionAllow lets the navigation proceed.
	DecisionAllow
	// DecisionRedirectLogin sends the user to the login screen,
	// remembering where they were headed.
	DecisionRedirectLogin
)

// RouteGuard protects a navigation target. Admin routes redirect
// non-administrative users to login rather than showing a forbidden
// page; the login screen is the only gate.
type RouteGuard struct {
	RequireAdmin bool
	Permissions  PermissionGuard
}

// Verdict is the outcome of a route evaluation.
type Verdict struct {
	Decision Decision
	// Destination is the originally requested route, preserved so a
	// successful login can continue there.
	Destination string
}

// Evaluate decides what to do with a navigation to destination.
func (g RouteGuard) Evaluate(state State, actor *authz.Actor, destination string) Verdict {
	switch state {
	case StateUnknown:
		return Verdict{Decision: DecisionPending, Destination: destination}
	case StateAnonymous:
		return Verdict{Decision: DecisionRedirectLogin, Destination: destination}
	}
	if g.RequireAdmin && !actor.Administrative() && !isSuperuser(actor) {
		return Verdict{Decision: DecisionRedirectLogin, Destination: destination}
	}
	if !g.Permissions.Visible(actor) {
		return Verdict{Decision: DecisionRedirectLogin, Destination: destination}
	}
	return Verdict{Decision: DecisionAllow, Destination: destination}
}

func isSuperuser(actor *authz.Actor) bool {
	return actor != nil && actor.Superuser
}
