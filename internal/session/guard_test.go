package session

import (
	"testing"

	"github.com/condogate/condogate/internal/authz"
)

func guardActor(admin bool, codes ...string) *authz.Actor {
	return &authz.Actor{
		ID:     1,
		Active: true,
		Role: &authz.Role{
			Administrative: admin,
			Permissions:    authz.NewPermissionSet(codes...),
		},
	}
}

func TestPermissionGuardSingleCodeWinsOverList(t *testing.T) {
	actor := guardActor(false, authz.PermUsersView)
	g := PermissionGuard{Code: authz.PermRolesManage, Codes: []string{authz.PermUsersView}}
	if g.Visible(actor) {
		t.Fatal("single code must take precedence over the list")
	}
}

func TestPermissionGuardUnconfiguredAllows(t *testing.T) {
	if !(PermissionGuard{}).Visible(nil) {
		t.Fatal("unconfigured guard must allow even anonymous viewers")
	}
}

func TestPermissionGuardAnyVersusAll(t *testing.T) {
	actor := guardActor(false, authz.PermUsersView)
	codes := []string{authz.PermUsersView, authz.PermUsersCreate}

	if !(PermissionGuard{Codes: codes}).Visible(actor) {
		t.Fatal("any-of guard should pass with one code held")
	}
	if (PermissionGuard{Codes: codes, RequireAll: true}).Visible(actor) {
		t.Fatal("all-of guard should fail with one code missing")
	}
}

func TestRouteGuardPendingWhileUnknown(t *testing.T) {
	g := RouteGuard{RequireAdmin: true}
	v := g.Evaluate(StateUnknown, nil, "/admin/usuarios")
	if v.Decision != DecisionPending {
		t.Fatalf("expected pending, got %v", v.Decision)
	}
}

func TestRouteGuardAnonymousRedirectsWithDestination(t *testing.T) {
	g := RouteGuard{}
	v := g.Evaluate(StateAnonymous, nil, "/admin/roles")
	if v.Decision != DecisionRedirectLogin {
		t.Fatalf("expected redirect, got %v", v.Decision)
	}
	if v.Destination != "/admin/roles" {
		t.Fatalf("expected destination preserved, got %q", v.Destination)
	}
}

func TestRouteGuardAdminRouteRedirectsNonAdmin(t *testing.T) {
	g := RouteGuard{RequireAdmin: true}
	client := guardActor(false, authz.PermAccessView)

	v := g.Evaluate(StateAuthenticated, client, "/admin")
	if v.Decision != DecisionRedirectLogin {
		t.Fatalf("non-admin on admin route must go back to login, got %v", v.Decision)
	}
}

func TestRouteGuardAllowsAdminAndSuperuser(t *testing.T) {
	g := RouteGuard{RequireAdmin: true}
	admin := guardActor(true)
	root := &authz.Actor{ID: 2, Active: true, Superuser: true}

	if v := g.Evaluate(StateAuthenticated, admin, "/admin"); v.Decision != DecisionAllow {
		t.Fatalf("admin expected allow, got %v", v.Decision)
	}
	if v := g.Evaluate(StateAuthenticated, root, "/admin"); v.Decision != DecisionAllow {
		t.Fatalf("superuser expected allow, got %v", v.Decision)
	}
}

func TestRouteGuardPermissionCheck(t *testing.T) {
	g := RouteGuard{Permissions: PermissionGuard{Code: authz.PermRolesView}}
	holder := guardActor(false, authz.PermRolesView)
	other := guardActor(false, authz.PermUsersView)

	if v := g.Evaluate(StateAuthenticated, holder, "/roles"); v.Decision != DecisionAllow {
		t.Fatalf("expected allow, got %v", v.Decision)
	}
	if v := g.Evaluate(StateAuthenticated, other, "/roles"); v.Decision != DecisionRedirectLogin {
		t.Fatalf("expected redirect, got %v", v.Decision)
	}
}
