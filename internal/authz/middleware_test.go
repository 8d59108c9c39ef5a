package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, mw func(http.Handler) http.Handler, actor *Actor) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if actor != nil {
		req = req.WithContext(ContextWithActor(req.Context(), actor))
	}
	res := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(res, req)
	return res
}

func TestRequireAnyWithoutActorIs401(t *testing.T) {
	m := Middleware{}
	res := doRequest(t, m.RequireAny(PermUsersView), nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", res.Code)
	}
}

func TestRequireAnyInsufficientIs403(t *testing.T) {
	m := Middleware{}
	res := doRequest(t, m.RequireAny(PermRolesManage), actorWithPerms(PermUsersView))
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", res.Code)
	}
}

func TestRequireAnyGranted(t *testing.T) {
	m := Middleware{}
	res := doRequest(t, m.RequireAny(PermRolesManage, PermUsersView), actorWithPerms(PermUsersView))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
}

func TestRequireAnyEmptyOnlyNeedsAuthentication(t *testing.T) {
	m := Middleware{}
	res := doRequest(t, m.RequireAny(), actorWithPerms())
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
}

func TestRequireAllPartialGrantIs403(t *testing.T) {
	m := Middleware{}
	res := doRequest(t, m.RequireAll(PermUsersView, PermUsersCreate), actorWithPerms(PermUsersView))
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", res.Code)
	}
}

func TestRequireAllSuperuserBypass(t *testing.T) {
	m := Middleware{}
	actor := &Actor{ID: 1, Superuser: true, Active: true}
	res := doRequest(t, m.RequireAll(PermUsersView, PermRolesManage), actor)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
}

func TestRequireAdministrative(t *testing.T) {
	m := Middleware{}
	admin := &Actor{ID: 3, Active: true, Role: &Role{Administrative: true}}
	client := &Actor{ID: 4, Active: true, Role: &Role{Administrative: false}}

	if res := doRequest(t, func(next http.Handler) http.Handler { return m.RequireAdministrative(next) }, admin); res.Code != http.StatusOK {
		t.Fatalf("admin expected 200 got %d", res.Code)
	}
	if res := doRequest(t, func(next http.Handler) http.Handler { return m.RequireAdministrative(next) }, client); res.Code != http.StatusForbidden {
		t.Fatalf("client expected 403 got %d", res.Code)
	}
}
