package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/condogate/condogate/internal/authz"
)

func newTestRouter(t *testing.T, repo *stubRepo) chi.Router {
	t.Helper()
	tokens, _ := newTestTokenService(t)
	logger := discardLogger()
	svc := NewService(logger, repo, tokens, nil)
	authn := NewAuthenticator(logger, tokens, repo)
	h := NewHandler(logger, svc, validator.New(), authn, authz.Middleware{Logger: logger})

	r := chi.NewRouter()
	r.Route("/api/admin", h.MountAdminRoutes)
	r.Route("/api/auth", h.MountClientRoutes)
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestAdminLoginEndpoint(t *testing.T) {
	repo := newStubRepo()
	repo.add(adminActor(1, "gerente"), "secreto123")
	router := newTestRouter(t, repo)

	res := postJSON(t, router, "/api/admin/login/", map[string]string{
		"username": "gerente",
		"password": "secreto123",
	}, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", res.Code, res.Body.String())
	}

	var body loginResponse
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Access == "" || body.Refresh == "" {
		t.Fatal("expected token pair in response")
	}
	if body.LoginKind != LoginAdmin {
		t.Fatalf("expected tipo_login administrativo, got %q", body.LoginKind)
	}
	if body.User == nil || body.User.Username != "gerente" {
		t.Fatalf("expected user payload, got %+v", body.User)
	}
}

func TestAdminLoginRejectsClientAccount(t *testing.T) {
	repo := newStubRepo()
	repo.add(clientActor(2, "residente"), "secreto123")
	router := newTestRouter(t, repo)

	res := postJSON(t, router, "/api/admin/login/", map[string]string{
		"username": "residente",
		"password": "secreto123",
	}, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", res.Code)
	}
}

func TestLoginValidation(t *testing.T) {
	router := newTestRouter(t, newStubRepo())
	res := postJSON(t, router, "/api/admin/login/", map[string]string{"username": "solo"}, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.Code)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Errors["Password"]; !ok {
		t.Fatalf("expected Password field error, got %v", body.Errors)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	repo := newStubRepo()
	repo.add(adminActor(1, "gerente"), "secreto123")
	router := newTestRouter(t, repo)

	login := postJSON(t, router, "/api/admin/login/", map[string]string{
		"username": "gerente",
		"password": "secreto123",
	}, nil)
	var pair loginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	res := postJSON(t, router, "/api/admin/token/refresh/", map[string]string{"refresh": pair.Refresh}, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", res.Code, res.Body.String())
	}
	var refreshed map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if refreshed["access"] == "" {
		t.Fatal("expected new access token")
	}
}

func TestRefreshWithGarbageIs401(t *testing.T) {
	router := newTestRouter(t, newStubRepo())
	res := postJSON(t, router, "/api/admin/token/refresh/", map[string]string{"refresh": "not-a-token"}, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", res.Code)
	}
}

func TestLogoutReturns205AndRevokes(t *testing.T) {
	repo := newStubRepo()
	repo.add(adminActor(1, "gerente"), "secreto123")
	router := newTestRouter(t, repo)

	login := postJSON(t, router, "/api/admin/login/", map[string]string{
		"username": "gerente",
		"password": "secreto123",
	}, nil)
	var pair loginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	res := postJSON(t, router, "/api/admin/logout/", map[string]string{"refresh": pair.Refresh}, map[string]string{
		"Authorization": "Bearer " + pair.Access,
	})
	if res.Code != http.StatusResetContent {
		t.Fatalf("expected 205 got %d", res.Code)
	}

	// The revoked refresh no longer mints access tokens.
	refresh := postJSON(t, router, "/api/admin/token/refresh/", map[string]string{"refresh": pair.Refresh}, nil)
	if refresh.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout got %d", refresh.Code)
	}
}

func TestProfileRequiresToken(t *testing.T) {
	repo := newStubRepo()
	repo.add(adminActor(1, "gerente"), "secreto123")
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/profile/", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", res.Code)
	}
}

func TestUserInfoSuperuserWildcard(t *testing.T) {
	repo := newStubRepo()
	root := &authz.Actor{ID: 9, Username: "root", Active: true, Superuser: true}
	repo.add(root, "secreto123")
	router := newTestRouter(t, repo)

	login := postJSON(t, router, "/api/admin/login/", map[string]string{
		"username": "root",
		"password": "secreto123",
	}, nil)
	var pair loginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/user-info/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.Access)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", res.Code, res.Body.String())
	}
	var body struct {
		Permisos []string `json:"permisos"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Permisos) != 1 || body.Permisos[0] != "*" {
		t.Fatalf("expected wildcard permisos, got %v", body.Permisos)
	}
}

func TestPasswordResetEndpointNeverLeaksAccounts(t *testing.T) {
	repo := newStubRepo()
	actor := clientActor(3, "residente")
	actor.Email = "res@example.com"
	repo.add(actor, "secreto123")
	router := newTestRouter(t, repo)

	for _, email := range []string{"res@example.com", "nadie@example.com"} {
		res := postJSON(t, router, "/api/auth/password-reset/", map[string]string{"email": email}, nil)
		if res.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d: %s", email, res.Code, res.Body.String())
		}
	}
}

func TestPasswordResetConfirmRejectsGarbageToken(t *testing.T) {
	router := newTestRouter(t, newStubRepo())
	res := postJSON(t, router, "/api/auth/password-reset/confirm/", map[string]string{
		"token":                "basura",
		"new_password":         "nueva1234",
		"new_password_confirm": "nueva1234",
	}, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
	}
}

func TestVerifyEmailEndpointRejectsGarbageToken(t *testing.T) {
	router := newTestRouter(t, newStubRepo())
	res := postJSON(t, router, "/api/auth/verify-email/", map[string]string{"token": "basura"}, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestClientRegisterIgnoresRoleField(t *testing.T) {
	repo := newStubRepo()
	router := newTestRouter(t, repo)

	res := postJSON(t, router, "/api/auth/register/", map[string]string{
		"username":         "nuevo",
		"email":            "nuevo@example.com",
		"password":         "secreto123",
		"password_confirm": "secreto123",
		"first_name":       "Nuevo",
		"last_name":        "Usuario",
		"rol":              "Administrador",
	}, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", res.Code, res.Body.String())
	}
	if repo.created[0].RoleName != DefaultClientRole {
		t.Fatalf("expected forced client role, got %q", repo.created[0].RoleName)
	}
}
