package roles

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/condogate/condogate/internal/authz"
)

func newTestRouter(repo *stubRepo) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, NewService(logger, repo), validator.New(), authz.Middleware{Logger: logger})
	r := chi.NewRouter()
	r.Route("/api/admin/roles", h.MountRoutes)
	return r
}

func request(t *testing.T, router http.Handler, method, path string, body any, actor *authz.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != nil {
		req = req.WithContext(authz.ContextWithActor(req.Context(), actor))
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func manager() *authz.Actor {
	return &authz.Actor{
		ID:     1,
		Active: true,
		Role: &authz.Role{
			Administrative: true,
			Permissions:    authz.NewPermissionSet(authz.PermRolesView, authz.PermRolesManage),
		},
	}
}

func viewer() *authz.Actor {
	return &authz.Actor{
		ID:     2,
		Active: true,
		Role: &authz.Role{
			Administrative: true,
			Permissions:    authz.NewPermissionSet(authz.PermRolesView),
		},
	}
}

func TestListRequiresAuthentication(t *testing.T) {
	router := newTestRouter(newStubRepo())
	if res := request(t, router, http.MethodGet, "/api/admin/roles/", nil, nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous expected 401, got %d", res.Code)
	}
	// Listing needs authentication only; unprivileged actors may read.
	noPerms := &authz.Actor{ID: 3, Active: true, Role: &authz.Role{}}
	if res := request(t, router, http.MethodGet, "/api/admin/roles/", nil, noPerms); res.Code != http.StatusOK {
		t.Fatalf("authenticated expected 200, got %d", res.Code)
	}
}

func TestStatisticsRequirePermission(t *testing.T) {
	router := newTestRouter(newStubRepo())
	noPerms := &authz.Actor{ID: 3, Active: true, Role: &authz.Role{}}
	if res := request(t, router, http.MethodGet, "/api/admin/roles/estadisticas/", nil, noPerms); res.Code != http.StatusForbidden {
		t.Fatalf("unprivileged expected 403, got %d", res.Code)
	}
	if res := request(t, router, http.MethodGet, "/api/admin/roles/estadisticas/", nil, viewer()); res.Code != http.StatusOK {
		t.Fatalf("viewer expected 200, got %d", res.Code)
	}
}

func TestViewerCannotMutate(t *testing.T) {
	router := newTestRouter(newStubRepo())
	res := request(t, router, http.MethodPost, "/api/admin/roles/", map[string]any{"nombre": "Portero"}, viewer())
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestCreateRoleEndpoint(t *testing.T) {
	router := newTestRouter(newStubRepo())
	res := request(t, router, http.MethodPost, "/api/admin/roles/", map[string]any{
		"nombre":            "Portero",
		"descripcion":       "Control de puerta",
		"es_administrativo": true,
		"permisos":          []string{authz.PermAccessView, authz.PermAccessRegister},
	}, manager())
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var role authz.Role
	if err := json.Unmarshal(res.Body.Bytes(), &role); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if role.Name != "Portero" || !role.Permissions.Has(authz.PermAccessView) {
		t.Fatalf("unexpected role payload: %+v", role)
	}
}

func TestCreateRoleInvalidCodeIs400(t *testing.T) {
	router := newTestRouter(newStubRepo())
	res := request(t, router, http.MethodPost, "/api/admin/roles/", map[string]any{
		"nombre":   "Portero",
		"permisos": []string{"accesos.teletransporte"},
	}, manager())
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAvailablePermissionsShape(t *testing.T) {
	router := newTestRouter(newStubRepo())
	res := request(t, router, http.MethodGet, "/api/admin/roles/permisos_disponibles/", nil, viewer())
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Permisos [][2]string         `json:"permisos"`
		Grupos   map[string][]string `json:"grupos_permisos"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Permisos) == 0 || len(body.Grupos) == 0 {
		t.Fatal("expected catalog and groups")
	}
}

func TestAssignPermissionsEndpoint(t *testing.T) {
	repo := newStubRepo()
	repo.roles[1] = authz.Role{ID: 1, Name: "Operador", Permissions: authz.NewPermissionSet(authz.PermUsersView)}
	router := newTestRouter(repo)

	res := request(t, router, http.MethodPost, "/api/admin/roles/1/asignar_permisos/", map[string]any{
		"permisos": []string{authz.PermAccessView},
	}, manager())
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if repo.roles[1].Permissions.Has(authz.PermUsersView) {
		t.Fatal("assign must replace the whole set")
	}
}

func TestDeleteRoleEndpoint(t *testing.T) {
	repo := newStubRepo()
	repo.roles[1] = authz.Role{ID: 1, Name: "Temporal"}
	router := newTestRouter(repo)

	res := request(t, router, http.MethodDelete, "/api/admin/roles/1/", nil, manager())
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if res := request(t, router, http.MethodDelete, "/api/admin/roles/1/", nil, manager()); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing role, got %d", res.Code)
	}
}
