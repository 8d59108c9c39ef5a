package roles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/platform/httpx"
	"github.com/condogate/condogate/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	authz    authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, az authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, authz: az}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny())
		r.Get("/", h.list)
		r.Get("/permisos_disponibles/", h.availablePermissions)
		r.Get("/{id}/", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(authz.PermRolesView, authz.PermRolesManage))
		r.Get("/estadisticas/", h.statistics)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAll(authz.PermRolesManage))
		r.Post("/", h.create)
		r.Put("/{id}/", h.update)
		r.Delete("/{id}/", h.remove)
		r.Post("/{id}/asignar_permisos/", h.assignPermissions)
		r.Post("/{id}/agregar_permiso/", h.addPermission)
		r.Post("/{id}/quitar_permiso/", h.removePermission)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []authz.Role{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	role, err := h.service.Find(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type roleRequest struct {
	Name           string   `json:"nombre" validate:"required,max=100"`
	Description    string   `json:"descripcion"`
	Administrative bool     `json:"es_administrativo"`
	Permissions    []string `json:"permisos"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRole(w, r)
	if !ok {
		return
	}
	role, err := h.service.Create(r.Context(), authz.Role{
		Name:           req.Name,
		Description:    req.Description,
		Administrative: req.Administrative,
		Permissions:    authz.NewPermissionSet(req.Permissions...),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	req, ok := h.decodeRole(w, r)
	if !ok {
		return
	}
	role, err := h.service.Update(r.Context(), authz.Role{
		ID:             id,
		Name:           req.Name,
		Description:    req.Description,
		Administrative: req.Administrative,
		Permissions:    authz.NewPermissionSet(req.Permissions...),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRequest struct {
	Permissions []string `json:"permisos" validate:"required"`
}

func (h *Handler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
	}
	if req.Permissions == nil {
		httpx.FieldErrors(w, map[string]string{"permisos": "required"})
		return
	}
	role, err := h.service.AssignPermissions(r.Context(), id, req.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type permissionRequest struct {
	Code string `json:"permiso" validate:"required"`
}

func (h *Handler) addPermission(w http.ResponseWriter, r *http.Request) {
	h.mutatePermission(w, r, h.service.AddPermission)
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	h.mutatePermission(w, r, h.service.RemovePermission)
}

func (h *Handler) mutatePermission(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64, code string) (authz.Role, error)) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Code == "" {
		httpx.FieldErrors(w, map[string]string{"permiso": "required"})
		return
	}
	role, err := op(r.Context(), id, req.Code)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

// availablePermissions returns the catalog plus its grouping, the
// shape the role editor consumes.
func (h *Handler) availablePermissions(w http.ResponseWriter, r *http.Request) {
	catalog := authz.Catalog()
	permisos := make([][2]string, 0, len(catalog))
	for _, p := range catalog {
		permisos = append(permisos, [2]string{p.Code, p.Description})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"permisos":        permisos,
		"grupos_permisos": authz.Groups(),
	})
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) decodeRole(w http.ResponseWriter, r *http.Request) (roleRequest, bool) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return roleRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		httpx.FieldErrors(w, fields)
		return roleRequest{}, false
	}
	return req, true
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
