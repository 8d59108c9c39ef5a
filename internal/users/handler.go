package users

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

// Handler manages user administration endpoints.
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

// MountRoutes registers user administration routes. Listing only
// requires authentication: unprivileged actors get a self-only view.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny())
		r.Get("/", h.list)
		r.Get("/{id}/", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(authz.PermUsersView))
		r.Get("/estadisticas/", h.statistics)
		r.Get("/personal_disponible/", h.availableStaff)
		r.Get("/residentes_disponibles/", h.availableResidents)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAll(authz.PermUsersCreate))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAll(authz.PermUsersEdit))
		r.Put("/{id}/", h.update)
		r.Patch("/{id}/", h.patch)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAll(authz.PermUsersDelete))
		r.Delete("/{id}/", h.remove)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	viewer := authz.ActorFromContext(r.Context())
	page, perPage := shared.PageParams(r)
	filters := ListFilters{
		Search:  r.URL.Query().Get("search"),
		Page:    page,
		PerPage: perPage,
	}
	if roleID, err := strconv.ParseInt(r.URL.Query().Get("rol"), 10, 64); err == nil {
		filters.RoleID = roleID
	}
	if r.URL.Query().Get("activos") == "true" {
		filters.OnlyActive = true
	}
	list, total, err := h.service.List(r.Context(), viewer, filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []authz.Actor{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"results":    list,
		"pagination": shared.NewPagination(page, perPage, int(total)),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	viewer := authz.ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	actor, err := h.service.Find(r.Context(), viewer, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, actor)
}

type userRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=150"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"omitempty,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Phone     string `json:"telefono"`
	Address   string `json:"direccion"`
	CI        string `json:"ci"`
	RoleID    int64  `json:"rol_id"`
	Active    *bool  `json:"is_active"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Password == "" {
		httpx.FieldErrors(w, map[string]string{"password": "required"})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	actor, err := h.service.Create(r.Context(), Input{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
		CI:        req.CI,
		RoleID:    req.RoleID,
		Active:    active,
	}, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, actor)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	actor, err := h.service.Update(r.Context(), id, Input{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
		CI:        req.CI,
		RoleID:    req.RoleID,
		Active:    active,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, actor)
}

// userPatchRequest mirrors userRequest with every field optional, so
// a partial body only touches what it names.
type userPatchRequest struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=150"`
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"telefono"`
	Address   *string `json:"direccion"`
	CI        *string `json:"ci"`
	RoleID    *int64  `json:"rol_id"`
	Active    *bool   `json:"is_active"`
}

func (h *Handler) patch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var req userPatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
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
		return
	}
	actor, err := h.service.Patch(r.Context(), id, Patch{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
		CI:        req.CI,
		RoleID:    req.RoleID,
		Active:    req.Active,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, actor)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) availableStaff(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, h.service.AvailableStaff)
}

func (h *Handler) availableResidents(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, h.service.AvailableResidents)
}

func (h *Handler) respondList(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context) ([]authz.Actor, error)) {
	list, err := fetch(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []authz.Actor{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (userRequest, bool) {
	var req userRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return userRequest{}, false
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
		return userRequest{}, false
	}
	return req, true
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
