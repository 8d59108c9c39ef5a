package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/platform/httpx"
	"github.com/condogate/condogate/internal/shared"
)

// Handler exposes the credential and session endpoints for both the
// admin portal and the client application.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	authn    *Authenticator
	authz    authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, authn *Authenticator, az authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, authn: authn, authz: az}
}

// loginRateLimit throttles credential guessing per client IP, on top
// of the global limiter.
func loginRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
}

// MountAdminRoutes registers the /api/admin authentication surface.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.With(loginRateLimit()).Post("/login/", h.loginAdmin)
	r.Post("/token/refresh/", h.refresh)

	r.Group(func(r chi.Router) {
		r.Use(h.authn.Middleware)
		r.Post("/logout/", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(h.authz.RequireSuperuser)
			r.Post("/register/", h.registerAdmin)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authz.RequireAny())
			r.Get("/profile/", h.profile)
			r.Put("/profile/", h.updateProfile)
			r.Put("/change-password/", h.changePassword)
			r.Get("/user-info/", h.userInfo)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authz.RequireAny(authz.PermDashboardAdmin))
			r.Get("/dashboard-data/", h.dashboardData)
		})
	})
}

// MountClientRoutes registers the /api/auth surface for the client app.
func (h *Handler) MountClientRoutes(r chi.Router) {
	r.With(loginRateLimit()).Post("/login/", h.loginClient)
	r.Post("/token/refresh/", h.refresh)
	r.Post("/register/", h.registerClient)
	r.With(loginRateLimit()).Post("/password-reset/", h.requestPasswordReset)
	r.Post("/password-reset/confirm/", h.passwordResetConfirm)
	r.Post("/verify-email/", h.verifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(h.authn.Middleware)
		r.Post("/logout/", h.logout)
		r.Group(func(r chi.Router) {
			r.Use(h.authz.RequireAny())
			r.Get("/profile/", h.profile)
			r.Put("/profile/", h.updateProfile)
			r.Put("/change-password/", h.changePassword)
			r.Get("/user-info/", h.userInfo)
		})
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Access    string       `json:"access"`
	Refresh   string       `json:"refresh"`
	User      *authz.Actor `json:"user"`
	LoginKind LoginKind    `json:"tipo_login"`
}

func (h *Handler) loginAdmin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, LoginAdmin)
}

func (h *Handler) loginClient(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, LoginClient)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, kind LoginKind) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.FieldErrors(w, validationFields(err))
		return
	}
	actor, pair, err := h.service.Authenticate(r.Context(), kind, req.Username, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{
		Access:    pair.Access,
		Refresh:   pair.Refresh,
		User:      actor,
		LoginKind: kind,
	})
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Refresh == "" {
		httpx.RespondError(w, shared.ErrSessionExpired)
		return
	}
	access, err := h.service.Refresh(r.Context(), req.Refresh)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"access": access})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Refresh == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "refresh token requerido")
		return
	}
	if err := h.service.Logout(r.Context(), req.Refresh); err != nil {
		// Logout is best effort server side; the client clears local
		// state either way. An already-expired token is a success.
		h.logger.Warn("logout revoke failed", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusResetContent)
}

type registerRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=150"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	Phone           string `json:"telefono"`
	Address         string `json:"direccion"`
	CI              string `json:"ci"`
	RoleName        string `json:"rol"`
}

func (h *Handler) registerAdmin(w http.ResponseWriter, r *http.Request) {
	h.register(w, r, true)
}

func (h *Handler) registerClient(w http.ResponseWriter, r *http.Request) {
	h.register(w, r, false)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request, allowRole bool) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.FieldErrors(w, validationFields(err))
		return
	}
	user := NewUser{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
		CI:        req.CI,
	}
	// Self-registration always lands on the client role; only the
	// superuser registration endpoint may pick one.
	if allowRole {
		user.RoleName = req.RoleName
	}
	actor, err := h.service.Register(r.Context(), user, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, actor)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	current, err := h.service.Profile(r.Context(), actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, current)
}

type profileUpdateRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Phone     string `json:"telefono"`
	Address   string `json:"direccion"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	var req profileUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.FieldErrors(w, validationFields(err))
		return
	}
	current, err := h.service.UpdateProfile(r.Context(), actor.ID, ProfileUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, current)
}

type changePasswordRequest struct {
	OldPassword        string `json:"old_password" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required,min=8"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	var req changePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.FieldErrors(w, validationFields(err))
		return
	}
	if err := h.service.ChangePassword(r.Context(), actor.ID, req.OldPassword, req.NewPassword); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"detail": "Contraseña actualizada correctamente"})
}

type passwordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// requestPasswordReset always answers 200: whether the address has an
// account must not be observable from outside.
func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.FieldErrors(w, validationFields(err))
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"detail": "Si el correo está registrado, se enviaron las instrucciones",
	})
}

type passwordResetConfirmRequest struct {
	Token              string `json:"token" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required,min=8"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

func (h *Handler) passwordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.FieldErrors(w, validationFields(err))
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"detail": "Contraseña actualizada correctamente"})
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.FieldErrors(w, validationFields(err))
		return
	}
	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"detail": "Correo verificado correctamente"})
}

// userInfo returns the actor plus its effective permission codes.
// Superusers report the wildcard instead of an enumeration.
func (h *Handler) userInfo(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	current, err := h.service.Profile(r.Context(), actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	permisos := []string{}
	switch {
	case current.Superuser:
		permisos = []string{"*"}
	case current.Role != nil:
		permisos = current.Role.Permissions.Codes()
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":     current,
		"permisos": permisos,
	})
}

func (h *Handler) dashboardData(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Dashboard(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

// validationFields flattens validator errors into a field-to-tag map.
func validationFields(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["_"] = "datos inválidos"
		return fields
	}
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
