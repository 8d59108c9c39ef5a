package access

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/platform/httpx"
	"github.com/condogate/condogate/internal/shared"
)

// Handler manages the vehicular access endpoints.
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

// MountRoutes registers the /api/acceso surface.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(authz.PermAccessView, authz.PermAccessRegister))
		r.Get("/puertas/", h.listDoors)
		r.Get("/tipos-vehiculo/", h.listVehicleTypes)
		r.Get("/colores/", h.listColors)
		r.Get("/registros/", h.listRecords)
		r.Get("/registros/{id}/", h.showRecord)
		r.Get("/buscar-placa/", h.searchPlate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAll(authz.PermAccessCatalogs))
		r.Post("/puertas/", h.createDoor)
		r.Put("/puertas/{id}/", h.updateDoor)
		r.Post("/tipos-vehiculo/", h.createVehicleType)
		r.Post("/colores/", h.createColor)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAll(authz.PermAccessRegister))
		r.Post("/registros/", h.createRecord)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAll(authz.PermAccessProcess))
		r.Post("/procesar-imagen/", h.processImage)
		r.Get("/health-check/", h.visionHealth)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(authz.PermReportsBasic, authz.PermReportsAdvanced, authz.PermDashboardAdmin))
		r.Get("/estadisticas/", h.statistics)
		r.Get("/resumen-dia/", h.daySummary)
		r.Get("/recuento-por-dia/", h.countByDay)
	})
}

// ---- catalogs ----

func onlyActive(r *http.Request, param string) bool {
	return r.URL.Query().Get(param) == "true"
}

func (h *Handler) listDoors(w http.ResponseWriter, r *http.Request) {
	doors, err := h.service.Doors(r.Context(), onlyActive(r, "activa"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if doors == nil {
		doors = []Door{}
	}
	httpx.JSON(w, http.StatusOK, doors)
}

type doorRequest struct {
	Name        string `json:"nombre" validate:"required,max=100"`
	Description string `json:"descripcion"`
	Active      *bool  `json:"activa"`
}

func (h *Handler) createDoor(w http.ResponseWriter, r *http.Request) {
	var req doorRequest
	if !h.decode(w, r, &req) {
		return
	}
	door, err := h.service.CreateDoor(r.Context(), Door{
		Name:        req.Name,
		Description: req.Description,
		Active:      boolOrDefault(req.Active, true),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, door)
}

func (h *Handler) updateDoor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var req doorRequest
	if !h.decode(w, r, &req) {
		return
	}
	door, err := h.service.UpdateDoor(r.Context(), Door{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Active:      boolOrDefault(req.Active, true),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, door)
}

func (h *Handler) listVehicleTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.VehicleTypes(r.Context(), onlyActive(r, "activo"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if types == nil {
		types = []VehicleType{}
	}
	httpx.JSON(w, http.StatusOK, types)
}

type catalogRequest struct {
	Name   string `json:"nombre" validate:"required,max=100"`
	Active *bool  `json:"activo"`
}

func (h *Handler) createVehicleType(w http.ResponseWriter, r *http.Request) {
	var req catalogRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateVehicleType(r.Context(), VehicleType{
		Name:   req.Name,
		Active: boolOrDefault(req.Active, true),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listColors(w http.ResponseWriter, r *http.Request) {
	colors, err := h.service.Colors(r.Context(), onlyActive(r, "activo"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if colors == nil {
		colors = []Color{}
	}
	httpx.JSON(w, http.StatusOK, colors)
}

func (h *Handler) createColor(w http.ResponseWriter, r *http.Request) {
	var req catalogRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateColor(r.Context(), Color{
		Name:   req.Name,
		Active: boolOrDefault(req.Active, true),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

// ---- records ----

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageParams(r)
	q := r.URL.Query()
	filters := RecordFilters{
		Event:   Event(q.Get("tipo_evento")),
		Plate:   q.Get("placa"),
		Page:    page,
		PerPage: perPage,
	}
	if doorID, err := strconv.ParseInt(q.Get("puerta"), 10, 64); err == nil {
		filters.DoorID = doorID
	}
	if from, err := time.Parse("2006-01-02", q.Get("desde")); err == nil {
		filters.From = from
	}
	if to, err := time.Parse("2006-01-02", q.Get("hasta")); err == nil {
		filters.To = to.AddDate(0, 0, 1)
	}
	records, total, err := h.service.Records(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"results":    records,
		"pagination": shared.NewPagination(page, perPage, int(total)),
	})
}

func (h *Handler) showRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	record, err := h.service.Record(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

type recordRequest struct {
	Plate         string `json:"placa" validate:"required,max=20"`
	Event         string `json:"tipo_evento" validate:"required"`
	DoorID        int64  `json:"puerta_id" validate:"required,gt=0"`
	VehicleTypeID int64  `json:"tipo_vehiculo_id" validate:"required,gt=0"`
	ColorID       int64  `json:"color_id" validate:"required,gt=0"`
	Observations  string `json:"observaciones"`
	Image         string `json:"imagen"`
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	var req recordRequest
	if !h.decode(w, r, &req) {
		return
	}
	var image []byte
	if req.Image != "" {
		var err error
		image, err = base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			httpx.FieldErrors(w, map[string]string{"imagen": "base64"})
			return
		}
	}
	record, err := h.service.Register(r.Context(), Record{
		Plate:         req.Plate,
		Event:         Event(req.Event),
		DoorID:        req.DoorID,
		VehicleTypeID: req.VehicleTypeID,
		ColorID:       req.ColorID,
		Observations:  req.Observations,
		RegisteredBy:  actor.ID,
	}, image)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

type processImageRequest struct {
	Image string `json:"imagen" validate:"required"`
}

func (h *Handler) processImage(w http.ResponseWriter, r *http.Request) {
	var req processImageRequest
	if !h.decode(w, r, &req) {
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		httpx.FieldErrors(w, map[string]string{"imagen": "base64"})
		return
	}
	detection, err := h.service.ProcessImage(r.Context(), image)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detection)
}

func (h *Handler) visionHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.VisionHealth(r.Context()); err != nil {
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"estado": "no disponible"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"estado": "ok"})
}

// ---- dashboards ----

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) daySummary(w http.ResponseWriter, r *http.Request) {
	var day time.Time
	if raw := r.URL.Query().Get("fecha"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.FieldErrors(w, map[string]string{"fecha": "formato AAAA-MM-DD"})
			return
		}
		day = parsed
	}
	summary, err := h.service.DaySummary(r.Context(), day)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) countByDay(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("dias"))
	counts, err := h.service.CountByDay(r.Context(), days)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if counts == nil {
		counts = []DaySummary{}
	}
	httpx.JSON(w, http.StatusOK, counts)
}

func (h *Handler) searchPlate(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.SearchPlate(r.Context(), r.URL.Query().Get("placa"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpx.JSON(w, http.StatusOK, records)
}

// ---- helpers ----

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cuerpo JSON inválido")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		httpx.FieldErrors(w, fields)
		return false
	}
	return true
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
