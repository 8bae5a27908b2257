package permissions

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatekeep-api/gatekeep/internal/platform/httpx"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/respcache"
)

// Handler manages permission registry endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	responses *respcache.Cache
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware, responses *respcache.Cache) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      rbacMW,
		responses: responses,
		validator: validator.New(),
	}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAnyPermission("view permissions"))
		r.With(h.responses.Middleware).Get("/", h.listPermissions)
		r.With(h.responses.Middleware).Get("/{id}", h.getPermission)
	})
	r.With(h.rbac.RequireAnyPermission("create permissions")).Post("/", h.createPermission)
	r.With(h.rbac.RequireAnyPermission("edit permissions")).Put("/{id}", h.updatePermission)
	r.With(h.rbac.RequireAnyPermission("delete permissions")).Delete("/{id}", h.deletePermission)
}

type permissionRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=255"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", perms)
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, "get permission", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", perm)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.OK(w, http.StatusCreated, "Permission created successfully", perm)
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req permissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, req.Name, req.Description)
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Permission updated successfully", perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Permission deleted successfully", nil)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := httpx.DecodeJSON(r, req); err != nil {
		httpx.Fail(w, http.StatusUnprocessableEntity, "Malformed request body")
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		var validationErrors validator.ValidationErrors
		fieldErrors := map[string]string{}
		if errors.As(err, &validationErrors) {
			for _, fieldErr := range validationErrors {
				fieldErrors[fieldErr.Field()] = fieldErr.Error()
			}
		}
		httpx.FailWith(w, http.StatusUnprocessableEntity, "Validation errors", fieldErrors)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn("permissions "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusNotFound, "Resource not found")
		return 0, false
	}
	return id, true
}
