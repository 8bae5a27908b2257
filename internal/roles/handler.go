package roles

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

// Handler manages role management endpoints.
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

// MountRoutes registers role routes. Reads run behind the response cache;
// mutations never touch it.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAnyPermission("view roles"))
		r.With(h.responses.Middleware).Get("/", h.listRoles)
		r.With(h.responses.Middleware).Get("/{id}", h.getRole)
	})
	r.With(h.rbac.RequireAnyPermission("create roles")).Post("/", h.createRole)
	r.With(h.rbac.RequireAnyPermission("edit roles")).Put("/{id}", h.updateRole)
	r.With(h.rbac.RequireAnyPermission("delete roles")).Delete("/{id}", h.deleteRole)
	r.With(h.rbac.RequireAnyPermission("edit roles")).Post("/{id}/assign-permissions", h.assignPermissions)
}

type roleRequest struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Description string  `json:"description" validate:"max=255"`
	Permissions []int64 `json:"permissions" validate:"omitempty,dive,gt=0"`
}

type assignPermissionsRequest struct {
	Permissions []int64 `json:"permissions" validate:"required,dive,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.OK(w, http.StatusCreated, "Role created successfully", role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, req.Name, req.Description, req.Permissions)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role updated successfully", role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role deleted successfully", nil)
}

func (h *Handler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req assignPermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.AssignPermissions(r.Context(), id, req.Permissions)
	if err != nil {
		h.fail(w, "assign permissions", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Permissions assigned successfully", role)
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
		h.logger.Warn("roles "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusNotFound, "Resource not found")
		return 0, false
	}
	return id, true
}
