package users

import (
	"context"
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

// Handler manages user access administration endpoints.
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

// MountRoutes registers user administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAnyPermission("view users"))
		r.With(h.responses.Middleware).Get("/", h.listUsers)
		r.With(h.responses.Middleware).Get("/{id}", h.getUser)
		r.With(h.responses.Middleware).Get("/{id}/permissions", h.userPermissions)
	})
	r.With(h.rbac.RequireAnyPermission("assign roles")).Post("/{id}/assign-roles", h.assignRoles)
	r.With(h.rbac.RequireAnyPermission("remove roles")).Post("/{id}/remove-roles", h.removeRoles)
	r.With(h.rbac.RequireAnyPermission("assign permissions")).Post("/{id}/assign-permissions", h.assignPermissions)
	r.With(h.rbac.RequireAnyPermission("remove permissions")).Post("/{id}/remove-permissions", h.removePermissions)
}

type rolesRequest struct {
	Roles []int64 `json:"roles" validate:"required,min=1,dive,gt=0"`
}

type permissionsRequest struct {
	Permissions []int64 `json:"permissions" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", detail)
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "user permissions", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", map[string]any{"permissions": perms})
}

func (h *Handler) assignRoles(w http.ResponseWriter, r *http.Request) {
	h.mutateRoles(w, r, "Roles assigned successfully", h.service.AssignRoles)
}

func (h *Handler) removeRoles(w http.ResponseWriter, r *http.Request) {
	h.mutateRoles(w, r, "Roles removed successfully", h.service.RemoveRoles)
}

func (h *Handler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	h.mutatePermissions(w, r, "Permissions assigned successfully", h.service.AssignPermissions)
}

func (h *Handler) removePermissions(w http.ResponseWriter, r *http.Request) {
	h.mutatePermissions(w, r, "Permissions removed successfully", h.service.RemovePermissions)
}

func (h *Handler) mutateRoles(w http.ResponseWriter, r *http.Request, message string, op func(context.Context, int64, []int64) (Detail, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req rolesRequest
	if !h.decode(w, r, &req) {
		return
	}
	detail, err := op(r.Context(), id, req.Roles)
	if err != nil {
		h.fail(w, "mutate roles", err)
		return
	}
	httpx.OK(w, http.StatusOK, message, detail)
}

func (h *Handler) mutatePermissions(w http.ResponseWriter, r *http.Request, message string, op func(context.Context, int64, []int64) (Detail, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req permissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	detail, err := op(r.Context(), id, req.Permissions)
	if err != nil {
		h.fail(w, "mutate permissions", err)
		return
	}
	httpx.OK(w, http.StatusOK, message, detail)
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
		h.logger.Warn("users "+op, slog.Any("error", err))
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
