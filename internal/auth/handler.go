package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatekeep-api/gatekeep/internal/platform/httpx"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router. The public
// middleware throttles the anonymous endpoints; the protected middleware
// authenticates and throttles the token-bound ones.
func (h *Handler) MountRoutes(r chi.Router, public, protected func(http.Handler) http.Handler) {
	r.With(public).Post("/register", h.handleRegister)
	r.With(public).Post("/login", h.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(protected)
		r.Get("/profile", h.handleProfile)
		r.Post("/logout", h.handleLogout)
		r.Post("/logout-all", h.handleLogoutAll)
	})
}

type registerRequest struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionData struct {
	User      rbac.Profile `json:"user"`
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusUnprocessableEntity, "Malformed request body")
		return
	}
	if fieldErrors := h.validate(req); fieldErrors != nil {
		httpx.FailWith(w, http.StatusUnprocessableEntity, "Validation errors", fieldErrors)
		return
	}

	profile, token, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.logError("register", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, "User registered successfully", sessionData{
		User:      profile,
		Token:     token,
		TokenType: "Bearer",
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusUnprocessableEntity, "Malformed request body")
		return
	}
	if fieldErrors := h.validate(req); fieldErrors != nil {
		httpx.FailWith(w, http.StatusUnprocessableEntity, "Validation errors", fieldErrors)
		return
	}

	profile, token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logError("login", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Login successful", sessionData{
		User:      profile,
		Token:     token,
		TokenType: "Bearer",
	})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.Fail(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}
	profile, err := h.service.Profile(r.Context(), identity.UserID)
	if err != nil {
		h.logError("profile", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", map[string]any{"user": profile})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if err := h.service.Logout(r.Context(), identity); err != nil {
		h.logError("logout", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Logged out successfully", nil)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if err := h.service.LogoutAll(r.Context(), identity); err != nil {
		h.logError("logout all", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Logged out from all devices successfully", nil)
}

func (h *Handler) validate(req any) map[string]string {
	err := h.validator.Struct(req)
	if err == nil {
		return nil
	}
	fieldErrors := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldErr := range validationErrors {
			fieldErrors[fieldErr.Field()] = fieldErr.Error()
		}
	} else {
		fieldErrors["general"] = "invalid request"
	}
	return fieldErrors
}

func (h *Handler) logError(op string, err error) {
	if h.logger != nil {
		h.logger.Warn("auth "+op, slog.Any("error", err))
	}
}
