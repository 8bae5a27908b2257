package rbac

import (
	"log/slog"
	"net/http"

	"github.com/gatekeep-api/gatekeep/internal/platform/httpx"
	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// Middleware wires authorization checks for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAnyRole ensures the current user holds at least one of the named
// roles.
func (m Middleware) RequireAnyRole(roleNames ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := shared.IdentityFromContext(r.Context())
			if identity == nil {
				httpx.Fail(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}
			ok, err := m.Service.HasAnyRole(r.Context(), identity.UserID, roleNames...)
			if err != nil {
				m.logError("require role", err)
				httpx.RespondError(w, err)
				return
			}
			if !ok {
				httpx.FailWith(w, http.StatusForbidden,
					"Forbidden. You do not have the required role.",
					map[string]any{"required_roles": roleNames})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission ensures the current user holds at least one of the
// named permissions. The 403 payload names what was required versus held.
func (m Middleware) RequireAnyPermission(permissionNames ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissionList(permissionNames)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			identity := shared.IdentityFromContext(r.Context())
			if identity == nil {
				httpx.Fail(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}
			ok, err := m.Service.HasAnyPermission(r.Context(), identity.UserID, normalized...)
			if err != nil {
				m.logError("require permission", err)
				httpx.RespondError(w, err)
				return
			}
			if !ok {
				held, err := m.Service.EffectivePermissions(r.Context(), identity.UserID)
				if err != nil {
					held = nil
				}
				httpx.FailWith(w, http.StatusForbidden,
					"Forbidden. You do not have the required permission.",
					map[string]any{
						"required_permissions": normalized,
						"user_permissions":     held,
					})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logError(op string, err error) {
	if m.Logger != nil {
		m.Logger.Error("rbac "+op, slog.Any("error", err))
	}
}

func normalizePermissionList(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		name = normalizeName(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	return normalized
}
