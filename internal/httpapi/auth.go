package httpapi

import (
	"net/http"
	"strings"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/auth"
)

// requireStaff guards reception-only endpoints behind a staff token.
func (h *Handler) requireStaff(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}
		claims, err := auth.ValidateToken(h.jwtSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		if claims.Role != auth.RoleStaff {
			writeError(w, http.StatusForbidden, "access_denied", "staff access required")
			return
		}
		next(w, r)
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
