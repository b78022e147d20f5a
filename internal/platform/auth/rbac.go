package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole rejects requests whose token carries none of the allowed roles.
// Admins always pass.
func RequireRole(allowed ...string) echo.MiddlewareFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := RolesFromContext(c.Request().Context())
			for _, r := range roles {
				if r == RoleAdmin {
					return next(c)
				}
				if _, ok := allowedSet[r]; ok {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
		}
	}
}
