package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
)

// RequireRole admits callers whose token role is one of roles.  It must run
// after IdentityGateway.Require.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return apperr.Unauthorized(MsgUnauthenticated)
			}
			if !allowed[id.Role] {
				return apperr.Forbidden("Insufficient permissions")
			}
			return next(c)
		}
	}
}
