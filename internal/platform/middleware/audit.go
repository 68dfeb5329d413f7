package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/platform/auth"
)

// Audit logs a phi_access event for every request on the routes it wraps.
// The patient comes from the :id route parameter when the route has one.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			req := c.Request()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", RequestIDFrom(c)).
				Str("user_id", auth.UserIDFromContext(req.Context())).
				Strs("user_roles", auth.RolesFromContext(req.Context())).
				Str("patient_id", c.Param("id")).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Msg("phi_access")

			return err
		}
	}
}
