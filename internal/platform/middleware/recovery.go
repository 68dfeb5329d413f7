package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/platform/fhir"
)

// Recovery turns a handler panic into a 500 OperationOutcome. The panic is
// logged through the request logger when Logger runs inside it, otherwise
// through logger. http.ErrAbortHandler is re-raised for net/http.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				log := zerolog.Ctx(c.Request().Context())
				if log.GetLevel() == zerolog.Disabled {
					l := logger.With().Str("request_id", RequestIDFrom(c)).Logger()
					log = &l
				}
				log.Error().
					Interface("panic", r).
					Str("route", c.Path()).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if !c.Response().Committed {
					err = c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome("internal server error"))
				}
			}()
			return next(c)
		}
	}
}
