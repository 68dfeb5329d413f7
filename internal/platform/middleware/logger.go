package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger attaches a request-scoped logger carrying the request id to the
// request context, so handlers can reach it with zerolog.Ctx, and writes one
// access line per request once the response status is final. The route
// template is logged instead of the raw path so patient ids stay out of
// access logs.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			reqLog := logger.With().Str("request_id", RequestIDFrom(c)).Logger()
			c.SetRequest(req.WithContext(reqLog.WithContext(req.Context())))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			var evt *zerolog.Event
			switch {
			case res.Status >= 500:
				evt = reqLog.Error()
			case res.Status >= 400:
				evt = reqLog.Warn()
			default:
				evt = reqLog.Info()
			}
			evt.
				AnErr("error", err).
				Str("method", req.Method).
				Str("route", c.Path()).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return nil
		}
	}
}
