package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health checks and CDS Hooks discovery,
// which EHRs call before any token exchange.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/db":    true,
	"/cds-services": true,
}

// AuthSkipper reports whether the matched route is public. Only safe methods
// are skipped.
func AuthSkipper(c echo.Context) bool {
	return c.Request().Method == http.MethodGet && publicPaths[c.Path()]
}
