package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass authentication and access
// resolution.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/metrics":           true,
	"/api/v1/auth/login": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication. Pass it as the Skipper on JWTConfig and RequireAccess.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
