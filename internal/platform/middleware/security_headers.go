package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Content-Security-Policy values. Dashboard pages load Plotly from its CDN
// and draw each figure from an inline script.
const (
	APIContentPolicy  = "default-src 'none'; frame-ancestors 'none'"
	PageContentPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline' https://cdn.plot.ly; " +
		"style-src 'self' 'unsafe-inline'; img-src 'self' data: blob:; frame-ancestors 'none'"
)

// SecurityHeaders returns middleware that sets security response headers on
// every request. JSON endpoints under /api and /health get a deny-all
// content policy; everything else is treated as a dashboard page.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if isAPIPath(c.Request().URL.Path) {
				h.Set("Content-Security-Policy", APIContentPolicy)
				// Results are memoized server side.
				h.Set("Cache-Control", "no-store")
			} else {
				h.Set("Content-Security-Policy", PageContentPolicy)
			}

			return next(c)
		}
	}
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/health")
}
