package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// SecurityHeaders hardens every response. The API only serves JSON and the
// notification socket, so nothing may be framed or embedded, and responses
// carrying screening data are never cached. HSTS is sent only when hsts is
// set, since development runs over plain HTTP.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	cfg := echomw.SecureConfig{
		XSSProtection:         "0",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}
	if hsts {
		cfg.HSTSMaxAge = 31536000
	}
	secure := echomw.SecureWithConfig(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := secure(next)
		return func(c echo.Context) error {
			header := c.Response().Header()
			header.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			header.Set(echo.HeaderCacheControl, "no-store")
			return h(c)
		}
	}
}
