package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
)

const defaultBodyLimit = "1M"

// BodyLimit caps request bodies at limit ("1M", "512K", "2048"). Oversized
// bodies get 413 whether or not Content-Length is honest. An unparsable or
// non-positive limit falls back to 1M.
func BodyLimit(limit string) echo.MiddlewareFunc {
	return echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit: normalizeLimit(limit),
	})
}

func normalizeLimit(s string) string {
	n, err := bytes.Parse(s)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return s
}

// limitBytes is the effective limit for s.
func limitBytes(s string) int64 {
	n, _ := bytes.Parse(normalizeLimit(s))
	return n
}
