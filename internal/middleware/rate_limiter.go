package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// connectRate is the sustained websocket upgrade rate allowed per client IP,
// per second. Bursts of the same size are allowed.
const connectRate = 10

// RateLimiter limits how fast a single IP address can open connections. It
// guards the websocket upgrade route against reconnect storms.
func RateLimiter() echo.MiddlewareFunc {
	config := middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStore(connectRate),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			FromContext(c.Request().Context()).Warn("Connection rate limit exceeded", "ip", identifier)
			return c.String(http.StatusTooManyRequests, "Too many connection attempts. Please try again later.")
		},
	}
	return middleware.RateLimiterWithConfig(config)
}
