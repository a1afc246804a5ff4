package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"ai-proxy-go/internal/config"
)

// SharedSecret returns an Echo middleware that admits only requests whose
// cfg.Header value equals cfg.InternalAPIKey. The comparison is constant time.
func SharedSecret(cfg config.AuthConfig) echo.MiddlewareFunc {
	header := cfg.Header
	if header == "" {
		header = "X-Api-Key"
	}
	secret := []byte(cfg.InternalAPIKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(secret) == 0 {
				return c.JSON(http.StatusInternalServerError, map[string]string{
					"error":   "server_misconfigured",
					"message": "shared secret is not set on server",
				})
			}

			got := []byte(c.Request().Header.Get(header))
			if subtle.ConstantTimeCompare(got, secret) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Acesso não autorizado.",
				})
			}
			return next(c)
		}
	}
}
