package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"ai-proxy-go/internal/config"
)

// errOriginNotAllowed is the body sent with every 403 from the origin gate.
var errOriginNotAllowed = map[string]string{"error": "Origin not allowed"}

// OriginGate returns an Echo middleware that enforces the exact-match origin
// allow-list and answers CORS preflight requests. Allowed origins are echoed
// back, never "*". Requests without an Origin header are rejected unless
// cfg.AllowMissingOrigin is set.
func OriginGate(cfg config.CORSConfig, logger *slog.Logger) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}

	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAgeSeconds)
	logger = logger.With("component", "origin_gate")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			origin := req.Header.Get(echo.HeaderOrigin)

			if origin == "" {
				if !cfg.AllowMissingOrigin {
					logger.Warn("request without origin denied", "path", req.URL.Path)
					return c.JSON(http.StatusForbidden, errOriginNotAllowed)
				}
				if req.Method == http.MethodOptions {
					return c.NoContent(http.StatusNoContent)
				}
				return next(c)
			}

			if _, ok := allowed[origin]; !ok {
				logger.Warn("origin denied", "origin", origin, "path", req.URL.Path)
				return c.JSON(http.StatusForbidden, errOriginNotAllowed)
			}

			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			h.Add(echo.HeaderVary, echo.HeaderOrigin)
			h.Set(echo.HeaderAccessControlAllowMethods, methods)
			h.Set(echo.HeaderAccessControlAllowHeaders, headers)
			h.Set(echo.HeaderAccessControlMaxAge, maxAge)

			if req.Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}
