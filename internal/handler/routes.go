package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai-proxy-go/internal/config"
	"ai-proxy-go/internal/metrics"
	"ai-proxy-go/internal/middleware"
	"ai-proxy-go/internal/model"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Gateway
// routes accept POST plus OPTIONS for preflight and sit behind the origin
// gate; shared_secret routes also sit behind the shared-secret gate. m may be
// nil when metrics are disabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, gateway *GatewayHandler, health *HealthHandler, m *metrics.Metrics, logger *slog.Logger) {
	e.GET("/", health.Root)
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	originGate := middleware.OriginGate(cfg.CORS, logger)
	for _, route := range cfg.ResolveRoutes() {
		mw := []echo.MiddlewareFunc{originGate}
		if route.Auth == model.AuthSharedSecret {
			mw = append(mw, middleware.SharedSecret(cfg.Auth))
		}
		e.Match([]string{http.MethodPost, http.MethodOptions}, route.Path, gateway.Handle(route), mw...)

		logger.Debug("route registered",
			"route", route.Name,
			"path", route.Path,
			"transform", route.Transform,
			"auth", route.Auth,
		)
	}
}
