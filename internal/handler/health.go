package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"ai-proxy-go/internal/config"
	"ai-proxy-go/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// routeStatus describes a gateway route without exposing its upstream.
type routeStatus struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Transform  string `json:"transform"`
	Auth       string `json:"auth"`
	Configured bool   `json:"configured"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Root answers plain-text liveness checks on "/".
func (h *HealthHandler) Root(c echo.Context) error {
	return c.String(http.StatusOK, "ai-proxy is up")
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status information. Upstream URLs and credentials
// are never included.
func (h *HealthHandler) Status(c echo.Context) error {
	var routes []routeStatus
	for _, r := range h.cfg.ResolveRoutes() {
		routes = append(routes, routeStatus{
			Name:       r.Name,
			Path:       r.Path,
			Transform:  string(r.Transform),
			Auth:       string(r.Auth),
			Configured: r.Upstream.Configured() && (r.Auth != model.AuthSharedSecret || h.cfg.Auth.InternalAPIKey != ""),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": string(h.version),
		"routes":  routes,
	})
}
