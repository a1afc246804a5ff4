package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"ai-proxy-go/internal/model"
	"ai-proxy-go/internal/service"
)

// keyParamPattern matches key query parameter values in URLs embedded in error messages.
var keyParamPattern = regexp.MustCompile(`(?i)([?&]key=)[^&\s"]+`)

// missingPromptMessage is the 400 body for reshaping routes without a prompt.
const missingPromptMessage = "Nenhum prompt foi fornecido."

// GatewayHandler relays gateway routes to their upstream.
type GatewayHandler struct {
	service *service.GatewayService
	logger  *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(svc *service.GatewayService, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service: svc,
		logger:  logger.With("component", "gateway_handler"),
	}
}

// Handle returns the Echo handler for route. It forwards the body upstream and
// relays the upstream status, Content-Type and body unchanged.
func (h *GatewayHandler) Handle(route model.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		body, err := io.ReadAll(req.Body)
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he
			}
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error":   "invalid_body",
				"message": "could not read request body",
			})
		}

		resp, err := h.service.Forward(&model.ForwardRequest{
			Ctx:   req.Context(),
			Route: &route,
			Body:  body,
		})
		if err != nil {
			return h.mapError(c, &route, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if ct := resp.Header.Get(echo.HeaderContentType); ct != "" {
			c.Response().Header().Set(echo.HeaderContentType, ct)
		}
		c.Response().WriteHeader(resp.StatusCode)

		// The status is already sent; a failed copy leaves the client with a
		// truncated body, so it is only logged.
		if _, err := io.Copy(c.Response(), resp.Body); err != nil {
			h.logger.Error("relaying response body",
				"err", sanitizeError(err, route.Upstream.Credential),
				"route", route.Name,
			)
		}

		return nil
	}
}

func (h *GatewayHandler) mapError(c echo.Context, route *model.Route, err error) error {
	msg := sanitizeError(err, route.Upstream.Credential)

	var upErr *service.UpstreamError
	switch {
	case errors.Is(err, service.ErrMissingPrompt):
		h.logger.Debug("request rejected", "err", msg, "route", route.Name)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": missingPromptMessage,
		})

	case errors.Is(err, service.ErrInvalidJSON):
		h.logger.Debug("request rejected", "err", msg, "route", route.Name)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "invalid_json",
			"message": msg,
		})

	case errors.Is(err, service.ErrMisconfigured):
		h.logger.Error("route misconfigured", "err", msg, "route", route.Name)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "server_misconfigured",
			"message": msg,
		})

	case errors.As(err, &upErr):
		h.logger.Error("upstream request failed", "err", msg, "kind", upErr.Kind, "route", route.Name)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error":   upErr.Kind,
			"message": msg,
		})

	case errors.Is(err, service.ErrBadUpstreamResponse):
		h.logger.Error("unusable upstream response", "err", msg, "route", route.Name)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error":   "bad_upstream_response",
			"message": msg,
		})
	}

	h.logger.Error("gateway error", "err", msg, "route", route.Name)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   "internal_error",
		"message": msg,
	})
}

// sanitizeError redacts the route credential and any key query parameter
// from error messages that may embed upstream URLs.
func sanitizeError(err error, credential string) string {
	msg := err.Error()
	if credential != "" {
		msg = strings.ReplaceAll(msg, credential, "[REDACTED]")
	}
	return keyParamPattern.ReplaceAllString(msg, "${1}[REDACTED]")
}
