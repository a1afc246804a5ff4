// Package service implements the core forwarding logic of the gateway.
package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"ai-proxy-go/internal/client"
	"ai-proxy-go/internal/model"
)

// ErrMisconfigured is returned when a route lacks its upstream URL or credential.
var ErrMisconfigured = errors.New("server misconfigured")

// maxReducedBodyBytes caps how much of an upstream reply is buffered for reduction.
const maxReducedBodyBytes = 10 * 1024 * 1024

const userAgent = "ai-proxy-go/1.0"

// forwardableResponseHeaders are the only response headers relayed to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type": true,
}

// UpstreamError reports an upstream call that failed before any response.
// Kind is client.KindTimeout or client.KindNetwork.
type UpstreamError struct {
	Kind string
	Err  error
}

func (e *UpstreamError) Error() string {
	return e.Kind + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// GatewayService forwards inbound requests to their route's upstream.
type GatewayService struct {
	client *client.UpstreamClient
	logger *slog.Logger
}

// NewGatewayService creates a GatewayService.
func NewGatewayService(c *client.UpstreamClient, logger *slog.Logger) *GatewayService {
	return &GatewayService{
		client: c,
		logger: logger.With("component", "gateway_service"),
	}
}

// Forward reshapes the request body, attaches the route credential and sends
// a single POST upstream. Upstream responses of any status are returned as is;
// only transport failures are errors. The caller closes the response body.
func (s *GatewayService) Forward(fr *model.ForwardRequest) (*model.ForwardResponse, error) {
	route := fr.Route
	if !route.Upstream.Configured() {
		return nil, fmt.Errorf("%w: upstream url or api key not set for route %q", ErrMisconfigured, route.Name)
	}

	payload, err := Reshape(route, fr.Body)
	if err != nil {
		return nil, err
	}

	target, err := buildUpstreamURL(route.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: route %q: %v", ErrMisconfigured, route.Name, err)
	}

	s.logger.Debug("forwarding request",
		"route", route.Name,
		"transform", route.Transform,
		"bytes", len(payload),
	)

	resp, err := s.client.Post(fr.Ctx, route.Name, target, buildRequestHeader(route.Upstream), payload)
	if err != nil {
		return nil, &UpstreamError{Kind: client.ErrorKind(err), Err: err}
	}

	resp.Header = filterResponseHeaders(resp.Header)

	if route.Transform == model.TransformGeminiChat && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return reduceGeminiReply(resp)
	}
	return resp, nil
}

// buildUpstreamURL appends the credential as the key query parameter for
// query placement; bearer routes use the configured URL unchanged.
func buildUpstreamURL(up model.Upstream) (string, error) {
	if up.Placement != model.PlacementQuery {
		return up.URL, nil
	}

	u, err := url.Parse(up.URL)
	if err != nil {
		return "", errors.New("upstream url is not valid")
	}
	q := u.Query()
	q.Set("key", up.Credential)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func buildRequestHeader(up model.Upstream) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("User-Agent", userAgent)
	if up.Placement != model.PlacementQuery {
		h.Set("Authorization", "Bearer "+up.Credential)
	}
	return h
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}

// reduceGeminiReply replaces a generateContent reply with {"text": ...}.
func reduceGeminiReply(resp *model.ForwardResponse) (*model.ForwardResponse, error) {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReducedBodyBytes))
	if err != nil {
		return nil, &UpstreamError{Kind: client.ErrorKind(err), Err: fmt.Errorf("read upstream body: %w", err)}
	}

	text, err := ExtractGeminiText(raw)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json; charset=utf-8")
	return &model.ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}, nil
}
