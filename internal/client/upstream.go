// Package client provides the upstream HTTP client for generative-AI APIs.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"ai-proxy-go/internal/config"
	"ai-proxy-go/internal/metrics"
	"ai-proxy-go/internal/model"
)

// Failure kinds reported when no upstream response was obtained.
const (
	KindTimeout = "timeout"
	KindNetwork = "network_error"
)

// UpstreamClient sends requests to the configured upstream APIs.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// route labels the upstream metrics. The caller is responsible for closing the
// response body.
func (c *UpstreamClient) Do(route string, req *http.Request) (*model.ForwardResponse, error) {
	c.logger.Debug("upstream request",
		"route", route,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ForwardResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(route).Observe(duration)
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamErrors.WithLabelValues(route, ErrorKind(err)).Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Post sends body as a POST to url and returns the response as a stream.
// The caller is responsible for closing the returned body. The provided
// context bounds the upstream call together with the client timeout.
func (c *UpstreamClient) Post(ctx context.Context, route, url string, header http.Header, body []byte) (*model.ForwardResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(route, req)
}

// ErrorKind classifies a failed upstream call as KindTimeout or KindNetwork.
func ErrorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
