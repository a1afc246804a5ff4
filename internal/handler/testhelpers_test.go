package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"ai-proxy-go/internal/client"
	"ai-proxy-go/internal/config"
	"ai-proxy-go/internal/service"
)

const (
	testOrigin       = "https://grupobhds.com"
	testGeminiKey    = "gemini-secret-key-123"
	testChatGPTKey   = "chatgpt-secret-key-456"
	testInternalKey  = "internal-shared-secret"
	testGeminiReply  = `{"candidates":[{"content":{"parts":[{"text":"Olá"},{"text":" mundo"}]}}]}`
	testChatGPTReply = `{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`
)

// recordedCall is an inbound request as seen by the fake upstream.
type recordedCall struct {
	path   string
	query  string
	header http.Header
	body   string
}

type testGateway struct {
	e        *echo.Echo
	cfg      *config.Config
	upstream *httptest.Server
	calls    atomic.Int32
	last     atomic.Pointer[recordedCall]
}

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10},
		Gemini: config.GeminiConfig{
			APIKey:          testGeminiKey,
			APIURL:          upstreamURL + "/gemini",
			GenerateURL:     upstreamURL + "/generate",
			MaxOutputTokens: 1000,
		},
		ChatGPT: config.ChatGPTConfig{
			APIKey:       testChatGPTKey,
			APIURL:       upstreamURL + "/chat",
			DefaultModel: "gpt-3.5-turbo",
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{testOrigin},
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Api-Key"},
			MaxAgeSeconds:  600,
		},
		Auth: config.AuthConfig{InternalAPIKey: testInternalKey, Header: "X-Api-Key"},
	}
}

// newTestGateway starts a fake upstream served by fn and wires the full route
// table against it. mutate, if non-nil, adjusts the config before wiring.
func newTestGateway(t *testing.T, fn http.HandlerFunc, mutate func(*config.Config)) *testGateway {
	t.Helper()

	tg := &testGateway{}
	tg.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		tg.calls.Add(1)
		tg.last.Store(&recordedCall{
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   string(body),
		})
		fn(w, r)
	}))
	t.Cleanup(tg.upstream.Close)

	tg.cfg = testConfig(tg.upstream.URL)
	if mutate != nil {
		mutate(tg.cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := client.NewUpstreamClient(tg.cfg, logger, nil)
	svc := service.NewGatewayService(uc, logger)

	tg.e = echo.New()
	RegisterRoutes(tg.e, tg.cfg, NewGatewayHandler(svc, logger), NewHealthHandler(tg.cfg, "test"), nil, logger)
	return tg
}

func (tg *testGateway) post(path, origin, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	tg.e.ServeHTTP(rec, req)
	return rec
}

// fakeUpstream answers like the real providers, keyed on path.
func fakeUpstream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/generate":
		_, _ = w.Write([]byte(testGeminiReply))
	case "/chat":
		_, _ = w.Write([]byte(testChatGPTReply))
	default:
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
