// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"ai-proxy-go/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/ai-proxy/config.toml",
	"configs/config.toml",
}

// placeholderKey is the value shipped in the example config.
const placeholderKey = "YOUR_API_KEY_HERE"

// DefaultGeminiGenerateURL is the generateContent endpoint used when none is configured.
const DefaultGeminiGenerateURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent"

// reservedPaths cannot be claimed by gateway routes or the metrics endpoint.
var reservedPaths = []string{"/", "/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config            string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host              string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port              int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel          string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	GeminiAPIKey      string   `kong:"help='Gemini API key (overrides config).',env='GEMINI_API_KEY'"`
	GeminiAPIURL      string   `kong:"help='Gemini URL for the /gemini route (overrides config).',env='GEMINI_API_URL'"`
	GeminiGenerateURL string   `kong:"help='Gemini generateContent URL (overrides config).',env='GEMINI_GENERATE_URL'"`
	ChatGPTAPIKey     string   `kong:"help='ChatGPT API key (overrides config).',env='CHATGPT_API_KEY'"`
	ChatGPTAPIURL     string   `kong:"help='ChatGPT chat completions URL (overrides config).',env='CHATGPT_API_URL'"`
	InternalAPIKey    string   `kong:"help='Shared secret for gated routes (overrides config).',env='INTERNAL_API_KEY'"`
	AllowedOrigins    []string `kong:"help='Allowed CORS origins, comma separated (overrides config).',env='ALLOWED_ORIGINS'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Gemini   GeminiConfig   `toml:"gemini"`
	ChatGPT  ChatGPTConfig  `toml:"chatgpt"`
	CORS     CORSConfig     `toml:"cors"`
	Auth     AuthConfig     `toml:"auth"`
	Routes   []RouteConfig  `toml:"routes"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds outbound connection settings shared by all routes.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// GeminiConfig holds Gemini credentials and endpoints.
type GeminiConfig struct {
	APIKey          string `toml:"api_key"`
	APIURL          string `toml:"api_url"`
	GenerateURL     string `toml:"generate_url"`
	MaxOutputTokens int    `toml:"max_output_tokens"`
}

// ChatGPTConfig holds ChatGPT credentials and endpoints.
type ChatGPTConfig struct {
	APIKey       string `toml:"api_key"`
	APIURL       string `toml:"api_url"`
	DefaultModel string `toml:"default_model"`
}

// CORSConfig holds the origin allow-list and preflight settings.
type CORSConfig struct {
	AllowedOrigins     []string `toml:"allowed_origins"`
	AllowMissingOrigin bool     `toml:"allow_missing_origin"`
	AllowedMethods     []string `toml:"allowed_methods"`
	AllowedHeaders     []string `toml:"allowed_headers"`
	MaxAgeSeconds      int      `toml:"max_age_seconds"`
}

// AuthConfig holds the shared secret checked on shared_secret routes.
type AuthConfig struct {
	InternalAPIKey string `toml:"internal_api_key"`
	Header         string `toml:"header"`
}

// RouteConfig declares one gateway route. Provider, when set, fills URL and
// APIKey from the matching provider section.
type RouteConfig struct {
	Name            string `toml:"name"`
	Path            string `toml:"path"`
	Provider        string `toml:"provider"`
	URL             string `toml:"url"`
	APIKey          string `toml:"api_key"`
	KeyPlacement    string `toml:"key_placement"`
	Auth            string `toml:"auth"`
	Transform       string `toml:"transform"`
	Model           string `toml:"model"`
	MaxOutputTokens int    `toml:"max_output_tokens"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/ai-proxy/config.toml then configs/config.toml. Finding none is not an
// error: the gateway then runs on defaults plus environment overrides.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.GeminiAPIKey != "" {
		c.Gemini.APIKey = cli.GeminiAPIKey
	}
	if cli.GeminiAPIURL != "" {
		c.Gemini.APIURL = cli.GeminiAPIURL
	}
	if cli.GeminiGenerateURL != "" {
		c.Gemini.GenerateURL = cli.GeminiGenerateURL
	}
	if cli.ChatGPTAPIKey != "" {
		c.ChatGPT.APIKey = cli.ChatGPTAPIKey
	}
	if cli.ChatGPTAPIURL != "" {
		c.ChatGPT.APIURL = cli.ChatGPTAPIURL
	}
	if cli.InternalAPIKey != "" {
		c.Auth.InternalAPIKey = cli.InternalAPIKey
	}
	if len(cli.AllowedOrigins) > 0 {
		c.CORS.AllowedOrigins = cli.AllowedOrigins
	}
}

func (c *Config) validate() error {
	for field, key := range map[string]string{
		"gemini.api_key":        c.Gemini.APIKey,
		"chatgpt.api_key":       c.ChatGPT.APIKey,
		"auth.internal_api_key": c.Auth.InternalAPIKey,
	} {
		if key == placeholderKey {
			return fmt.Errorf("%s contains placeholder value; set a real key or leave it empty", field)
		}
	}

	for field, raw := range map[string]string{
		"gemini.api_url":      c.Gemini.APIURL,
		"gemini.generate_url": c.Gemini.GenerateURL,
		"chatgpt.api_url":     c.ChatGPT.APIURL,
	} {
		if err := validateUpstreamURL(field, raw); err != nil {
			return err
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Gemini.MaxOutputTokens < 0 {
		return fmt.Errorf("gemini.max_output_tokens must be non-negative; got %d", c.Gemini.MaxOutputTokens)
	}
	if c.CORS.MaxAgeSeconds < 0 {
		return fmt.Errorf("cors.max_age_seconds must be non-negative; got %d", c.CORS.MaxAgeSeconds)
	}

	for _, o := range c.CORS.AllowedOrigins {
		if err := validateOrigin(o); err != nil {
			return err
		}
	}

	if err := c.validateRoutes(); err != nil {
		return err
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range append(append([]string{}, reservedPaths...), c.RoutePaths()...) {
			if p == reserved {
				return fmt.Errorf("metrics.path %q conflicts with route %q", p, reserved)
			}
		}
	}

	return nil
}

func (c *Config) validateRoutes() error {
	names := make(map[string]bool, len(c.Routes))
	paths := make(map[string]bool, len(c.Routes))

	for i, r := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)

		if r.Name == "" {
			return fmt.Errorf("%s.name is required", field)
		}
		if names[r.Name] {
			return fmt.Errorf("%s.name %q is duplicated", field, r.Name)
		}
		names[r.Name] = true

		if r.Path == "" || r.Path[0] != '/' {
			return fmt.Errorf("%s.path must start with '/'; got %q", field, r.Path)
		}
		if paths[r.Path] {
			return fmt.Errorf("%s.path %q is duplicated", field, r.Path)
		}
		paths[r.Path] = true
		for _, reserved := range reservedPaths {
			if r.Path == reserved {
				return fmt.Errorf("%s.path %q is reserved", field, r.Path)
			}
		}

		switch r.Provider {
		case "", "gemini", "chatgpt":
		default:
			return fmt.Errorf("%s.provider must be one of: gemini, chatgpt; got %q", field, r.Provider)
		}
		switch model.CredentialPlacement(r.KeyPlacement) {
		case "", model.PlacementBearer, model.PlacementQuery:
		default:
			return fmt.Errorf("%s.key_placement must be one of: bearer, query; got %q", field, r.KeyPlacement)
		}
		switch model.AuthPolicy(r.Auth) {
		case "", model.AuthNone, model.AuthSharedSecret:
		default:
			return fmt.Errorf("%s.auth must be one of: none, shared_secret; got %q", field, r.Auth)
		}
		switch model.BodyTransform(r.Transform) {
		case "", model.TransformPassthrough, model.TransformPromptToMessages, model.TransformGeminiChat:
		default:
			return fmt.Errorf("%s.transform must be one of: passthrough, prompt_to_messages, gemini_chat; got %q", field, r.Transform)
		}

		if r.APIKey == placeholderKey {
			return fmt.Errorf("%s.api_key contains placeholder value", field)
		}
		if err := validateUpstreamURL(field+".url", r.URL); err != nil {
			return err
		}
		if r.MaxOutputTokens < 0 {
			return fmt.Errorf("%s.max_output_tokens must be non-negative; got %d", field, r.MaxOutputTokens)
		}
	}

	return nil
}

// validateUpstreamURL accepts an empty value (route left unconfigured) or an
// absolute http(s) URL.
func validateUpstreamURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host; got %q", field, raw)
	}
	return nil
}

// validateOrigin requires the exact scheme://host[:port] form browsers send.
func validateOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("cors.allowed_origins: %q is not a valid origin: %w", origin, err)
	}
	if u.Scheme == "" || u.Host == "" || u.Path != "" || u.RawQuery != "" {
		return fmt.Errorf("cors.allowed_origins: %q must be scheme://host[:port] without a path", origin)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 25
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Gemini.GenerateURL == "" {
		c.Gemini.GenerateURL = DefaultGeminiGenerateURL
	}
	if c.Gemini.MaxOutputTokens == 0 {
		c.Gemini.MaxOutputTokens = 1000
	}
	if c.ChatGPT.DefaultModel == "" {
		c.ChatGPT.DefaultModel = "gpt-3.5-turbo"
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"POST", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Content-Type", "Authorization", "X-Api-Key"}
	}
	if c.CORS.MaxAgeSeconds == 0 {
		c.CORS.MaxAgeSeconds = 600
	}
	if c.Auth.Header == "" {
		c.Auth.Header = "X-Api-Key"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// ResolveRoutes returns the gateway routes. Without [[routes]] in the config
// file the built-in table (gemini, chatgpt, generate-content, generate) is used.
func (c *Config) ResolveRoutes() []model.Route {
	if len(c.Routes) == 0 {
		return c.defaultRoutes()
	}

	routes := make([]model.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		routes = append(routes, c.resolveRoute(rc))
	}
	return routes
}

func (c *Config) defaultRoutes() []model.Route {
	return []model.Route{
		{
			Name: "gemini",
			Path: "/gemini",
			Upstream: model.Upstream{
				URL:        c.Gemini.APIURL,
				Credential: c.Gemini.APIKey,
				Placement:  model.PlacementBearer,
			},
			Auth:      model.AuthNone,
			Transform: model.TransformPassthrough,
		},
		{
			Name: "chatgpt",
			Path: "/chatgpt",
			Upstream: model.Upstream{
				URL:        c.ChatGPT.APIURL,
				Credential: c.ChatGPT.APIKey,
				Placement:  model.PlacementBearer,
			},
			Auth:         model.AuthNone,
			Transform:    model.TransformPromptToMessages,
			DefaultModel: c.ChatGPT.DefaultModel,
		},
		{
			Name: "generate-content",
			Path: "/api/generateContent",
			Upstream: model.Upstream{
				URL:        c.Gemini.GenerateURL,
				Credential: c.Gemini.APIKey,
				Placement:  model.PlacementQuery,
			},
			Auth:      model.AuthNone,
			Transform: model.TransformPassthrough,
		},
		{
			Name: "generate",
			Path: "/api/generate",
			Upstream: model.Upstream{
				URL:        c.Gemini.GenerateURL,
				Credential: c.Gemini.APIKey,
				Placement:  model.PlacementQuery,
			},
			Auth:            model.AuthSharedSecret,
			Transform:       model.TransformGeminiChat,
			MaxOutputTokens: c.Gemini.MaxOutputTokens,
		},
	}
}

func (c *Config) resolveRoute(rc RouteConfig) model.Route {
	target, key := rc.URL, rc.APIKey
	switch rc.Provider {
	case "gemini":
		if target == "" {
			target = c.Gemini.APIURL
		}
		if key == "" {
			key = c.Gemini.APIKey
		}
	case "chatgpt":
		if target == "" {
			target = c.ChatGPT.APIURL
		}
		if key == "" {
			key = c.ChatGPT.APIKey
		}
	}

	r := model.Route{
		Name: rc.Name,
		Path: rc.Path,
		Upstream: model.Upstream{
			URL:        target,
			Credential: key,
			Placement:  model.CredentialPlacement(rc.KeyPlacement),
		},
		Auth:            model.AuthPolicy(rc.Auth),
		Transform:       model.BodyTransform(rc.Transform),
		DefaultModel:    rc.Model,
		MaxOutputTokens: rc.MaxOutputTokens,
	}
	if r.Upstream.Placement == "" {
		r.Upstream.Placement = model.PlacementBearer
	}
	if r.Auth == "" {
		r.Auth = model.AuthNone
	}
	if r.Transform == "" {
		r.Transform = model.TransformPassthrough
	}
	if r.DefaultModel == "" {
		r.DefaultModel = c.ChatGPT.DefaultModel
	}
	if r.MaxOutputTokens == 0 {
		r.MaxOutputTokens = c.Gemini.MaxOutputTokens
	}
	return r
}

// RoutePaths returns the inbound paths of all gateway routes.
func (c *Config) RoutePaths() []string {
	if len(c.Routes) == 0 {
		return []string{"/gemini", "/chatgpt", "/api/generateContent", "/api/generate"}
	}
	paths := make([]string, 0, len(c.Routes))
	for _, r := range c.Routes {
		paths = append(paths, r.Path)
	}
	return paths
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnIncomplete logs routes that will answer server_misconfigured and an
// empty origin allow-list, which makes every browser request fail with 403.
func (c *Config) WarnIncomplete(logger *slog.Logger) {
	for _, r := range c.ResolveRoutes() {
		if !r.Upstream.Configured() {
			logger.Warn("route has no upstream url or api key; requests will fail with 500",
				"route", r.Name,
				"path", r.Path,
			)
		}
		if r.Auth == model.AuthSharedSecret && c.Auth.InternalAPIKey == "" {
			logger.Warn("route requires a shared secret but auth.internal_api_key is empty",
				"route", r.Name,
				"path", r.Path,
			)
		}
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		logger.Warn("cors.allowed_origins is empty; all browser origins will be rejected")
	}
}
