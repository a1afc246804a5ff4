// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// AuthPolicy selects how callers of a route are authenticated.
type AuthPolicy string

const (
	AuthNone         AuthPolicy = "none"
	AuthSharedSecret AuthPolicy = "shared_secret"
)

// BodyTransform selects how the inbound body is reshaped before forwarding.
type BodyTransform string

const (
	TransformPassthrough      BodyTransform = "passthrough"
	TransformPromptToMessages BodyTransform = "prompt_to_messages"
	TransformGeminiChat       BodyTransform = "gemini_chat"
)

// CredentialPlacement selects where the upstream credential is attached.
type CredentialPlacement string

const (
	PlacementBearer CredentialPlacement = "bearer"
	PlacementQuery  CredentialPlacement = "query"
)

// Upstream is the target a route forwards to.
type Upstream struct {
	URL        string
	Credential string
	Placement  CredentialPlacement
}

// Configured reports whether both the URL and the credential are set.
func (u Upstream) Configured() bool {
	return u.URL != "" && u.Credential != ""
}

// Route binds an inbound path to an upstream and its gate/transform policies.
type Route struct {
	Name      string
	Path      string
	Upstream  Upstream
	Auth      AuthPolicy
	Transform BodyTransform

	// DefaultModel is used by prompt_to_messages when the body names none.
	DefaultModel string
	// MaxOutputTokens is sent as generationConfig.maxOutputTokens by gemini_chat.
	MaxOutputTokens int
}

// ForwardRequest represents a client request to be forwarded upstream.
type ForwardRequest struct {
	Ctx   context.Context
	Route *Route
	Body  []byte
}

// ForwardResponse represents the upstream response to be relayed back.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
