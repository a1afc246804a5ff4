package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-proxy-go/internal/model"
)

var (
	// ErrMissingPrompt is returned when a reshaping route gets neither prompt nor messages.
	ErrMissingPrompt = errors.New("no prompt provided")
	// ErrInvalidJSON is returned when the inbound body cannot be decoded.
	ErrInvalidJSON = errors.New("invalid JSON body")
	// ErrBadUpstreamResponse is returned when a 2xx upstream body cannot be reduced.
	ErrBadUpstreamResponse = errors.New("unexpected upstream response")
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []json.RawMessage      `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// generateRequest is the simplified body accepted by gemini_chat routes.
type generateRequest struct {
	Prompt  string            `json:"prompt"`
	History []json.RawMessage `json:"history"`
}

// Reshape returns the payload to send upstream for the route's body transform.
func Reshape(route *model.Route, body []byte) ([]byte, error) {
	switch route.Transform {
	case model.TransformPromptToMessages:
		return promptToMessages(body, route.DefaultModel)
	case model.TransformGeminiChat:
		return geminiChat(body, route.MaxOutputTokens)
	default:
		return passthrough(body)
	}
}

func passthrough(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}
	return body, nil
}

// promptToMessages forwards bodies that carry messages unchanged and turns
// {prompt, model?, extra?} into a chat completions request.
func promptToMessages(body []byte, defaultModel string) ([]byte, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	if present(fields["messages"]) {
		return body, nil
	}

	var prompt string
	if raw, ok := fields["prompt"]; ok {
		if err := json.Unmarshal(raw, &prompt); err != nil {
			return nil, fmt.Errorf("%w: prompt must be a string", ErrInvalidJSON)
		}
	}
	if prompt == "" {
		return nil, ErrMissingPrompt
	}

	modelName := defaultModel
	if raw, ok := fields["model"]; ok {
		var m string
		if err := json.Unmarshal(raw, &m); err == nil && m != "" {
			modelName = m
		}
	}

	out := map[string]any{
		"model":    modelName,
		"messages": []chatMessage{{Role: "user", Content: prompt}},
	}

	// Keys under extra are merged last and win over model and messages.
	if raw := fields["extra"]; present(raw) {
		var extra map[string]json.RawMessage
		if err := json.Unmarshal(raw, &extra); err != nil {
			return nil, fmt.Errorf("%w: extra must be an object", ErrInvalidJSON)
		}
		for k, v := range extra {
			out[k] = v
		}
	}

	return json.Marshal(out)
}

// geminiChat turns {prompt, history?} into a generateContent request.
func geminiChat(body []byte, maxOutputTokens int) ([]byte, error) {
	var in generateRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}
	if in.Prompt == "" {
		return nil, ErrMissingPrompt
	}

	turn, err := json.Marshal(geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: in.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	req := geminiRequest{
		Contents:         append(append(make([]json.RawMessage, 0, len(in.History)+1), in.History...), turn),
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: maxOutputTokens},
	}
	return json.Marshal(req)
}

// ExtractGeminiText concatenates the text parts of the first candidate.
func ExtractGeminiText(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadUpstreamResponse, err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrBadUpstreamResponse)
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(body)) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidJSON)
	}
	return fields, nil
}

// present reports whether a raw field was sent with a non-null value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
