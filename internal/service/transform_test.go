package service

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"ai-proxy-go/internal/model"
)

func chatRoute() *model.Route {
	return &model.Route{
		Name:         "chatgpt",
		Transform:    model.TransformPromptToMessages,
		DefaultModel: "gpt-3.5-turbo",
	}
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal %q: %v", b, err)
	}
	return v
}

func TestReshape_PromptToMessages(t *testing.T) {
	got, err := Reshape(chatRoute(), []byte(`{"prompt":"hello"}`))
	if err != nil {
		t.Fatalf("Reshape() error = %v", err)
	}

	want := map[string]any{
		"model": "gpt-3.5-turbo",
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
	}
	if !reflect.DeepEqual(decode(t, got), want) {
		t.Errorf("Reshape() = %s, want %v", got, want)
	}
}

func TestReshape_PromptToMessages_ModelAndExtra(t *testing.T) {
	body := []byte(`{"prompt":"hi","model":"gpt-4o","extra":{"temperature":0.2,"max_tokens":50}}`)
	got, err := Reshape(chatRoute(), body)
	if err != nil {
		t.Fatalf("Reshape() error = %v", err)
	}

	v := decode(t, got)
	if v["model"] != "gpt-4o" {
		t.Errorf("model = %v, want %q", v["model"], "gpt-4o")
	}
	if v["temperature"] != 0.2 {
		t.Errorf("temperature = %v, want 0.2", v["temperature"])
	}
	if v["max_tokens"] != float64(50) {
		t.Errorf("max_tokens = %v, want 50", v["max_tokens"])
	}
	if _, ok := v["extra"]; ok {
		t.Error("extra should be flattened, not forwarded")
	}
	if _, ok := v["prompt"]; ok {
		t.Error("prompt should not be forwarded")
	}
}

func TestReshape_PromptToMessages_MessagesPassThrough(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"system","content":"x"}],"prompt":"ignored"}`)
	got, err := Reshape(chatRoute(), body)
	if err != nil {
		t.Fatalf("Reshape() error = %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("Reshape() = %s, want body unchanged", got)
	}
}

func TestReshape_PromptToMessages_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty body", ``, ErrMissingPrompt},
		{"empty object", `{}`, ErrMissingPrompt},
		{"empty prompt", `{"prompt":""}`, ErrMissingPrompt},
		{"null messages", `{"messages":null}`, ErrMissingPrompt},
		{"non-string prompt", `{"prompt":42}`, ErrInvalidJSON},
		{"array body", `[1,2]`, ErrInvalidJSON},
		{"broken json", `{"prompt":`, ErrInvalidJSON},
		{"extra not object", `{"prompt":"x","extra":"y"}`, ErrInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reshape(chatRoute(), []byte(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("Reshape() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReshape_Passthrough(t *testing.T) {
	route := &model.Route{Transform: model.TransformPassthrough}

	body := []byte(`{"contents":[{"parts":[{"text":"hi"}]}]}`)
	got, err := Reshape(route, body)
	if err != nil {
		t.Fatalf("Reshape() error = %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("Reshape() = %s, want verbatim body", got)
	}

	got, err = Reshape(route, nil)
	if err != nil {
		t.Fatalf("Reshape(nil) error = %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("Reshape(nil) = %s, want {}", got)
	}

	if _, err := Reshape(route, []byte("not json")); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Reshape(invalid) error = %v, want ErrInvalidJSON", err)
	}
}

func TestReshape_GeminiChat(t *testing.T) {
	route := &model.Route{Transform: model.TransformGeminiChat, MaxOutputTokens: 1000}
	body := []byte(`{"prompt":"and now?","history":[{"role":"user","parts":[{"text":"hi"}]},{"role":"model","parts":[{"text":"hello"}]}]}`)

	got, err := Reshape(route, body)
	if err != nil {
		t.Fatalf("Reshape() error = %v", err)
	}

	var req struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		GenerationConfig struct {
			MaxOutputTokens int `json:"maxOutputTokens"`
		} `json:"generationConfig"`
	}
	if err := json.Unmarshal(got, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(req.Contents) != 3 {
		t.Fatalf("len(contents) = %d, want 3", len(req.Contents))
	}
	if req.Contents[1].Role != "model" {
		t.Errorf("history order not kept: contents[1].role = %q", req.Contents[1].Role)
	}
	last := req.Contents[2]
	if last.Role != "user" || len(last.Parts) != 1 || last.Parts[0].Text != "and now?" {
		t.Errorf("last turn = %+v, want user prompt", last)
	}
	if req.GenerationConfig.MaxOutputTokens != 1000 {
		t.Errorf("maxOutputTokens = %d, want 1000", req.GenerationConfig.MaxOutputTokens)
	}
}

func TestReshape_GeminiChat_MissingPrompt(t *testing.T) {
	route := &model.Route{Transform: model.TransformGeminiChat}
	for _, body := range []string{``, `{}`, `{"history":[]}`} {
		if _, err := Reshape(route, []byte(body)); !errors.Is(err, ErrMissingPrompt) {
			t.Errorf("Reshape(%q) error = %v, want ErrMissingPrompt", body, err)
		}
	}
}

func TestExtractGeminiText(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "single part",
			body: `{"candidates":[{"content":{"role":"model","parts":[{"text":"Olá"}]}}]}`,
			want: "Olá",
		},
		{
			name: "multiple parts joined",
			body: `{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}},{"content":{"parts":[{"text":"ignored"}]}}]}`,
			want: "ab",
		},
		{
			name:    "no candidates",
			body:    `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			body:    `<html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractGeminiText([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrBadUpstreamResponse) {
					t.Errorf("ExtractGeminiText() error = %v, want ErrBadUpstreamResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractGeminiText() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractGeminiText() = %q, want %q", got, tt.want)
			}
		})
	}
}
