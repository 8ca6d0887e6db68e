package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/pkg/llm"
)

func answerSchema() *llm.Schema {
	two := int64(2)
	return &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"text":      {Type: llm.TypeString},
			"resources": {Type: llm.TypeArray, Items: &llm.Schema{Type: llm.TypeString}, MinItems: &two},
		},
		Required: []string{"text"},
	}
}

func TestGoogleGenerate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"text\":"},{"text":"\"hi\"}"}]},"finishReason":"STOP"}]}`))
	}))
	defer server.Close()

	g := NewGoogleWithClient("test-key", server.URL, server.Client())

	text, err := g.Generate(context.Background(), "hello", llm.GenerateConfig{
		Model:    "models/gemini-1.5-flash",
		MIMEType: llm.MIMETypeJSON,
		Schema:   answerSchema(),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != `{"text":"hi"}` {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/gemini-1.5-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}

	genCfg := gotBody["generationConfig"].(map[string]any)
	if genCfg["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", genCfg["responseMimeType"])
	}
	schema := genCfg["responseSchema"].(map[string]any)
	if schema["type"] != "OBJECT" {
		t.Errorf("schema type = %v, want OBJECT", schema["type"])
	}
	resources := schema["properties"].(map[string]any)["resources"].(map[string]any)
	if resources["minItems"] != float64(2) {
		t.Errorf("minItems = %v", resources["minItems"])
	}
}

func TestGoogleErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http status", http.StatusUnauthorized, `{"error":"bad key"}`, "Google API error 401"},
		{"blocked", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, "prompt blocked: SAFETY"},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, "no candidates"},
		{"refusal", http.StatusOK, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`, "generation stopped: SAFETY"},
		{"bad json", http.StatusOK, `<html>`, "decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g := NewGoogleWithClient("k", server.URL, server.Client())
			_, err := g.Generate(context.Background(), "p", llm.GenerateConfig{Model: "m"})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestGoogleMissingKey(t *testing.T) {
	g := NewGoogleWithClient("", "http://unused", nil)
	if _, err := g.Generate(context.Background(), "p", llm.GenerateConfig{Model: "m"}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestOpenAIGenerateJSONSchema(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Missing or wrong Authorization header")
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"text\":\"ok\"}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	o := NewOpenAIWithClient("test-key", server.URL, server.Client())
	text, err := o.Generate(context.Background(), "hi", llm.GenerateConfig{Model: "gpt-4o", Schema: answerSchema()})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != `{"text":"ok"}` {
		t.Errorf("text = %q", text)
	}

	rf := gotBody["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("response_format.type = %v", rf["type"])
	}
	schema := rf["json_schema"].(map[string]any)["schema"].(map[string]any)
	if schema["type"] != "object" {
		t.Errorf("schema type = %v", schema["type"])
	}
}

func TestOpenAIJSONObjectAndRefusal(t *testing.T) {
	var format string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		format = body.ResponseFormat.Type
		w.Write([]byte(`{"choices":[{"message":{"content":"","refusal":"I can't help with that"}}]}`))
	}))
	defer server.Close()

	o := NewOpenAIWithClient("k", server.URL+"/v1/", server.Client())
	_, err := o.Generate(context.Background(), "hi", llm.GenerateConfig{Model: "m", MIMEType: llm.MIMETypeJSON})
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Errorf("error = %v, want refusal", err)
	}
	if format != "json_object" {
		t.Errorf("response_format.type = %q, want json_object", format)
	}
}

func TestNormalizeOpenAIURL(t *testing.T) {
	tests := map[string]string{
		"":                                 openaiAPIURL,
		"http://localhost:11434":           "http://localhost:11434/v1/chat/completions",
		"http://localhost:11434/v1/":       "http://localhost:11434/v1/chat/completions",
		"http://x/api/v1/chat/completions": "http://x/api/v1/chat/completions",
	}
	for in, want := range tests {
		if got := normalizeOpenAIURL(in); got != want {
			t.Errorf("normalizeOpenAIURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenAIGenerate(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"text\":\"sdk\"}"}]},"finishReason":"STOP"}]}`))
	}))
	defer server.Close()

	g, err := NewGenAI(context.Background(), "test-key", server.URL, server.Client())
	if err != nil {
		t.Fatalf("NewGenAI() error = %v", err)
	}

	text, err := g.Generate(context.Background(), "hello", llm.GenerateConfig{
		Model:    "gemini-1.5-flash",
		MIMEType: llm.MIMETypeJSON,
		Schema:   answerSchema(),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != `{"text":"sdk"}` {
		t.Errorf("text = %q", text)
	}
	if !strings.HasSuffix(gotPath, "gemini-1.5-flash:generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	if _, ok := gotBody["generationConfig"]; !ok {
		t.Errorf("request has no generationConfig: %v", gotBody)
	}
}

// --- Guard ---

type stubProvider struct {
	text  string
	err   error
	delay time.Duration
	panic bool
}

func (s *stubProvider) ID() string   { return "stub" }
func (s *stubProvider) Name() string { return "Stub" }

func (s *stubProvider) Generate(ctx context.Context, prompt string, cfg llm.GenerateConfig) (string, error) {
	if s.panic {
		panic("backend exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func TestGuardPassesThrough(t *testing.T) {
	g := NewGuard(&stubProvider{text: `{"ok":true}`}, 0)
	text, err := g.Generate(context.Background(), "p", llm.GenerateConfig{Model: "m"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != `{"ok":true}` {
		t.Errorf("text = %q", text)
	}
	if g.ID() != "stub" {
		t.Errorf("ID() = %q", g.ID())
	}
}

func TestGuardClassifiesEveryFailure(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		timeout  time.Duration
	}{
		{"transport", &stubProvider{err: errors.New("dial tcp: connection refused")}, 0},
		{"auth", &stubProvider{err: errors.New("Google API error 401: unauthorized")}, 0},
		{"empty", &stubProvider{text: "   "}, 0},
		{"timeout", &stubProvider{text: "late", delay: time.Second}, 10 * time.Millisecond},
		{"panic", &stubProvider{panic: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.provider, tt.timeout)
			_, err := g.Generate(context.Background(), "p", llm.GenerateConfig{Model: "m"})
			if !errors.Is(err, domain.ErrGenerationFailed) {
				t.Fatalf("error = %v, want GenerationFailed", err)
			}
			if domain.Classify(err) != domain.KindGenerationFailed {
				t.Errorf("Classify() = %v", domain.Classify(err))
			}
		})
	}
}

func TestGuardCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGuard(&stubProvider{text: "x", delay: time.Second}, 0)
	_, err := g.Generate(ctx, "p", llm.GenerateConfig{Model: "m"})

	var ge *domain.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v, want *GenerationError", err)
	}
	if !errors.Is(ge.Cause, context.Canceled) {
		t.Errorf("cause = %v, want context.Canceled", ge.Cause)
	}
}
