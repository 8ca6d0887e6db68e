package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joss/buildlab/pkg/llm"
)

const googleAPIURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Google calls the Gemini generateContent REST endpoint.
type Google struct {
	apiKey  string
	baseURL string
	client  HTTPClient
}

func NewGoogle(apiKey string) *Google {
	return NewGoogleWithClient(apiKey, "", &http.Client{})
}

func NewGoogleWithClient(apiKey, baseURL string, client HTTPClient) *Google {
	if baseURL == "" {
		baseURL = googleAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Google{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (g *Google) ID() string   { return "google" }
func (g *Google) Name() string { return "Google" }

type googleRequest struct {
	Contents         []googleContent  `json:"contents"`
	GenerationConfig *googleGenConfig `json:"generationConfig,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleGenConfig struct {
	MaxOutputTokens  int           `json:"maxOutputTokens,omitempty"`
	Temperature      float64       `json:"temperature,omitempty"`
	ResponseMIMEType string        `json:"responseMimeType,omitempty"`
	ResponseSchema   *googleSchema `json:"responseSchema,omitempty"`
}

// googleSchema is the OpenAPI subset accepted by responseSchema. Types are
// upper-case enum names.
type googleSchema struct {
	Type        string                   `json:"type"`
	Description string                   `json:"description,omitempty"`
	Properties  map[string]*googleSchema `json:"properties,omitempty"`
	Items       *googleSchema            `json:"items,omitempty"`
	Required    []string                 `json:"required,omitempty"`
	MinItems    *int64                   `json:"minItems,omitempty"`
	MaxItems    *int64                   `json:"maxItems,omitempty"`
}

func toGoogleSchema(s *llm.Schema) *googleSchema {
	if s == nil {
		return nil
	}
	out := &googleSchema{
		Type:        strings.ToUpper(s.Type),
		Description: s.Description,
		Items:       toGoogleSchema(s.Items),
		Required:    s.Required,
		MinItems:    s.MinItems,
		MaxItems:    s.MaxItems,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*googleSchema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGoogleSchema(prop)
		}
	}
	return out
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// Generate sends a single non-streaming generateContent request.
func (g *Google) Generate(ctx context.Context, prompt string, cfg llm.GenerateConfig) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("google: missing API key")
	}

	body := googleRequest{
		Contents: []googleContent{
			{Role: "user", Parts: []googlePart{{Text: prompt}}},
		},
		GenerationConfig: &googleGenConfig{
			MaxOutputTokens:  cfg.MaxOutputTokens,
			Temperature:      cfg.Temperature,
			ResponseMIMEType: cfg.MIMEType,
			ResponseSchema:   toGoogleSchema(cfg.Schema),
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	model := strings.TrimPrefix(cfg.Model, "models/")
	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Google API error %d: %s", resp.StatusCode, string(data))
	}

	var gr googleResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(gr.Candidates) == 0 {
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", gr.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("no candidates in response")
	}

	cand := gr.Candidates[0]
	switch cand.FinishReason {
	case "", "STOP", "MAX_TOKENS":
	default:
		return "", fmt.Errorf("generation stopped: %s", cand.FinishReason)
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
