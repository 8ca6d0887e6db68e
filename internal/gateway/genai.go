package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/joss/buildlab/pkg/llm"
)

// GenAI generates content through the official Gemini SDK.
type GenAI struct {
	client *genai.Client
}

// NewGenAI creates an SDK-backed provider. baseURL and httpClient are
// optional and mainly used to point the SDK at a test server.
func NewGenAI(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*GenAI, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAI{client: client}, nil
}

func (g *GenAI) ID() string   { return "genai" }
func (g *GenAI) Name() string { return "Gemini SDK" }

// Generate calls Models.GenerateContent with the schema as ResponseSchema.
func (g *GenAI) Generate(ctx context.Context, prompt string, cfg llm.GenerateConfig) (string, error) {
	gc := &genai.GenerateContentConfig{
		ResponseMIMEType: cfg.MIMEType,
		ResponseSchema:   toGenAISchema(cfg.Schema),
	}
	if cfg.Temperature != 0 {
		t := float32(cfg.Temperature)
		gc.Temperature = &t
	}
	if cfg.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	}

	model := strings.TrimPrefix(cfg.Model, "models/")
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), gc)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	return resp.Text(), nil
}

func toGenAISchema(s *llm.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Items:       toGenAISchema(s.Items),
		Required:    s.Required,
		MinItems:    s.MinItems,
		MaxItems:    s.MaxItems,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenAISchema(prop)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case llm.TypeObject:
		return genai.TypeObject
	case llm.TypeArray:
		return genai.TypeArray
	case llm.TypeString:
		return genai.TypeString
	default:
		return genai.Type(strings.ToUpper(t))
	}
}
