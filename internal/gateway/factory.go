// Package gateway implements the model backends behind llm.Provider and the
// Guard that turns every backend failure into a single GenerationFailed error.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/joss/buildlab/pkg/llm"
)

// ProviderType identifies supported model backends.
type ProviderType string

const (
	// ProviderGoogle talks to the Gemini REST API directly.
	ProviderGoogle ProviderType = "google"
	// ProviderGenAI uses the official Gemini Go SDK.
	ProviderGenAI ProviderType = "genai"
	// ProviderOpenAI talks to any OpenAI-compatible chat completions API.
	ProviderOpenAI ProviderType = "openai"
)

// Config holds provider configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient HTTPClient
}

// ConfigOption modifies provider configuration.
type ConfigOption func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL sets the base URL.
func WithBaseURL(url string) ConfigOption {
	return func(c *Config) { c.BaseURL = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client HTTPClient) ConfigOption {
	return func(c *Config) { c.HTTPClient = client }
}

// ProviderBuilder constructs a provider from config.
type ProviderBuilder func(ctx context.Context, cfg Config) (llm.Provider, error)

// Factory creates model providers.
type Factory struct {
	mu       sync.RWMutex
	cache    map[string]llm.Provider
	builders map[ProviderType]ProviderBuilder
}

// NewFactory creates a factory with default builders.
func NewFactory() *Factory {
	f := &Factory{
		cache:    make(map[string]llm.Provider),
		builders: make(map[ProviderType]ProviderBuilder),
	}
	f.RegisterDefaults()
	return f
}

// RegisterDefaults registers the built-in provider builders.
func (f *Factory) RegisterDefaults() {
	f.Register(ProviderGoogle, func(_ context.Context, cfg Config) (llm.Provider, error) {
		return NewGoogleWithClient(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient), nil
	})
	f.Register(ProviderGenAI, func(ctx context.Context, cfg Config) (llm.Provider, error) {
		hc, _ := cfg.HTTPClient.(*http.Client)
		return NewGenAI(ctx, cfg.APIKey, cfg.BaseURL, hc)
	})
	f.Register(ProviderOpenAI, func(_ context.Context, cfg Config) (llm.Provider, error) {
		return NewOpenAIWithClient(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient), nil
	})
}

// Register adds a provider builder. Allows extension with custom providers.
func (f *Factory) Register(pt ProviderType, builder ProviderBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[pt] = builder
}

// Create returns a provider instance, caching by type+config hash.
func (f *Factory) Create(ctx context.Context, pt ProviderType, opts ...ConfigOption) (llm.Provider, error) {
	cfg := Config{
		HTTPClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Apply environment defaults
	if cfg.APIKey == "" {
		cfg.APIKey = envKey(pt)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = envBaseURL(pt)
	}

	cacheKey := fmt.Sprintf("%s:%s:%s", pt, cfg.APIKey[:min(8, len(cfg.APIKey))], cfg.BaseURL)

	f.mu.RLock()
	if p, ok := f.cache[cacheKey]; ok {
		f.mu.RUnlock()
		return p, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock
	if p, ok := f.cache[cacheKey]; ok {
		return p, nil
	}

	builder, ok := f.builders[pt]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", pt)
	}

	p, err := builder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", pt, err)
	}
	f.cache[cacheKey] = p
	return p, nil
}

// CreateByID creates a provider from string ID.
func (f *Factory) CreateByID(ctx context.Context, id string, opts ...ConfigOption) (llm.Provider, error) {
	switch id {
	case "google", "gemini", "rest":
		return f.Create(ctx, ProviderGoogle, opts...)
	case "genai", "gemini-sdk":
		return f.Create(ctx, ProviderGenAI, opts...)
	case "openai", "gpt":
		return f.Create(ctx, ProviderOpenAI, opts...)
	default:
		return nil, fmt.Errorf("unknown provider: %s", id)
	}
}

// Clear removes cached providers.
func (f *Factory) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]llm.Provider)
}

// Default is the global factory instance.
var Default = NewFactory()

// envKey returns environment variable for API key.
func envKey(pt ProviderType) string {
	switch pt {
	case ProviderGoogle, ProviderGenAI:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// envBaseURL returns environment variable for base URL.
func envBaseURL(pt ProviderType) string {
	switch pt {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_BASE_URL")
	}
	return ""
}
