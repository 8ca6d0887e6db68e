package llm

import (
	"context"
	"sort"
)

// MIMETypeJSON asks the model to reply with a JSON document.
const MIMETypeJSON = "application/json"

// Provider is the interface every model backend implements. Generate makes
// one blocking call and returns the raw response text.
type Provider interface {
	ID() string
	Name() string

	Generate(ctx context.Context, prompt string, cfg GenerateConfig) (string, error)
}

// GenerateConfig carries the per-call generation settings.
type GenerateConfig struct {
	Model           string
	MIMEType        string
	Schema          *Schema
	Temperature     float64
	MaxOutputTokens int
}

// Schema is a JSON-Schema subset understood by all backends.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	MinItems    *int64             `json:"minItems,omitempty"`
	MaxItems    *int64             `json:"maxItems,omitempty"`
}

// Schema types.
const (
	TypeObject = "object"
	TypeArray  = "array"
	TypeString = "string"
)

// PropertyNames returns the schema's property names in lexical order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
