// Package compose builds the exact prompt and generation config sent to
// the model for one query.
package compose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/tokens"
	"github.com/joss/buildlab/pkg/llm"
)

// Counter counts prompt tokens.
type Counter interface {
	Count(text string) int
}

// Request is a fully composed model call.
type Request struct {
	Mode   domain.Mode
	Query  string
	Prompt string
	Config llm.GenerateConfig

	// IncludedTurns is the number of prior turns carried in Prompt.
	IncludedTurns int
	// DroppedTurns is the number of oldest turns left out to fit the budget.
	DroppedTurns int
}

// Composer turns a query plus prior turns into a Request. It is pure: the
// same inputs always give the same Request.
type Composer struct {
	mode         domain.Mode
	model        string
	instructions string
	budget       int
	temperature  float64
	maxOutput    int
	counter      Counter
}

// Option configures a Composer.
type Option func(*Composer)

// WithBudget caps the prompt at n tokens. Zero means unlimited.
func WithBudget(n int) Option {
	return func(c *Composer) { c.budget = n }
}

// WithCounter replaces the default tiktoken counter.
func WithCounter(counter Counter) Option {
	return func(c *Composer) { c.counter = counter }
}

// WithInstructions overrides the project-mode instructions.
func WithInstructions(text string) Option {
	return func(c *Composer) { c.instructions = text }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Composer) { c.temperature = t }
}

// WithMaxOutputTokens caps the response length.
func WithMaxOutputTokens(n int) Option {
	return func(c *Composer) { c.maxOutput = n }
}

// New creates a Composer for mode using model.
func New(mode domain.Mode, model string, opts ...Option) *Composer {
	c := &Composer{
		mode:         mode,
		model:        model,
		instructions: ProjectInstructions(nil),
		counter:      tokens.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the mode this composer builds prompts for.
func (c *Composer) Mode() domain.Mode { return c.mode }

// Compose builds the request for query. turns is the full prior history in
// order; answer mode ignores it. If the prompt exceeds the token budget the
// oldest turns are dropped one at a time until it fits or none remain. The
// query and instructions are never cut.
func (c *Composer) Compose(query string, turns []domain.Turn) (Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, domain.ErrEmptyQuery
	}

	req := Request{
		Mode:  c.mode,
		Query: query,
		Config: llm.GenerateConfig{
			Model:           c.model,
			MIMEType:        llm.MIMETypeJSON,
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxOutput,
		},
	}

	if !c.mode.UsesHistory() {
		req.Prompt = AnswerPrompt(query)
		req.Config.Schema = AnswerSchema()
		return req, nil
	}

	entries, err := encodeHistory(turns)
	if err != nil {
		return Request{}, err
	}

	prefix := query + "\n\n" + c.instructions
	for drop := 0; drop <= len(entries); drop++ {
		prompt := projectPrompt(prefix, entries[drop:])
		if drop == len(entries) || c.fits(prompt) {
			req.Prompt = prompt
			req.IncludedTurns = len(entries) - drop
			req.DroppedTurns = drop
			break
		}
	}
	return req, nil
}

func (c *Composer) fits(prompt string) bool {
	return c.budget <= 0 || c.counter.Count(prompt) <= c.budget
}

func projectPrompt(prefix string, entries []string) string {
	if len(entries) == 0 {
		return prefix
	}
	return prefix + "\n\n" + historyHeader + "\n[" + strings.Join(entries, ",") + "]"
}

type historyEntry struct {
	Query    string                  `json:"query"`
	Response domain.GenerationResult `json:"response"`
}

// encodeHistory renders each turn as a compact JSON object. HTML escaping
// is off so generated markup is passed back verbatim.
func encodeHistory(turns []domain.Turn) ([]string, error) {
	entries := make([]string, 0, len(turns))
	for i, t := range turns {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(historyEntry{Query: t.Query, Response: t.Response}); err != nil {
			return nil, fmt.Errorf("encode turn %d: %w", i, err)
		}
		entries = append(entries, strings.TrimSuffix(buf.String(), "\n"))
	}
	return entries, nil
}
