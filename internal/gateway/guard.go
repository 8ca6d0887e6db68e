package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/logging"
	"github.com/joss/buildlab/pkg/llm"
)

// Guard is the model gateway boundary. It bounds each call by an optional
// timeout and reports every failure as a *domain.GenerationError. Prompt
// and response text are never logged.
type Guard struct {
	provider llm.Provider
	timeout  time.Duration
	log      *logging.Logger
	recovery *logging.RecoveryHandler
}

// NewGuard wraps p. A zero timeout leaves the call unbounded.
func NewGuard(p llm.Provider, timeout time.Duration) *Guard {
	return &Guard{
		provider: p,
		timeout:  timeout,
		log:      logging.New("gateway"),
		recovery: logging.NewRecoveryHandler("gateway"),
	}
}

func (g *Guard) ID() string   { return g.provider.ID() }
func (g *Guard) Name() string { return g.provider.Name() }

// Generate calls the wrapped provider once.
func (g *Guard) Generate(ctx context.Context, prompt string, cfg llm.GenerateConfig) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	var text string
	err := g.recovery.WrapError(func() error {
		var err error
		text, err = g.provider.Generate(ctx, prompt, cfg)
		return err
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty response")
	}
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	extra := map[string]interface{}{
		"provider":   g.provider.ID(),
		"model":      cfg.Model,
		"request_id": logging.GetRequestID(ctx),
	}
	if err != nil {
		g.log.Warn("generate_failed", extra, err)
		return "", domain.NewGenerationError(cfg.Model, err)
	}

	extra["response_bytes"] = len(text)
	g.log.TimedEvent("generate", start, extra)
	return text, nil
}
