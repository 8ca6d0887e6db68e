package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joss/buildlab/internal/compose"
	"github.com/joss/buildlab/internal/config"
	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/gateway"
	"github.com/joss/buildlab/internal/graph"
	"github.com/joss/buildlab/internal/projectstore"
	"github.com/joss/buildlab/internal/scaffold"
	"github.com/joss/buildlab/internal/session"
	"github.com/joss/buildlab/internal/store"
	"github.com/joss/buildlab/pkg/llm"
)

const connectRetries = 3

// newProvider builds the configured model provider behind the gateway
// guard.
func newProvider(ctx context.Context, s *config.Settings) (llm.Provider, error) {
	p, err := gateway.Default.CreateByID(ctx, s.Provider,
		gateway.WithAPIKey(s.APIKey),
		gateway.WithBaseURL(s.BaseURL),
	)
	if err != nil {
		return nil, err
	}
	return gateway.NewGuard(p, s.Timeout), nil
}

// loadBaseline returns the scaffold named by s.Scaffold: a YAML manifest,
// a directory of sources, or the built-in React scaffold when unset.
func loadBaseline(s *config.Settings) (*scaffold.Baseline, error) {
	if s.Scaffold == "" {
		return scaffold.Default(), nil
	}
	info, err := os.Stat(s.Scaffold)
	if err != nil {
		return nil, fmt.Errorf("scaffold: %w", err)
	}
	if info.IsDir() {
		return scaffold.FromDir(s.Scaffold)
	}
	return scaffold.Load(s.Scaffold)
}

// newMachine builds the session machine for mode.
func newMachine(mode domain.Mode, s *config.Settings, baseline *scaffold.Baseline) *session.Machine {
	opts := []compose.Option{
		compose.WithBudget(s.TokenBudget),
		compose.WithTemperature(s.Temperature),
		compose.WithMaxOutputTokens(s.MaxOutputTokens),
	}
	if mode == domain.ModeProject {
		opts = append(opts, compose.WithInstructions(compose.ProjectInstructions(baseline.DependencyNames())))
	}
	return session.NewMachine(compose.New(mode, s.ModelFor(mode), opts...), baseline.Tree())
}

// newMachines builds one machine per mode for the HTTP server.
func newMachines(s *config.Settings, baseline *scaffold.Baseline) map[domain.Mode]*session.Machine {
	return map[domain.Mode]*session.Machine{
		domain.ModeProject: newMachine(domain.ModeProject, s, baseline),
		domain.ModeAnswer:  newMachine(domain.ModeAnswer, s, baseline),
	}
}

func openStore(ctx context.Context, s *config.Settings) (projectstore.Store, error) {
	if s.Store == projectstore.BackendSQLite || s.Store == "" {
		if err := config.EnsureDir(s.DataDir); err != nil {
			return nil, err
		}
	}
	return projectstore.Open(ctx, projectstore.Config{
		Backend: s.Store,
		DataDir: s.DataDir,
		Graph: graph.Config{
			URI:      s.Neo4jURI,
			Username: s.Neo4jUser,
			Password: s.Neo4jPassword,
			Database: s.Neo4jDatabase,
		},
		CacheTTL:       s.CacheTTL,
		ConnectRetries: connectRetries,
	})
}

// resolveProject finds a project by ID, falling back to its name.
func resolveProject(ctx context.Context, st projectstore.Store, ref string) (*domain.Project, error) {
	p, err := st.Get(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !store.IsNotFound(err) && !errors.Is(err, store.ErrInvalidID) {
		return nil, err
	}
	return st.GetByName(ctx, ref)
}
