// Package projectstore persists projects: the tree and turn history of a
// session plus its metadata and chat notes.
package projectstore

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/graph"
	"github.com/joss/buildlab/internal/store"
)

// Store is the persistence boundary for projects.
type Store interface {
	store.Store

	// Create adds an empty project. The name is trimmed and lowercased and
	// must be unique.
	Create(ctx context.Context, name, description string, owners []string) (*domain.Project, error)
	// Get returns the full project, including tree, turns and chats.
	Get(ctx context.Context, id string) (*domain.Project, error)
	// GetByName looks a project up by its normalised name.
	GetByName(ctx context.Context, name string) (*domain.Project, error)
	// List returns project metadata, most recently updated first. Tree,
	// Turns and Chats are left empty.
	List(ctx context.Context, filter store.Filter) ([]*domain.Project, error)
	// LoadProject returns the stored tree and turns of a project.
	LoadProject(ctx context.Context, id string) (domain.ProjectTree, []domain.Turn, error)
	// SaveProject replaces the stored tree and turns.
	SaveProject(ctx context.Context, id string, tree domain.ProjectTree, turns []domain.Turn) error
	// AppendChat adds a chat note to a project.
	AppendChat(ctx context.Context, id string, msg domain.ChatMessage) error
	// Delete removes a project and everything attached to it.
	Delete(ctx context.Context, id string) error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendGraph  = "graph"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	DataDir string
	Graph   graph.Config
	// CacheTTL enables read caching on the graph backend.
	CacheTTL time.Duration
	// ConnectRetries is the number of graph connection attempts.
	ConnectRetries int
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return NewSQLite(cfg.DataDir)
	case BackendGraph:
		n, err := graph.Connect(ctx, cfg.Graph, cfg.ConnectRetries)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrConnection, err)
		}
		var d graph.Driver = n
		if cfg.CacheTTL > 0 {
			d = graph.NewCachedDriver(n, graph.NewQueryCache(256, cfg.CacheTTL))
		}
		return NewGraph(d), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a new time-ordered project ID.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

func validID(id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return fmt.Errorf("%w: %q", store.ErrInvalidID, id)
	}
	return nil
}

func validName(name string) (string, error) {
	n := domain.NormalizeName(name)
	if n == "" {
		return "", store.ErrInvalidName
	}
	return n, nil
}

func cleanOwners(owners []string) []string {
	out := make([]string, 0, len(owners))
	seen := make(map[string]bool, len(owners))
	for _, o := range owners {
		o = domain.NormalizeName(o)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}

func notFound(id string) error {
	return store.NewNotFoundError("project", id)
}
