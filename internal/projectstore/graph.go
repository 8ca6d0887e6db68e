package projectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/graph"
	"github.com/joss/buildlab/internal/store"
)

// Graph stores projects as (:Project) nodes with (:Turn)-[:OF]-> and
// (:Chat)-[:POSTED_IN]-> neighbours. The tree is kept as a JSON property.
type Graph struct {
	db  graph.Driver
	now func() time.Time
}

var _ Store = (*Graph)(nil)

// NewGraph creates a graph-backed store on db.
func NewGraph(db graph.Driver) *Graph {
	return &Graph{db: db, now: time.Now}
}

func (g *Graph) Ping(ctx context.Context) error {
	if err := g.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrConnection, err)
	}
	return nil
}

func (g *Graph) Close() error {
	return g.db.Close()
}

func (g *Graph) Create(ctx context.Context, name, description string, owners []string) (*domain.Project, error) {
	n, err := validName(name)
	if err != nil {
		return nil, err
	}

	existing, err := g.db.Execute(ctx, `MATCH (p:Project {name: $name}) RETURN p.id AS id`, map[string]any{"name": n})
	if err != nil {
		return nil, fmt.Errorf("check name: %w", err)
	}
	if len(existing) > 0 {
		return nil, &store.AlreadyExistsError{Entity: "project", Name: n}
	}

	now := g.now().UTC()
	p := &domain.Project{
		ID:          NewID(),
		Name:        n,
		Description: description,
		Owners:      cleanOwners(owners),
		Tree:        domain.ProjectTree{},
		Turns:       []domain.Turn{},
		Chats:       []domain.ChatMessage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		CREATE (p:Project {
			id: $id,
			name: $name,
			description: $description,
			owners: $owners,
			tree: '{}',
			created_at: $created_at,
			updated_at: $updated_at
		})`
	err = g.db.ExecuteWrite(ctx, query, map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"owners":      p.Owners,
		"created_at":  now.Format(time.RFC3339Nano),
		"updated_at":  now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

const projectReturn = `
	OPTIONAL MATCH (t:Turn)-[:OF]->(p)
	WITH p, t ORDER BY t.seq
	WITH p, collect(t.data) AS turns
	OPTIONAL MATCH (c:Chat)-[:POSTED_IN]->(p)
	WITH p, turns, c ORDER BY c.seq
	RETURN p.id AS id, p.name AS name, p.description AS description,
		p.owners AS owners, p.tree AS tree,
		p.created_at AS created_at, p.updated_at AS updated_at,
		turns, collect(c.data) AS chats`

func (g *Graph) Get(ctx context.Context, id string) (*domain.Project, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return g.one(ctx, `MATCH (p:Project {id: $id})`+projectReturn, map[string]any{"id": id}, id)
}

func (g *Graph) GetByName(ctx context.Context, name string) (*domain.Project, error) {
	n, err := validName(name)
	if err != nil {
		return nil, err
	}
	return g.one(ctx, `MATCH (p:Project {name: $name})`+projectReturn, map[string]any{"name": n}, n)
}

func (g *Graph) one(ctx context.Context, query string, params map[string]any, key string) (*domain.Project, error) {
	records, err := g.db.Execute(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if len(records) == 0 {
		return nil, notFound(key)
	}
	return decodeProject(records[0], true)
}

func decodeProject(r graph.Record, full bool) (*domain.Project, error) {
	p := &domain.Project{
		ID:          r.String("id"),
		Name:        r.String("name"),
		Description: r.String("description"),
		Owners:      r.Strings("owners"),
		CreatedAt:   r.Time("created_at"),
		UpdatedAt:   r.Time("updated_at"),
	}
	if p.Owners == nil {
		p.Owners = []string{}
	}
	if !full {
		return p, nil
	}

	p.Tree = domain.ProjectTree{}
	if tree := r.String("tree"); tree != "" {
		if err := json.Unmarshal([]byte(tree), &p.Tree); err != nil {
			return nil, fmt.Errorf("decode tree: %w", err)
		}
	}

	p.Turns = []domain.Turn{}
	for i, data := range r.Strings("turns") {
		var t domain.Turn
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decode turn %d: %w", i, err)
		}
		p.Turns = append(p.Turns, t)
	}

	p.Chats = []domain.ChatMessage{}
	for i, data := range r.Strings("chats") {
		var c domain.ChatMessage
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("decode chat %d: %w", i, err)
		}
		p.Chats = append(p.Chats, c)
	}
	return p, nil
}

func (g *Graph) List(ctx context.Context, filter store.Filter) ([]*domain.Project, error) {
	query := `MATCH (p:Project)
		WHERE ($owner = '' OR $owner IN p.owners)
		  AND ($search = '' OR p.name CONTAINS $search)
		RETURN p.id AS id, p.name AS name, p.description AS description,
			p.owners AS owners, p.created_at AS created_at, p.updated_at AS updated_at
		ORDER BY p.updated_at DESC, p.id DESC
		SKIP $offset`
	params := map[string]any{
		"owner":  domain.NormalizeName(filter.Owner),
		"search": domain.NormalizeName(filter.Search),
		"offset": int64(filter.Offset),
	}
	if filter.Limit > 0 {
		query += ` LIMIT $limit`
		params["limit"] = int64(filter.Limit)
	}

	records, err := g.db.Execute(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	projects := make([]*domain.Project, 0, len(records))
	for _, r := range records {
		p, err := decodeProject(r, false)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (g *Graph) LoadProject(ctx context.Context, id string) (domain.ProjectTree, []domain.Turn, error) {
	p, err := g.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return p.Tree, p.Turns, nil
}

func (g *Graph) exists(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	records, err := g.db.Execute(ctx, `MATCH (p:Project {id: $id}) RETURN p.id AS id`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("find project: %w", err)
	}
	if len(records) == 0 {
		return notFound(id)
	}
	return nil
}

func (g *Graph) SaveProject(ctx context.Context, id string, tree domain.ProjectTree, turns []domain.Turn) error {
	if err := g.exists(ctx, id); err != nil {
		return err
	}
	if tree == nil {
		tree = domain.ProjectTree{}
	}
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	rows := make([]map[string]any, 0, len(turns))
	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode turn %d: %w", i, err)
		}
		rows = append(rows, map[string]any{"seq": int64(i), "data": string(data)})
	}

	query := `
		MATCH (p:Project {id: $id})
		SET p.tree = $tree, p.updated_at = $updated_at
		WITH p
		OPTIONAL MATCH (old:Turn)-[:OF]->(p)
		DETACH DELETE old
		WITH DISTINCT p
		UNWIND $turns AS turn
		CREATE (:Turn {seq: turn.seq, data: turn.data})-[:OF]->(p)`
	err = g.db.ExecuteWrite(ctx, query, map[string]any{
		"id":         id,
		"tree":       string(treeJSON),
		"updated_at": g.now().UTC().Format(time.RFC3339Nano),
		"turns":      rows,
	})
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (g *Graph) AppendChat(ctx context.Context, id string, msg domain.ChatMessage) error {
	if err := g.exists(ctx, id); err != nil {
		return err
	}
	now := g.now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}

	query := `
		MATCH (p:Project {id: $id})
		SET p.updated_at = $updated_at
		CREATE (:Chat {seq: $seq, data: $data})-[:POSTED_IN]->(p)`
	err = g.db.ExecuteWrite(ctx, query, map[string]any{
		"id":         id,
		"updated_at": now.Format(time.RFC3339Nano),
		"seq":        NewID(),
		"data":       string(data),
	})
	if err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}

func (g *Graph) Delete(ctx context.Context, id string) error {
	if err := g.exists(ctx, id); err != nil {
		return err
	}
	query := `
		MATCH (p:Project {id: $id})
		OPTIONAL MATCH (n)-[:OF|POSTED_IN]->(p)
		DETACH DELETE n, p`
	if err := g.db.ExecuteWrite(ctx, query, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}
