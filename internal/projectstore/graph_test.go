package projectstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/graph"
	"github.com/joss/buildlab/internal/store"
)

// mockDriver implements graph.Driver for testing.
type mockDriver struct {
	records    []graph.Record
	executeErr error
	writeErr   error
	lastQuery  string
	lastParams map[string]any
	writes     []string
	pingErr    error
}

func (m *mockDriver) Execute(ctx context.Context, query string, params map[string]any) ([]graph.Record, error) {
	m.lastQuery = query
	m.lastParams = params
	return m.records, m.executeErr
}

func (m *mockDriver) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	m.writes = append(m.writes, query)
	m.lastQuery = query
	m.lastParams = params
	return m.writeErr
}

func (m *mockDriver) Close() error { return nil }

func (m *mockDriver) Ping(ctx context.Context) error { return m.pingErr }

func newGraphStore(mock *mockDriver) *Graph {
	g := NewGraph(mock)
	g.now = func() time.Time { return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC) }
	return g
}

func TestGraphCreate(t *testing.T) {
	mock := &mockDriver{}
	g := newGraphStore(mock)

	p, err := g.Create(context.Background(), " Todo ", "desc", []string{"A@x.io"})
	require.NoError(t, err)

	require.Len(t, mock.writes, 1)
	assert.Contains(t, mock.lastQuery, "CREATE (p:Project")
	assert.Equal(t, p.ID, mock.lastParams["id"])
	assert.Equal(t, "todo", mock.lastParams["name"])
	assert.Equal(t, []string{"a@x.io"}, mock.lastParams["owners"])
	assert.Equal(t, "2026-02-01T10:00:00Z", mock.lastParams["created_at"])
}

func TestGraphCreateDuplicate(t *testing.T) {
	mock := &mockDriver{records: []graph.Record{{"id": NewID()}}}
	g := newGraphStore(mock)

	_, err := g.Create(context.Background(), "todo", "", nil)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.Empty(t, mock.writes)

	_, err = g.Create(context.Background(), "", "", nil)
	assert.ErrorIs(t, err, store.ErrInvalidName)
}

func TestGraphGet(t *testing.T) {
	id := NewID()
	turns := sampleTurns()
	turnData := make([]any, 0, len(turns))
	for _, tr := range turns {
		data, err := json.Marshal(tr)
		require.NoError(t, err)
		turnData = append(turnData, string(data))
	}
	chat, _ := json.Marshal(domain.ChatMessage{Email: "a@x.io", Message: "hi", Timestamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})

	mock := &mockDriver{records: []graph.Record{{
		"id":          id,
		"name":        "todo",
		"description": "d",
		"owners":      []any{"a@x.io"},
		"tree":        `{"/App.js":{"code":"blue"}}`,
		"created_at":  "2026-02-01T10:00:00Z",
		"updated_at":  "2026-02-01T11:00:00Z",
		"turns":       turnData,
		"chats":       []any{string(chat)},
	}}}
	g := newGraphStore(mock)

	p, err := g.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, mock.lastParams["id"])
	assert.Contains(t, mock.lastQuery, "MATCH (p:Project {id: $id})")

	assert.Equal(t, "todo", p.Name)
	assert.Equal(t, []string{"a@x.io"}, p.Owners)
	assert.Equal(t, "blue", p.Tree["/App.js"].Code)
	require.Len(t, p.Turns, 2)
	assert.Equal(t, "make it blue", p.Turns[1].Query)
	require.Len(t, p.Chats, 1)
	assert.Equal(t, "hi", p.Chats[0].Message)
	assert.Equal(t, 11, p.UpdatedAt.Hour())

	tree, loaded, err := g.LoadProject(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, tree, 1)
	assert.Len(t, loaded, 2)
}

func TestGraphGetNotFound(t *testing.T) {
	g := newGraphStore(&mockDriver{})

	_, err := g.Get(context.Background(), NewID())
	assert.True(t, store.IsNotFound(err))

	_, err = g.GetByName(context.Background(), "missing")
	assert.True(t, store.IsNotFound(err))

	_, err = g.Get(context.Background(), "bad id")
	assert.ErrorIs(t, err, store.ErrInvalidID)
}

func TestGraphSaveProject(t *testing.T) {
	id := NewID()
	mock := &mockDriver{records: []graph.Record{{"id": id}}}
	g := newGraphStore(mock)

	err := g.SaveProject(context.Background(), id, domain.ProjectTree{"/App.js": {Code: "x"}}, sampleTurns())
	require.NoError(t, err)

	assert.Contains(t, mock.lastQuery, "UNWIND $turns")
	assert.Equal(t, `{"/App.js":{"code":"x"}}`, mock.lastParams["tree"])
	rows := mock.lastParams["turns"].([]map[string]any)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[1]["seq"])

	var turn domain.Turn
	require.NoError(t, json.Unmarshal([]byte(rows[0]["data"].(string)), &turn))
	assert.Equal(t, "a todo app", turn.Query)
}

func TestGraphSaveProjectMissing(t *testing.T) {
	mock := &mockDriver{}
	g := newGraphStore(mock)

	err := g.SaveProject(context.Background(), NewID(), nil, nil)
	assert.True(t, store.IsNotFound(err))
	assert.Empty(t, mock.writes)
}

func TestGraphAppendChatAndDelete(t *testing.T) {
	id := NewID()
	mock := &mockDriver{records: []graph.Record{{"id": id}}}
	g := newGraphStore(mock)
	ctx := context.Background()

	require.NoError(t, g.AppendChat(ctx, id, domain.ChatMessage{Email: "a@x.io", Message: "hi"}))
	assert.Contains(t, mock.lastQuery, ":POSTED_IN")
	var msg domain.ChatMessage
	require.NoError(t, json.Unmarshal([]byte(mock.lastParams["data"].(string)), &msg))
	assert.False(t, msg.Timestamp.IsZero())

	require.NoError(t, g.Delete(ctx, id))
	assert.Contains(t, mock.lastQuery, "DETACH DELETE")
	assert.Len(t, mock.writes, 2)
}

func TestGraphList(t *testing.T) {
	mock := &mockDriver{records: []graph.Record{
		{"id": "b", "name": "beta", "owners": []any{"a@x.io"}},
		{"id": "a", "name": "alpha"},
	}}
	g := newGraphStore(mock)

	ps, err := g.List(context.Background(), store.DefaultFilter().WithOwner("A@X.io").WithLimit(5))
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "beta", ps[0].Name)
	assert.Equal(t, []string{}, ps[1].Owners)
	assert.Equal(t, "a@x.io", mock.lastParams["owner"])
	assert.Equal(t, int64(5), mock.lastParams["limit"])
	assert.Contains(t, mock.lastQuery, "LIMIT $limit")

	_, err = g.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.NotContains(t, mock.lastQuery, "LIMIT")
}

func TestGraphErrors(t *testing.T) {
	boom := errors.New("connection refused")
	g := newGraphStore(&mockDriver{executeErr: boom, pingErr: boom})

	_, err := g.List(context.Background(), store.Filter{})
	assert.ErrorIs(t, err, boom)
	assert.True(t, store.IsConnection(g.Ping(context.Background())))
}

func TestGraphWithCache(t *testing.T) {
	id := NewID()
	mock := &mockDriver{records: []graph.Record{{"id": id, "name": "todo", "tree": "{}"}}}
	g := NewGraph(graph.NewCachedDriver(mock, graph.NewQueryCache(8, time.Minute)))
	ctx := context.Background()

	_, err := g.Get(ctx, id)
	require.NoError(t, err)
	mock.lastQuery = ""
	_, err = g.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, mock.lastQuery, "second read served from cache")
}
