package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDriver struct {
	reads  int
	writes int
	rows   []Record
}

func (d *countingDriver) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	d.reads++
	return d.rows, nil
}

func (d *countingDriver) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	d.writes++
	return nil
}

func (d *countingDriver) Close() error                   { return nil }
func (d *countingDriver) Ping(ctx context.Context) error { return nil }

func TestRecordAccessors(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Record{
		"name":    "todo",
		"count":   int64(3),
		"float":   2.9,
		"owners":  []any{"a@x.io", 7, "b@x.io"},
		"tags":    []string{"x"},
		"created": at.Format(time.RFC3339Nano),
		"native":  at,
	}

	assert.Equal(t, "todo", r.String("name"))
	assert.Equal(t, "", r.String("count"))
	assert.Equal(t, int64(3), r.Int64("count"))
	assert.Equal(t, int64(2), r.Int64("float"))
	assert.Equal(t, int64(0), r.Int64("missing"))
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, r.Strings("owners"))
	assert.Equal(t, []string{"x"}, r.Strings("tags"))
	assert.Nil(t, r.Strings("name"))
	assert.True(t, at.Equal(r.Time("created")))
	assert.True(t, at.Equal(r.Time("native")))
	assert.True(t, r.Time("name").IsZero())
}

func TestCachedDriver(t *testing.T) {
	inner := &countingDriver{rows: []Record{{"id": "p1"}}}
	d := NewCachedDriver(inner, NewQueryCache(10, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rows, err := d.Execute(ctx, "MATCH (p:Project) RETURN p.id AS id", map[string]any{"limit": 5})
		require.NoError(t, err)
		assert.Equal(t, "p1", rows[0].String("id"))
	}
	assert.Equal(t, 1, inner.reads)

	_, _ = d.Execute(ctx, "MATCH (p:Project) RETURN p.id AS id", map[string]any{"limit": 6})
	assert.Equal(t, 2, inner.reads, "different params miss the cache")

	require.NoError(t, d.ExecuteWrite(ctx, "CREATE (p:Project)", nil))
	_, _ = d.Execute(ctx, "MATCH (p:Project) RETURN p.id AS id", map[string]any{"limit": 5})
	assert.Equal(t, 3, inner.reads, "writes clear the cache")

	stats := d.Cache().Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(3), stats.Misses)
}

func TestQueryCacheExpiryAndEviction(t *testing.T) {
	c := NewQueryCache(2, time.Second)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }

	c.Set("q1", nil, []Record{{"n": 1}})
	_, ok := c.Get("q1", nil)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("q1", nil)
	assert.False(t, ok, "expired")

	c.Set("a", nil, nil)
	c.Set("b", nil, nil)
	c.Set("c", nil, nil)
	assert.LessOrEqual(t, c.Stats().Size, 2)
}

func TestQueryCacheRejectsKeyCollision(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	params := map[string]any{"id": "p1"}

	key, _, ok := cacheKey("MATCH (p:Project {id: $id}) RETURN p", params)
	require.True(t, ok)
	c.entries[key] = cacheEntry{
		query:     "MATCH (u:User {id: $id}) RETURN u",
		params:    `{"id":"p1"}`,
		records:   []Record{{"u": "wrong"}},
		expiresAt: time.Now().Add(time.Minute),
	}

	_, hit := c.Get("MATCH (p:Project {id: $id}) RETURN p", params)
	assert.False(t, hit, "an entry stored for another query is not served")

	c.Set("MATCH (p:Project {id: $id}) RETURN p", params, []Record{{"p": "right"}})
	rows, hit := c.Get("MATCH (p:Project {id: $id}) RETURN p", params)
	require.True(t, hit)
	assert.Equal(t, "right", rows[0]["p"])
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.True(t, IsConnectionError(errors.New("dial tcp 127.0.0.1:7687: connection refused")))
	assert.True(t, IsConnectionError(errors.New("unexpected EOF")))
	assert.False(t, IsConnectionError(errors.New("syntax error in query")))
}

func TestConnectUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, Config{URI: "bolt://127.0.0.1:1"}, 1)
	assert.Error(t, err)
}
