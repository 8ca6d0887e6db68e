// Package graph wraps a Cypher-speaking graph database behind a small
// interface so stores can be tested without a running server.
package graph

import (
	"context"
	"time"
)

// Record is a single result row from a query.
type Record map[string]any

// GraphReader runs read queries.
type GraphReader interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// GraphWriter runs write queries (CREATE, MERGE, SET, DELETE).
type GraphWriter interface {
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}

// Driver is the full set of graph operations a store needs.
type Driver interface {
	GraphReader
	GraphWriter

	Close() error
	Ping(ctx context.Context) error
}

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// DefaultConfig points at a local server without auth.
func DefaultConfig() Config {
	return Config{URI: "bolt://localhost:7687"}
}

// String returns the string value of key, or "".
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int64 returns the integer value of key. Floats are truncated.
func (r Record) Int64(key string) int64 {
	switch n := r[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// Strings returns a string list, skipping non-string items.
func (r Record) Strings(key string) []string {
	switch s := r[key].(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Time parses an RFC 3339 string value of key. Drivers that return
// time.Time directly are passed through.
func (r Record) Time(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
