// Package store holds the pieces shared by every persistence backend: the
// lifecycle interface, list filters, and error values.
package store

import "context"

// Store is the lifecycle every backend implements.
type Store interface {
	Ping(ctx context.Context) error
	Close() error
}

// Filter defines query parameters for listing entities.
type Filter struct {
	Limit  int    // Maximum results (0 = no limit)
	Offset int    // Skip first N results
	Owner  string // Only entities owned by this email
	Search string // Case-insensitive substring of the name
}

// DefaultFilter returns the first page of 100.
func DefaultFilter() Filter {
	return Filter{Limit: 100}
}

// WithLimit returns a copy of the filter with a new limit.
func (f Filter) WithLimit(n int) Filter {
	f.Limit = n
	return f
}

// WithOffset returns a copy of the filter with a new offset.
func (f Filter) WithOffset(n int) Filter {
	f.Offset = n
	return f
}

// WithOwner returns a copy of the filter restricted to owner.
func (f Filter) WithOwner(owner string) Filter {
	f.Owner = owner
	return f
}

// WithSearch returns a copy of the filter matching names containing s.
func (f Filter) WithSearch(s string) Filter {
	f.Search = s
	return f
}
