// Package history holds the append-only, ordered log of completed turns
// for one session.
package history

import (
	"sync"

	"github.com/joss/buildlab/internal/domain"
)

// Store is an append-only turn log. Entries are never removed or modified;
// readers always receive copies, so concurrent reads are safe.
type Store struct {
	mu    sync.RWMutex
	turns []domain.Turn
}

// New creates a store seeded with turns, for example from a saved project.
func New(turns ...domain.Turn) *Store {
	s := &Store{turns: make([]domain.Turn, 0, len(turns))}
	s.turns = append(s.turns, turns...)
	return s
}

// Append adds turn at the end of the log.
func (s *Store) Append(turn domain.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

// All returns the turns in insertion order.
func (s *Store) All() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// At returns the i-th turn (0-based).
func (s *Store) At(i int) (domain.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.turns) {
		return domain.Turn{}, false
	}
	return s.turns[i], true
}

// Last returns the most recent turn.
func (s *Store) Last() (domain.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return domain.Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}
