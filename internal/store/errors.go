package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the name is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConnection indicates the backing store could not be reached.
	ErrConnection = errors.New("store connection error")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidID indicates a malformed ID.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidName indicates a name that is empty after normalisation.
	ErrInvalidName = errors.New("invalid name")
)

// NotFoundError wraps ErrNotFound with entity details.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a typed not found error.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// AlreadyExistsError reports a name collision.
type AlreadyExistsError struct {
	Entity string
	Name   string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.Name)
}

func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConnection checks if an error is a connection error.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}
