package domain

import (
	"errors"
	"fmt"
)

// ErrNotCached indicates that a mutation targeted a cache entry that has not
// been loaded, so there is nothing to patch optimistically.
var ErrNotCached = errors.New("cache entry not loaded")

// ErrInvalidMove is returned for structural edits that would break the tree,
// such as nesting a task under its own descendant.
var ErrInvalidMove = errors.New("invalid move")

// NotFoundError reports an entity missing from the local cache.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
