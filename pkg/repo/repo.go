// Package repo defines a generic repository interface and its Neo4j
// implementation.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned for lookups that match no entity.
var ErrNotFound = errors.New("entity not found")

// Repository is a generic upsert-style store interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Save(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and equality filtering for List.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}
