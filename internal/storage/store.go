// Package storage holds the persistence drivers behind the catalog repositories.
package storage

import (
	"context"
	"errors"

	"catalog-showcase/internal/domain"
)

var ErrNotFound = errors.New("storage: not found")

// BlobStore persists opaque values under string keys.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// DocumentStore keeps one document per catalog and pushes change
// notifications to watchers.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*domain.Catalog, error)
	// Put writes the whole document, creating it when absent.
	Put(ctx context.Context, doc *domain.Catalog) error
	// Update replaces an existing document and returns ErrNotFound when it
	// is absent. It never recreates a deleted document.
	Update(ctx context.Context, doc *domain.Catalog) error
	Delete(ctx context.Context, id string) error
	// List returns every document in creation order.
	List(ctx context.Context) ([]domain.Catalog, error)
	// Watch calls onChange from a background goroutine after every write
	// until the returned stop function is called. An empty id means changes
	// may have been missed and the whole collection should be reloaded.
	Watch(ctx context.Context, onChange func(id string)) (stop func(), err error)
	Close() error
}
