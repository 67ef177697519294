// Package store defines the keyed document persistence layer.
// All implementations (SQLite, in-memory, etc.) satisfy the Store interface,
// allowing the services to swap backends without changing business logic.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store persists JSON documents keyed by (collection, id). Each entity type
// uses its own collection namespace. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put inserts or replaces a document.
	Put(ctx context.Context, collection, id string, doc []byte) error
	// Get returns the document, or (nil, nil) when absent.
	Get(ctx context.Context, collection, id string) ([]byte, error)
	// List returns every document in the collection.
	List(ctx context.Context, collection string) ([][]byte, error)
	// Delete removes a document; deleting an absent id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Close releases backend resources.
	Close() error
}

// Collection is a typed view over one namespace of a Store. Values are
// encoded as JSON documents.
type Collection[T any] struct {
	store Store
	name  string
}

// NewCollection binds a typed collection to a store namespace.
func NewCollection[T any](s Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

// Put encodes v and writes it under id.
func (c *Collection[T]) Put(ctx context.Context, id string, v T) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c.name, id, err)
	}
	return c.store.Put(ctx, c.name, id, doc)
}

// Get decodes the document under id, or returns (nil, nil) when absent.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil || doc == nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	return &v, nil
}

// List decodes every document in the collection.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	docs, err := c.store.List(ctx, c.name)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete removes the document under id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.name, id)
}
