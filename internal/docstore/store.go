// Package docstore is the schemaless per-entity record store the scheduling
// core reads and writes. Documents live in named collections keyed by "id".
package docstore

import (
	"context"
	"errors"
	"strings"
)

// KeyAttribute is the partition key of every collection.
const KeyAttribute = "id"

// entryKeyAttribute tags each element appended through Union so it can be
// found again by Remove.
const entryKeyAttribute = "entryKey"

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists indicates Create hit an existing document.
	ErrAlreadyExists = errors.New("docstore: document already exists")
)

// Filter is an equality predicate on a top-level string attribute.
type Filter struct {
	Field string
	Value string
}

// Eq builds an equality filter.
func Eq(field, value string) Filter {
	return Filter{Field: field, Value: value}
}

// Store is the read/write/query contract of the document store.
//
// Documents are encoded with the DynamoDB attributevalue rules, so structs use
// `dynamodbav` tags regardless of the backing implementation.
type Store interface {
	// Get decodes the document into out or returns ErrNotFound.
	Get(ctx context.Context, collection, id string, out any) error
	// Create writes doc only if no document with id exists.
	Create(ctx context.Context, collection, id string, doc any) error
	// Put writes doc, replacing any existing document.
	Put(ctx context.Context, collection, id string, doc any) error
	// Update sets the given top-level fields on an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// InitArray sets field to an empty list unless it already exists.
	InitArray(ctx context.Context, collection, id, field string) error
	// Query decodes every document matching all filters into out, a pointer to a slice.
	Query(ctx context.Context, collection string, filters []Filter, out any) error
	// Union appends value to the list field unless an element with the same key
	// is present. It reports whether the element was added.
	Union(ctx context.Context, collection, id, field, key string, value any) (bool, error)
	// Remove deletes the list element previously added under key. It reports
	// whether an element was removed.
	Remove(ctx context.Context, collection, id, field, key string) (bool, error)
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// KeysAttribute names the string set that tracks union keys for a list field.
func KeysAttribute(field string) string {
	return field + "Keys"
}

func validateID(collection, id string) error {
	if strings.TrimSpace(collection) == "" {
		return errors.New("docstore: collection required")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("docstore: id required")
	}
	return nil
}
