// Package index implements the index engine interface (C6): a queryable
// collection per entity type plus a set of named attribute-extractor
// indices, maintained inside the same critical section as the journal
// commit.
package index

import "errors"

// ErrAlreadyPresent is returned by TryAddIndex when an index with the
// given name is already registered for the entity type. Re-registration
// is idempotent, not an error condition: callers that want the older
// "swallow and ignore" behavior can simply discard this error, but the
// explicit return lets callers that care distinguish it from a genuine
// failure (spec.md §4.6 open question resolution).
var ErrAlreadyPresent = errors.New("index: already present")

// Extractor derives the indexed attribute value from an entity.
type Extractor func(entity any) (string, error)

// Engine maintains collections and indices across entity types.
type Engine interface {
	// AddToCollection appends entity to the named collection. Called by
	// the command consumer inside the same critical section as the
	// journal append, so it must not itself be able to roll back.
	AddToCollection(entityType string, entity any) error

	// TryAddIndex registers a named attribute-extractor index for an
	// entity type. Returns ErrAlreadyPresent if name is already
	// registered for entityType; the existing index is left untouched.
	TryAddIndex(entityType, name string, extractor Extractor) error
}
