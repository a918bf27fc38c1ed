// Package settings provides the typed key/value settings store shared by the
// migration engine and the update policy. Values are persisted as strings by
// a Backend; Store layers typed accessors on top, and Preferences names every
// domain setting so the key namespace lives in one place.
package settings

import "context"

// Entry is a single key/value pair written by Backend.Put.
type Entry struct {
	Key   string
	Value string
}

// UpdateFunc computes the new value for a key from its current value.
// ok reports whether the key was present.
type UpdateFunc func(current string, ok bool) (string, error)

// Backend is the raw persistence port. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put writes all entries atomically: either every entry is stored or
	// none is.
	Put(ctx context.Context, entries ...Entry) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Update performs a serialized read-modify-write on a single key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
