package settings

import (
	"context"
	"fmt"
	"strconv"
)

// Store exposes typed getters and setters over a Backend. Getters return the
// supplied default when the key is absent.
type Store struct {
	backend Backend
}

// NewStore wraps a Backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Contains reports whether key has a stored value.
func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.backend.Get(ctx, key)
	return ok, err
}

// GetString returns the value stored under key, or def.
func (s *Store) GetString(ctx context.Context, key, def string) (string, error) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// GetInt returns the int stored under key, or def.
func (s *Store) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, err := s.GetLong(ctx, key, int64(def))
	return int(v), err
}

// GetLong returns the int64 stored under key, or def.
func (s *Store) GetLong(ctx context.Context, key string, def int64) (int64, error) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q", ErrMalformedValue, key, v)
	}
	return n, nil
}

// GetBool returns the bool stored under key, or def.
func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q", ErrMalformedValue, key, v)
	}
	return b, nil
}

// SetString stores a string value.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	return s.backend.Put(ctx, String(key, value))
}

// SetInt stores an int value.
func (s *Store) SetInt(ctx context.Context, key string, value int) error {
	return s.backend.Put(ctx, Long(key, int64(value)))
}

// SetLong stores an int64 value.
func (s *Store) SetLong(ctx context.Context, key string, value int64) error {
	return s.backend.Put(ctx, Long(key, value))
}

// SetBool stores a bool value.
func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	return s.backend.Put(ctx, Bool(key, value))
}

// SetAll writes several entries in one atomic batch.
func (s *Store) SetAll(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.backend.Put(ctx, entries...)
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// IncrementLong atomically adds delta to the int64 under key (def when
// absent) and returns the stored result.
func (s *Store) IncrementLong(ctx context.Context, key string, def, delta int64) (int64, error) {
	var next int64
	err := s.backend.Update(ctx, key, func(current string, ok bool) (string, error) {
		n := def
		if ok {
			parsed, err := strconv.ParseInt(current, 10, 64)
			if err != nil {
				return "", fmt.Errorf("%w: %s=%q", ErrMalformedValue, key, current)
			}
			n = parsed
		}
		next = n + delta
		return strconv.FormatInt(next, 10), nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// String builds a string Entry.
func String(key, value string) Entry {
	return Entry{Key: key, Value: value}
}

// Long builds an integer Entry.
func Long(key string, value int64) Entry {
	return Entry{Key: key, Value: strconv.FormatInt(value, 10)}
}

// Bool builds a boolean Entry.
func Bool(key string, value bool) Entry {
	return Entry{Key: key, Value: strconv.FormatBool(value)}
}

// SetChanged writes only the entries whose stored value differs and returns
// how many were written. Unchanged entries cause no write.
func (s *Store) SetChanged(ctx context.Context, entries ...Entry) (int, error) {
	changed := make([]Entry, 0, len(entries))
	for _, e := range entries {
		v, ok, err := s.backend.Get(ctx, e.Key)
		if err != nil {
			return 0, fmt.Errorf("get %s: %w", e.Key, err)
		}
		if ok && v == e.Value {
			continue
		}
		changed = append(changed, e)
	}
	if err := s.SetAll(ctx, changed...); err != nil {
		return 0, err
	}
	return len(changed), nil
}
