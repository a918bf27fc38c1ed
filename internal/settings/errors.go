package settings

import "errors"

var (
	// ErrMalformedValue is returned when a stored value cannot be decoded
	// into the requested type.
	ErrMalformedValue = errors.New("settings: malformed stored value")

	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("settings: backend closed")
)
