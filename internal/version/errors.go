package version

import (
	"errors"
	"fmt"
)

// ErrMalformedDescriptor is wrapped by every descriptor parse failure.
var ErrMalformedDescriptor = errors.New("malformed version descriptor")

// ParseError describes why a descriptor was rejected.
type ParseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := ErrMalformedDescriptor.Error()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedDescriptor
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
