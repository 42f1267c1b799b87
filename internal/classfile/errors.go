package classfile

import (
	"errors"
	"fmt"
)

// ErrMalformed is the sentinel matched by every MalformedError.
var ErrMalformed = errors.New("classfile: malformed class file")

// MalformedError reports where and why a class file could not be parsed.
type MalformedError struct {
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("classfile: malformed class file at offset %d: %s", e.Offset, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }
