package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedToken is matched by every UnexpectedTokenError.
	ErrUnexpectedToken = errors.New("codec: unexpected token")
	// ErrUnsupportedValue is matched by every UnsupportedValueError.
	ErrUnsupportedValue = errors.New("codec: unsupported value")
)

// UnexpectedTokenError reports a grammar violation in one fragment.
type UnexpectedTokenError struct {
	Source string // fragment identifier, e.g. a resource path
	Offset int64  // byte offset of the offending character
	Char   rune   // offending character, or -1 at end of input
	Want   string // what the reader expected instead
}

func (e *UnexpectedTokenError) Error() string {
	got := "end of input"
	if e.Char >= 0 {
		got = fmt.Sprintf("%q", e.Char)
	}
	msg := fmt.Sprintf("codec: unexpected %s at offset %d in %s", got, e.Offset, e.Source)
	if e.Want != "" {
		msg += " (want " + e.Want + ")"
	}
	return msg
}

func (e *UnexpectedTokenError) Unwrap() error { return ErrUnexpectedToken }

// UnsupportedValueError reports a value the encoder has no rule for.
type UnsupportedValueError struct {
	Value any
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("codec: no encoding for value of type %T", e.Value)
}

func (e *UnsupportedValueError) Unwrap() error { return ErrUnsupportedValue }
