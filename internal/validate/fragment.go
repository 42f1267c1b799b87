// Package validate checks index fragments beyond what the decoder enforces.
// It is not a schema validator; it looks for the structural mistakes that
// hand-edited or foreign-built fragments tend to carry, and reports all of
// them in one error.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"class-index/internal/annotation"
	"class-index/internal/codec"
)

// Fragment validates the records of one fragment:
//
//   - the annotation type and every class are binary class names
//   - records are sorted by class, without duplicates
//   - every value can be written back
//
// It returns nil when everything looks fine, or a single error listing
// every issue found.
func Fragment(annotationType string, recs []annotation.Record) error {
	var errs errlist
	if !isBinaryName(annotationType) {
		errs.add("annotation type %q is not a class name", annotationType)
	}
	for i, r := range recs {
		prefix := fmt.Sprintf("records[%d] (%s)", i, r.Class)
		if !isBinaryName(r.Class) {
			errs.add("%s: class is not a class name", prefix)
		}
		if i > 0 {
			switch prev := recs[i-1].Class; {
			case prev == r.Class:
				errs.add("%s: duplicate class", prefix)
			case prev > r.Class:
				errs.add("%s: out of order after %s", prefix, prev)
			}
		}
		if _, err := codec.Marshal(r.Values); err != nil {
			errs.add("%s: %v", prefix, err)
		}
	}
	return errs.err()
}

// isBinaryName accepts dotted JVM class names such as "a.b.Outer$Inner".
func isBinaryName(s string) bool {
	if s == "" {
		return false
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return false
		}
		for i, r := range seg {
			switch {
			case r == '$' || r == '_':
			case unicode.IsLetter(r):
			case unicode.IsDigit(r) && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

// errlist aggregates multiple validation issues into a single error.
type errlist struct {
	msgs []string
}

func (e *errlist) add(format string, args ...any) {
	e.msgs = append(e.msgs, fmt.Sprintf(format, args...))
}

func (e *errlist) err() error {
	if len(e.msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(e.msgs, "\n"))
}
