package codec

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"

	"class-index/internal/annotation"
)

// LegacyDecoder reads the older line-oriented fragment format:
//
//	# comment
//	org.example.Foo
//	org.example.Bar {"priority":2.0,"type":"org.example.Command"}
//
// Each non-blank, non-comment line names a class, optionally followed by
// its parameter object in the current value grammar. The format is never
// written any more.
type LegacyDecoder struct {
	r      *bufio.Reader
	source string
	line   int
	err    error
}

// NewLegacyDecoder returns a LegacyDecoder reading from r.
func NewLegacyDecoder(r io.Reader, source string) *LegacyDecoder {
	return &LegacyDecoder{r: bufio.NewReader(r), source: source}
}

// Next returns the next record, or io.EOF.
func (d *LegacyDecoder) Next() (annotation.Record, error) {
	if d.err != nil {
		return annotation.Record{}, d.err
	}
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			d.err = err
			return annotation.Record{}, err
		}
		if line == "" && err == io.EOF {
			d.err = io.EOF
			return annotation.Record{}, io.EOF
		}
		d.line++
		text := strings.TrimSpace(line)
		if text == "" || strings.HasPrefix(text, "#") {
			if err == io.EOF {
				d.err = io.EOF
				return annotation.Record{}, io.EOF
			}
			continue
		}
		rec, perr := d.parseLine(text)
		if perr != nil {
			d.err = perr
			return annotation.Record{}, perr
		}
		return rec, nil
	}
}

func (d *LegacyDecoder) parseLine(text string) (annotation.Record, error) {
	end := strings.IndexFunc(text, func(r rune) bool { return unicode.IsSpace(r) || r == '{' })
	if end < 0 {
		end = len(text)
	}
	rec := annotation.Record{Class: text[:end], Values: annotation.NewMap()}
	if !isClassName(rec.Class) {
		r := []rune(text)[0]
		return annotation.Record{}, &UnexpectedTokenError{Source: d.where(), Offset: 0, Char: r, Want: "class name"}
	}
	rest := strings.TrimSpace(text[end:])
	if rest == "" {
		return rec, nil
	}
	vd := NewDecoder(strings.NewReader(rest), d.where())
	c, err := vd.skipSpace()
	if err != nil {
		return annotation.Record{}, err
	}
	if c != '{' {
		return annotation.Record{}, vd.unexpected(c, "'{' starting the values")
	}
	m, err := vd.members(false)
	if err != nil {
		return annotation.Record{}, err
	}
	if c, err := vd.skipSpace(); err != nil || c != eof {
		if err != nil {
			return annotation.Record{}, err
		}
		return annotation.Record{}, vd.unexpected(c, "end of line")
	}
	rec.Values = m
	return rec, nil
}

func (d *LegacyDecoder) where() string {
	return fmt.Sprintf("%s:%d", d.source, d.line)
}

func isClassName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '.' || r == '$' || r == '_':
		case unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}
