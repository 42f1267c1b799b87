// Package codec reads and writes index fragments.
//
// A fragment is a sequence of records, one compact object per line:
//
//	{"class":"org.example.Foo","values":{"type":"org.example.Command","priority":100.0}}
//
// The grammar is a deliberately small JSON dialect:
//   - integers and floats are told apart by spelling (100 vs 100.0)
//   - NaN, Infinity and -Infinity are bare identifiers
//   - non-ASCII characters are always written as \uXXXX escapes
//   - enum constants are {"enum":"<type>","value":"<name>"}
//   - class literals are written as plain strings
//
// A read-only decoder for the older line format lives in legacy.go and
// yields the same record shape.
package codec

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"class-index/internal/annotation"
)

// Encoder writes records to a fragment stream.
type Encoder struct {
	w   *bufio.Writer
	buf bytes.Buffer
}

// NewEncoder returns an Encoder writing to w. Call Flush when done.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one record followed by a newline. A record holding a value
// without an encoding rule is rejected as a whole and nothing is written.
func (e *Encoder) Encode(rec annotation.Record) error {
	e.buf.Reset()
	e.buf.WriteString(`{"class":`)
	writeString(&e.buf, rec.Class)
	e.buf.WriteString(`,"values":`)
	if err := writeMap(&e.buf, rec.Values); err != nil {
		return err
	}
	e.buf.WriteString("}\n")
	_, err := e.w.Write(e.buf.Bytes())
	return err
}

// Flush writes any buffered data to the underlying writer.
func (e *Encoder) Flush() error { return e.w.Flush() }

// Marshal renders a single value in fragment syntax.
func Marshal(v annotation.Value) ([]byte, error) {
	var b bytes.Buffer
	if err := writeValue(&b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func writeValue(b *bytes.Buffer, v annotation.Value) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case annotation.Bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case annotation.Int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case annotation.Float:
		writeFloat(b, float64(x))
	case annotation.String:
		writeString(b, string(x))
	case annotation.ClassRef:
		writeString(b, string(x))
	case annotation.EnumRef:
		if x.Type == "" || x.Name == "" {
			return &UnsupportedValueError{Value: v}
		}
		b.WriteString(`{"enum":`)
		writeString(b, x.Type)
		b.WriteString(`,"value":`)
		writeString(b, x.Name)
		b.WriteByte('}')
	case annotation.List:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeValue(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case *annotation.Map:
		return writeMap(b, x)
	default:
		return &UnsupportedValueError{Value: v}
	}
	return nil
}

func writeMap(b *bytes.Buffer, m *annotation.Map) error {
	b.WriteByte('{')
	var err error
	first := true
	m.Range(func(k string, v annotation.Value) bool {
		if !first {
			b.WriteByte(',')
		}
		first = false
		writeString(b, k)
		b.WriteByte(':')
		err = writeValue(b, v)
		return err == nil
	})
	if err != nil {
		return err
	}
	b.WriteByte('}')
	return nil
}

// writeFloat always spells a float so it cannot be mistaken for an integer.
func writeFloat(b *bytes.Buffer, f float64) {
	switch {
	case math.IsNaN(f):
		b.WriteString("NaN")
	case math.IsInf(f, 1):
		b.WriteString("Infinity")
	case math.IsInf(f, -1):
		b.WriteString("-Infinity")
	default:
		s := strconv.FormatFloat(f, 'g', -1, 64)
		b.WriteString(s)
		if !strings.ContainsAny(s, ".eE") {
			b.WriteString(".0")
		}
	}
}

const hexDigits = "0123456789abcdef"

func writeString(b *bytes.Buffer, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r < 0x20 || r >= 0x7F:
			if r >= 0x10000 {
				hi, lo := utf16.EncodeRune(r)
				writeEscape(b, hi)
				writeEscape(b, lo)
			} else {
				writeEscape(b, r)
			}
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

func writeEscape(b *bytes.Buffer, r rune) {
	b.WriteString(`\u`)
	b.WriteByte(hexDigits[(r>>12)&0xF])
	b.WriteByte(hexDigits[(r>>8)&0xF])
	b.WriteByte(hexDigits[(r>>4)&0xF])
	b.WriteByte(hexDigits[r&0xF])
}
