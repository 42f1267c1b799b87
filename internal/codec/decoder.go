package codec

import (
	"bufio"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"class-index/internal/annotation"
)

// RecordReader is a stream of records from one fragment. Next returns
// io.EOF after the last record. Both the current and the legacy format
// decoders implement it.
type RecordReader interface {
	Next() (annotation.Record, error)
}

// Decoder reads records one at a time from a fragment stream. It never
// buffers more than the record being decoded.
type Decoder struct {
	r        *bufio.Reader
	source   string
	offset   int64
	pushback []rune
	err      error
}

// NewDecoder returns a Decoder reading from r. source names the fragment in
// error messages.
func NewDecoder(r io.Reader, source string) *Decoder {
	return &Decoder{r: bufio.NewReader(r), source: source}
}

const eof = -1

// read returns the next rune, or eof.
func (d *Decoder) read() (rune, error) {
	if n := len(d.pushback); n > 0 {
		c := d.pushback[n-1]
		d.pushback = d.pushback[:n-1]
		d.offset += int64(runeLen(c))
		return c, nil
	}
	c, size, err := d.r.ReadRune()
	if err == io.EOF {
		return eof, nil
	}
	if err != nil {
		return eof, err
	}
	d.offset += int64(size)
	return c, nil
}

func (d *Decoder) unread(c rune) {
	if c == eof {
		return
	}
	d.pushback = append(d.pushback, c)
	d.offset -= int64(runeLen(c))
}

func runeLen(c rune) int {
	if n := utf8.RuneLen(c); n > 0 {
		return n
	}
	return 1
}

func (d *Decoder) unexpected(c rune, want string) error {
	off := d.offset
	if c != eof {
		off -= int64(runeLen(c))
	}
	return &UnexpectedTokenError{Source: d.source, Offset: off, Char: c, Want: want}
}

// skipSpace returns the first non-whitespace rune.
func (d *Decoder) skipSpace() (rune, error) {
	for {
		c, err := d.read()
		if err != nil {
			return eof, err
		}
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c, nil
	}
}

func (d *Decoder) expect(want rune) error {
	c, err := d.skipSpace()
	if err != nil {
		return err
	}
	if c != want {
		return d.unexpected(c, strconv.QuoteRune(want))
	}
	return nil
}

// Next decodes the next record. After an error every later call returns the
// same error.
func (d *Decoder) Next() (annotation.Record, error) {
	if d.err != nil {
		return annotation.Record{}, d.err
	}
	rec, err := d.next()
	if err != nil {
		d.err = err
	}
	return rec, err
}

func (d *Decoder) next() (annotation.Record, error) {
	c, err := d.skipSpace()
	if err != nil {
		return annotation.Record{}, err
	}
	switch c {
	case eof:
		return annotation.Record{}, io.EOF
	case '{':
	default:
		// a bare null here is how truncated or zeroed fragments show up
		return annotation.Record{}, d.unexpected(c, "'{' starting a record")
	}
	obj, err := d.members(true)
	if err != nil {
		return annotation.Record{}, err
	}
	cls, ok := obj.Get("class")
	name, isStr := cls.(annotation.String)
	if !ok || !isStr || name == "" {
		return annotation.Record{}, &UnexpectedTokenError{Source: d.source, Offset: d.offset, Char: '}', Want: `non-empty "class" string`}
	}
	rec := annotation.Record{Class: string(name), Values: annotation.NewMap()}
	if vals, ok := obj.Get("values"); ok {
		switch m := vals.(type) {
		case *annotation.Map:
			rec.Values = m
		default:
			return annotation.Record{}, &UnexpectedTokenError{Source: d.source, Offset: d.offset, Char: '}', Want: `"values" object`}
		}
	}
	return rec, nil
}

// value decodes one value. A null yields a nil Value.
func (d *Decoder) value() (annotation.Value, error) {
	c, err := d.skipSpace()
	if err != nil {
		return nil, err
	}
	switch {
	case c == '{':
		return d.object()
	case c == '[':
		return d.list()
	case c == '"':
		s, err := d.str()
		return annotation.String(s), err
	case c == '-' || (c >= '0' && c <= '9'):
		d.unread(c)
		return d.number()
	case isIdentStart(c):
		d.unread(c)
		return d.ident()
	default:
		return nil, d.unexpected(c, "value")
	}
}

func (d *Decoder) object() (annotation.Value, error) {
	m, err := d.members(false)
	if err != nil {
		return nil, err
	}
	return asEnum(m), nil
}

// members reads an object body into a map; the opening brace is already
// consumed. In a record object the "values" member is always a parameter
// map, even when its only parameters are named enum and value.
func (d *Decoder) members(record bool) (*annotation.Map, error) {
	m := annotation.NewMap()
	c, err := d.skipSpace()
	if err != nil {
		return nil, err
	}
	if c == '}' {
		return m, nil
	}
	d.unread(c)
	for {
		c, err := d.skipSpace()
		if err != nil {
			return nil, err
		}
		if c != '"' {
			return nil, d.unexpected(c, "object key")
		}
		key, err := d.str()
		if err != nil {
			return nil, err
		}
		if err := d.expect(':'); err != nil {
			return nil, err
		}
		var v annotation.Value
		if record && key == "values" {
			v, err = d.params()
		} else {
			v, err = d.value()
		}
		if err != nil {
			return nil, err
		}
		m.Set(key, v)

		c, err = d.skipSpace()
		if err != nil {
			return nil, err
		}
		switch c {
		case ',':
			continue
		case '}':
			return m, nil
		default:
			return nil, d.unexpected(c, "',' or '}'")
		}
	}
}

// params reads a parameter map without enum recognition. Anything other
// than an object is returned as decoded and rejected by the caller.
func (d *Decoder) params() (annotation.Value, error) {
	c, err := d.skipSpace()
	if err != nil {
		return nil, err
	}
	if c != '{' {
		d.unread(c)
		return d.value()
	}
	m, err := d.members(false)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// asEnum recognizes the {"enum":type,"value":name} shape.
func asEnum(m *annotation.Map) annotation.Value {
	if m.Len() != 2 {
		return m
	}
	t, ok1 := m.Get("enum")
	n, ok2 := m.Get("value")
	ts, ok3 := t.(annotation.String)
	ns, ok4 := n.(annotation.String)
	if ok1 && ok2 && ok3 && ok4 {
		return annotation.EnumRef{Type: string(ts), Name: string(ns)}
	}
	return m
}

func (d *Decoder) list() (annotation.Value, error) {
	list := annotation.List{}
	c, err := d.skipSpace()
	if err != nil {
		return nil, err
	}
	if c == ']' {
		return list, nil
	}
	d.unread(c)
	for {
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		if v != nil {
			list = append(list, v)
		}
		c, err := d.skipSpace()
		if err != nil {
			return nil, err
		}
		switch c {
		case ',':
			continue
		case ']':
			return list, nil
		default:
			return nil, d.unexpected(c, "',' or ']'")
		}
	}
}

// str reads a string body; the opening quote is already consumed.
func (d *Decoder) str() (string, error) {
	var b strings.Builder
	for {
		c, err := d.read()
		if err != nil {
			return "", err
		}
		switch c {
		case eof:
			return "", d.unexpected(c, "closing '\"'")
		case '"':
			return b.String(), nil
		case '\\':
			if err := d.escape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteRune(c)
		}
	}
}

// escape decodes one backslash escape into b. An unpaired surrogate
// becomes U+FFFD; an escape following an unpaired high surrogate is still
// decoded on its own.
func (d *Decoder) escape(b *strings.Builder) error {
	c, err := d.read()
	if err != nil {
		return err
	}
	switch c {
	case '"', '\\', '/':
		b.WriteRune(c)
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'u':
		r, err := d.hex4()
		if err != nil {
			return err
		}
		for isHighSurrogate(r) {
			lo, ok, err := d.lowSurrogate()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if !isHighSurrogate(lo) && utf16.IsSurrogate(lo) {
				b.WriteRune(utf16.DecodeRune(r, lo))
				return nil
			}
			b.WriteRune(utf8.RuneError)
			r = lo
		}
		if utf16.IsSurrogate(r) {
			r = utf8.RuneError
		}
		b.WriteRune(r)
	default:
		return d.unexpected(c, "escape character")
	}
	return nil
}

// lowSurrogate reads the \uXXXX escape that may follow a high surrogate.
// ok is false, with nothing consumed, when no \u escape follows.
func (d *Decoder) lowSurrogate() (rune, bool, error) {
	c, err := d.read()
	if err != nil {
		return 0, false, err
	}
	if c != '\\' {
		d.unread(c)
		return 0, false, nil
	}
	u, err := d.read()
	if err != nil {
		return 0, false, err
	}
	if u != 'u' {
		d.unread(u)
		d.unread(c)
		return 0, false, nil
	}
	lo, err := d.hex4()
	return lo, err == nil, err
}

func isHighSurrogate(r rune) bool {
	return r >= 0xd800 && r < 0xdc00
}

func (d *Decoder) hex4() (rune, error) {
	var r rune
	for i := 0; i < 4; i++ {
		c, err := d.read()
		if err != nil {
			return 0, err
		}
		var v rune
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return 0, d.unexpected(c, "hex digit")
		}
		r = r<<4 | v
	}
	return r, nil
}

func (d *Decoder) number() (annotation.Value, error) {
	var b strings.Builder
	first := true
	for {
		c, err := d.read()
		if err != nil {
			return nil, err
		}
		if first && c == '-' {
			next, err := d.read()
			if err != nil {
				return nil, err
			}
			d.unread(next)
			if next == 'I' {
				v, err := d.ident()
				if err != nil {
					return nil, err
				}
				if f, ok := v.(annotation.Float); ok && math.IsInf(float64(f), 1) {
					return annotation.Float(math.Inf(-1)), nil
				}
				return nil, d.unexpected('I', "Infinity")
			}
		}
		first = false
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			b.WriteRune(c)
			continue
		}
		d.unread(c)
		break
	}
	s := b.String()
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return annotation.Int(n), nil
		} else if !errors.Is(err, strconv.ErrRange) {
			return nil, d.badNumber(s)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, d.badNumber(s)
	}
	return annotation.Float(f), nil
}

func (d *Decoder) badNumber(s string) error {
	r, _ := utf8.DecodeRuneInString(s)
	return &UnexpectedTokenError{Source: d.source, Offset: d.offset - int64(len(s)), Char: r, Want: "number, got " + strconv.Quote(s)}
}

func isIdentStart(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (d *Decoder) ident() (annotation.Value, error) {
	start := d.offset
	var b strings.Builder
	for {
		c, err := d.read()
		if err != nil {
			return nil, err
		}
		if !isIdentStart(c) {
			d.unread(c)
			break
		}
		b.WriteRune(c)
	}
	switch b.String() {
	case "true":
		return annotation.Bool(true), nil
	case "false":
		return annotation.Bool(false), nil
	case "null":
		return nil, nil
	case "NaN":
		return annotation.Float(math.NaN()), nil
	case "Infinity":
		return annotation.Float(math.Inf(1)), nil
	default:
		r, _ := utf8.DecodeRuneInString(b.String())
		return nil, &UnexpectedTokenError{Source: d.source, Offset: start, Char: r, Want: "true, false, null, NaN or Infinity"}
	}
}
