// Package classfiletest assembles small but valid class files for tests.
//
//	b := classfiletest.NewClass("org.example.Foo")
//	b.Annotate("org.example.Plugin",
//		classfiletest.Pair("type", classfiletest.ClassOf("org.example.Command")),
//		classfiletest.Pair("priority", classfiletest.Double(100)))
//	data := b.Bytes()
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// Class builds one class file.
type Class struct {
	name        string
	access      uint16
	annotations []annot
	fields      int
	pool        pool
}

type annot struct {
	typ   string
	pairs []ElementPair
}

// ElementPair is one name=value entry of an annotation.
type ElementPair struct {
	Name  string
	Value Element
}

// Element is an encodable element_value.
type Element interface {
	encode(p *pool, w *bytes.Buffer)
}

// NewClass starts a public class with the given dotted name.
func NewClass(name string) *Class {
	return &Class{name: name, access: 0x0021}
}

// AnnotationType marks the class as an annotation interface.
func (c *Class) AnnotationType() *Class {
	c.access = 0x2000 | 0x0200 | 0x0400 | 0x0001
	return c
}

// WithFields adds n fields, each carrying a ConstantValue attribute, so
// parsers have to skip member tables.
func (c *Class) WithFields(n int) *Class {
	c.fields = n
	return c
}

// Annotate adds a class-level runtime-visible annotation.
func (c *Class) Annotate(typ string, pairs ...ElementPair) *Class {
	c.annotations = append(c.annotations, annot{typ: typ, pairs: pairs})
	return c
}

// Pair is shorthand for ElementPair{name, v}.
func Pair(name string, v Element) ElementPair { return ElementPair{Name: name, Value: v} }

// Bytes renders the class file.
func (c *Class) Bytes() []byte {
	c.pool = pool{index: map[string]uint16{}}
	p := &c.pool

	var body bytes.Buffer
	u2 := func(v uint16) { _ = binary.Write(&body, binary.BigEndian, v) }
	u4 := func(v uint32) { _ = binary.Write(&body, binary.BigEndian, v) }

	u2(c.access)
	u2(p.class(internal(c.name)))
	u2(p.class("java/lang/Object"))
	u2(0) // interfaces

	u2(uint16(c.fields))
	for i := 0; i < c.fields; i++ {
		u2(0x0019)
		u2(p.utf8("F" + string(rune('a'+i%26))))
		u2(p.utf8("J"))
		u2(1)
		u2(p.utf8("ConstantValue"))
		u4(2)
		u2(p.long(int64(i) + 1<<40))
	}

	u2(0) // methods

	var attrs [][]byte
	// an unrelated attribute first, to be skipped by length
	var src bytes.Buffer
	_ = binary.Write(&src, binary.BigEndian, p.utf8("SourceFile"))
	_ = binary.Write(&src, binary.BigEndian, uint32(2))
	_ = binary.Write(&src, binary.BigEndian, p.utf8(simpleName(c.name)+".java"))
	attrs = append(attrs, src.Bytes())

	if len(c.annotations) > 0 {
		var ab bytes.Buffer
		_ = binary.Write(&ab, binary.BigEndian, uint16(len(c.annotations)))
		for _, a := range c.annotations {
			encodeAnnotation(p, &ab, a.typ, a.pairs)
		}
		var attr bytes.Buffer
		_ = binary.Write(&attr, binary.BigEndian, p.utf8("RuntimeVisibleAnnotations"))
		_ = binary.Write(&attr, binary.BigEndian, uint32(ab.Len()))
		attr.Write(ab.Bytes())
		attrs = append(attrs, attr.Bytes())
	}
	u2(uint16(len(attrs)))
	for _, a := range attrs {
		body.Write(a)
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.BigEndian, uint32(0xCAFEBABE))
	_ = binary.Write(&out, binary.BigEndian, uint16(0))  // minor
	_ = binary.Write(&out, binary.BigEndian, uint16(52)) // major (Java 8)
	_ = binary.Write(&out, binary.BigEndian, p.count())
	out.Write(p.buf.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

func encodeAnnotation(p *pool, w *bytes.Buffer, typ string, pairs []ElementPair) {
	_ = binary.Write(w, binary.BigEndian, p.utf8("L"+internal(typ)+";"))
	_ = binary.Write(w, binary.BigEndian, uint16(len(pairs)))
	for _, pr := range pairs {
		_ = binary.Write(w, binary.BigEndian, p.utf8(pr.Name))
		pr.Value.encode(p, w)
	}
}

type constElem struct {
	tag byte
	idx func(p *pool) uint16
}

func (e constElem) encode(p *pool, w *bytes.Buffer) {
	w.WriteByte(e.tag)
	_ = binary.Write(w, binary.BigEndian, e.idx(p))
}

// Int is an int element.
func Int(v int32) Element {
	return constElem{'I', func(p *pool) uint16 { return p.integer(v) }}
}

// Short is a short element.
func Short(v int16) Element {
	return constElem{'S', func(p *pool) uint16 { return p.integer(int32(v)) }}
}

// Byte is a byte element.
func Byte(v int8) Element {
	return constElem{'B', func(p *pool) uint16 { return p.integer(int32(v)) }}
}

// Char is a char element.
func Char(v rune) Element {
	return constElem{'C', func(p *pool) uint16 { return p.integer(int32(v)) }}
}

// Bool is a boolean element.
func Bool(v bool) Element {
	n := int32(0)
	if v {
		n = 1
	}
	return constElem{'Z', func(p *pool) uint16 { return p.integer(n) }}
}

// Long is a long element.
func Long(v int64) Element {
	return constElem{'J', func(p *pool) uint16 { return p.long(v) }}
}

// Float is a float element.
func Float(v float32) Element {
	return constElem{'F', func(p *pool) uint16 { return p.float(v) }}
}

// Double is a double element.
func Double(v float64) Element {
	return constElem{'D', func(p *pool) uint16 { return p.double(v) }}
}

// Str is a String element.
func Str(v string) Element {
	return constElem{'s', func(p *pool) uint16 { return p.utf8(v) }}
}

// ClassOf is a class literal element for a dotted class name.
func ClassOf(name string) Element {
	return constElem{'c', func(p *pool) uint16 { return p.utf8("L" + internal(name) + ";") }}
}

type enumElem struct{ typ, name string }

func (e enumElem) encode(p *pool, w *bytes.Buffer) {
	w.WriteByte('e')
	_ = binary.Write(w, binary.BigEndian, p.utf8("L"+internal(e.typ)+";"))
	_ = binary.Write(w, binary.BigEndian, p.utf8(e.name))
}

// Enum is an enum constant element.
func Enum(typ, name string) Element { return enumElem{typ, name} }

type arrayElem []Element

func (a arrayElem) encode(p *pool, w *bytes.Buffer) {
	w.WriteByte('[')
	_ = binary.Write(w, binary.BigEndian, uint16(len(a)))
	for _, e := range a {
		e.encode(p, w)
	}
}

// Array is an array element.
func Array(elems ...Element) Element { return arrayElem(elems) }

type nestedElem struct {
	typ   string
	pairs []ElementPair
}

func (n nestedElem) encode(p *pool, w *bytes.Buffer) {
	w.WriteByte('@')
	encodeAnnotation(p, w, n.typ, n.pairs)
}

// Nested is a nested annotation element.
func Nested(typ string, pairs ...ElementPair) Element { return nestedElem{typ, pairs} }

// Raw writes the given bytes verbatim, for malformed inputs.
type Raw []byte

func (r Raw) encode(_ *pool, w *bytes.Buffer) { w.Write(r) }

// pool is an append-only constant pool with de-duplication.
type pool struct {
	buf   bytes.Buffer
	next  uint16
	index map[string]uint16
}

func (p *pool) add(key string, slots uint16, write func()) uint16 {
	if p.next == 0 {
		p.next = 1
	}
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := p.next
	write()
	p.next += slots
	p.index[key] = idx
	return idx
}

func (p *pool) count() uint16 {
	if p.next == 0 {
		return 1
	}
	return p.next
}

func (p *pool) utf8(s string) uint16 {
	return p.add("u:"+s, 1, func() {
		p.buf.WriteByte(1)
		enc := modifiedUTF8(s)
		_ = binary.Write(&p.buf, binary.BigEndian, uint16(len(enc)))
		p.buf.Write(enc)
	})
}

func (p *pool) class(internalName string) uint16 {
	name := p.utf8(internalName)
	return p.add("c:"+internalName, 1, func() {
		p.buf.WriteByte(7)
		_ = binary.Write(&p.buf, binary.BigEndian, name)
	})
}

func (p *pool) integer(v int32) uint16 {
	return p.add("i:"+strconv.FormatInt(int64(v), 10), 1, func() {
		p.buf.WriteByte(3)
		_ = binary.Write(&p.buf, binary.BigEndian, v)
	})
}

func (p *pool) float(v float32) uint16 {
	return p.add("f:"+strconv.FormatUint(uint64(math.Float32bits(v)), 16), 1, func() {
		p.buf.WriteByte(4)
		_ = binary.Write(&p.buf, binary.BigEndian, math.Float32bits(v))
	})
}

func (p *pool) long(v int64) uint16 {
	return p.add("j:"+strconv.FormatInt(v, 10), 2, func() {
		p.buf.WriteByte(5)
		_ = binary.Write(&p.buf, binary.BigEndian, v)
	})
}

func (p *pool) double(v float64) uint16 {
	return p.add("d:"+strconv.FormatUint(math.Float64bits(v), 16), 2, func() {
		p.buf.WriteByte(6)
		_ = binary.Write(&p.buf, binary.BigEndian, math.Float64bits(v))
	})
}

func modifiedUTF8(s string) []byte {
	var out []byte
	for _, r := range s {
		switch {
		case r == 0:
			out = append(out, 0xC0, 0x80)
		case r < 0x80:
			out = append(out, byte(r))
		case r < 0x800:
			out = append(out, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			out = append(out, 0xE0|byte(r>>12), 0x80|byte((r>>6)&0x3F), 0x80|byte(r&0x3F))
		default:
			r -= 0x10000
			for _, u := range []rune{0xD800 + (r >> 10), 0xDC00 + (r & 0x3FF)} {
				out = append(out, 0xE0|byte(u>>12), 0x80|byte((u>>6)&0x3F), 0x80|byte(u&0x3F))
			}
		}
	}
	return out
}

func internal(dotted string) string { return strings.ReplaceAll(dotted, ".", "/") }

func simpleName(dotted string) string {
	if i := strings.LastIndex(dotted, "."); i >= 0 {
		return dotted[i+1:]
	}
	return dotted
}
