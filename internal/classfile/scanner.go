// Package classfile reads class-level runtime-visible annotations straight
// from compiled JVM class files, without loading or linking the class.
//
// Only enough of the layout is interpreted to reach the class attributes:
// the constant pool is walked once to record entry offsets, interfaces,
// fields and methods are skipped by their declared sizes, and attribute
// bodies other than RuntimeVisibleAnnotations are never looked at.
//
// Value mapping:
//   - byte, short, int, long         -> annotation.Int
//   - float, double                  -> annotation.Float
//   - boolean                        -> annotation.Bool
//   - char, String                   -> annotation.String
//   - Class literal                  -> annotation.ClassRef (dotted name)
//   - enum constant                  -> annotation.EnumRef
//   - nested annotation              -> *annotation.Map
//   - array                          -> annotation.List
package classfile

import (
	"strings"

	"class-index/internal/annotation"
)

const (
	magic = 0xCAFEBABE

	// AccAnnotation marks an annotation interface.
	AccAnnotation = 0x2000

	runtimeVisibleAnnotations = "RuntimeVisibleAnnotations"
)

// Annotation is one annotation applied to a class.
type Annotation struct {
	Type   string // dotted name, e.g. "org.example.Plugin"
	Values *annotation.Map
}

// Class is the slice of a class file the indexer cares about.
type Class struct {
	Name        string // dotted name, e.g. "org.example.Foo" or "org.example.Outer$Inner"
	Access      uint16
	Annotations []Annotation
}

// IsAnnotation reports whether the class is itself an annotation type.
func (c *Class) IsAnnotation() bool { return c.Access&AccAnnotation != 0 }

// Has reports whether the class carries an annotation of the given type.
func (c *Class) Has(annotationType string) bool {
	for _, a := range c.Annotations {
		if a.Type == annotationType {
			return true
		}
	}
	return false
}

// Scan returns annotation type -> parameter values for every class-level
// runtime-visible annotation declared directly on the class.
func Scan(b []byte) (map[string]*annotation.Map, error) {
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*annotation.Map, len(c.Annotations))
	for _, a := range c.Annotations {
		out[a.Type] = a.Values
	}
	return out, nil
}

// Parse reads the class name, access flags and class-level annotations.
func Parse(b []byte) (*Class, error) {
	r := &reader{buf: b}
	if r.u4() != magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, &MalformedError{Offset: 0, Reason: "bad magic number"}
	}
	r.skip(4) // minor, major
	cp := readConstPool(r)
	if r.err != nil {
		return nil, r.err
	}

	c := &Class{Access: r.u2()}
	thisIdx := r.u2()
	r.skip(2) // super_class
	r.skip(2 * int(r.u2()))
	skipMembers(r) // fields
	skipMembers(r) // methods
	if r.err != nil {
		return nil, r.err
	}
	name, err := cp.className(thisIdx)
	if err != nil {
		return nil, err
	}
	c.Name = internalToDotted(name)

	nattrs := int(r.u2())
	for i := 0; i < nattrs && r.err == nil; i++ {
		nameIdx := r.u2()
		length := int(r.u4())
		start := r.pos
		r.skip(length)
		if r.err != nil {
			break
		}
		attr, err := cp.utf8(nameIdx)
		if err != nil {
			return nil, err
		}
		if attr != runtimeVisibleAnnotations {
			continue
		}
		body := &reader{buf: b[:start+length], pos: start}
		anns, err := readAnnotations(body, cp)
		if err != nil {
			return nil, err
		}
		c.Annotations = append(c.Annotations, anns...)
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// skipMembers skips a fields or methods table.
func skipMembers(r *reader) {
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		r.skip(6) // access, name, descriptor
		skipAttributes(r)
	}
}

func skipAttributes(r *reader) {
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		r.skip(2)
		r.skip(int(r.u4()))
	}
}

func readAnnotations(r *reader, cp *constPool) ([]Annotation, error) {
	n := int(r.u2())
	out := make([]Annotation, 0, n)
	for i := 0; i < n; i++ {
		a, err := readAnnotation(r, cp)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, r.err
}

func readAnnotation(r *reader, cp *constPool) (Annotation, error) {
	typeIdx := r.u2()
	npairs := int(r.u2())
	if r.err != nil {
		return Annotation{}, r.err
	}
	desc, err := cp.utf8(typeIdx)
	if err != nil {
		return Annotation{}, err
	}
	values := annotation.NewMap()
	for i := 0; i < npairs; i++ {
		nameIdx := r.u2()
		if r.err != nil {
			return Annotation{}, r.err
		}
		name, err := cp.utf8(nameIdx)
		if err != nil {
			return Annotation{}, err
		}
		v, err := readElementValue(r, cp)
		if err != nil {
			return Annotation{}, err
		}
		values.Set(name, v)
	}
	return Annotation{Type: descriptorToName(desc), Values: values}, nil
}

func readElementValue(r *reader, cp *constPool) (annotation.Value, error) {
	tag := r.u1()
	if r.err != nil {
		return nil, r.err
	}
	switch tag {
	case 'B', 'I', 'S':
		v, err := cp.integer(r.u2())
		return annotation.Int(v), orSticky(r, err)
	case 'C':
		v, err := cp.integer(r.u2())
		return annotation.String(string(rune(v))), orSticky(r, err)
	case 'Z':
		v, err := cp.integer(r.u2())
		return annotation.Bool(v != 0), orSticky(r, err)
	case 'J':
		v, err := cp.long(r.u2())
		return annotation.Int(v), orSticky(r, err)
	case 'F':
		v, err := cp.float(r.u2())
		return annotation.Float(float64(v)), orSticky(r, err)
	case 'D':
		v, err := cp.double(r.u2())
		return annotation.Float(v), orSticky(r, err)
	case 's':
		v, err := cp.utf8(r.u2())
		return annotation.String(v), orSticky(r, err)
	case 'c':
		v, err := cp.utf8(r.u2())
		return annotation.ClassRef(descriptorToName(v)), orSticky(r, err)
	case 'e':
		typeIdx, nameIdx := r.u2(), r.u2()
		if r.err != nil {
			return nil, r.err
		}
		typ, err := cp.utf8(typeIdx)
		if err != nil {
			return nil, err
		}
		name, err := cp.utf8(nameIdx)
		if err != nil {
			return nil, err
		}
		return annotation.EnumRef{Type: descriptorToName(typ), Name: name}, nil
	case '@':
		a, err := readAnnotation(r, cp)
		if err != nil {
			return nil, err
		}
		return a.Values, nil
	case '[':
		n := int(r.u2())
		list := make(annotation.List, 0, n)
		for i := 0; i < n; i++ {
			v, err := readElementValue(r, cp)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, r.err
	default:
		return nil, &MalformedError{Offset: r.pos - 1, Reason: "unknown element value tag '" + string(rune(tag)) + "'"}
	}
}

// orSticky prefers the reader's own failure (truncation) over a lookup
// error caused by the garbage index it produced.
func orSticky(r *reader, err error) error {
	if r.err != nil {
		return r.err
	}
	return err
}

var primitives = map[byte]string{
	'B': "byte", 'C': "char", 'D': "double", 'F': "float",
	'I': "int", 'J': "long", 'S': "short", 'Z': "boolean", 'V': "void",
}

// descriptorToName turns a field descriptor ("Lorg/example/Foo;", "[I",
// "V") into a dotted source-level name ("org.example.Foo", "int[]",
// "void"). Anything else is treated as an internal name.
func descriptorToName(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	base := desc[dims:]
	var name string
	switch {
	case len(base) >= 2 && base[0] == 'L' && base[len(base)-1] == ';':
		name = internalToDotted(base[1 : len(base)-1])
	case len(base) == 1 && primitives[base[0]] != "":
		name = primitives[base[0]]
	default:
		name = internalToDotted(base)
	}
	return name + strings.Repeat("[]", dims)
}

func internalToDotted(s string) string {
	return strings.ReplaceAll(s, "/", ".")
}
