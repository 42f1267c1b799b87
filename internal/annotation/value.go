// Package annotation models annotation parameter values as they are read from
// compiled classes and persisted in index fragments.
//
// Value is a closed union: Bool, Int, Float, String, ClassRef, EnumRef, List
// and *Map. There is no null value; containers never hold a nil Value.
package annotation

import (
	"math"
)

// Value is one annotation parameter value.
type Value interface {
	isValue()
}

// Bool is a boolean parameter.
type Bool bool

// Int covers byte, short, int and long parameters.
type Int int64

// Float covers float and double parameters.
type Float float64

// String is a string (or char) parameter.
type String string

// ClassRef is a class literal, held as a fully qualified name.
type ClassRef string

// EnumRef is an enum constant.
type EnumRef struct {
	Type string // fully qualified enum type
	Name string // constant name
}

// List is an array parameter.
type List []Value

func (Bool) isValue()     {}
func (Int) isValue()      {}
func (Float) isValue()    {}
func (String) isValue()   {}
func (ClassRef) isValue() {}
func (EnumRef) isValue()  {}
func (List) isValue()     {}
func (*Map) isValue()     {}

// Map is an ordered name -> Value mapping. It is used both for the parameter
// set of a record and for nested annotations.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// Set stores v under name, keeping the original position when name already
// exists. Nil values are ignored. Set returns m for chaining.
func (m *Map) Set(name string, v Value) *Map {
	if v == nil {
		return m
	}
	if m.vals == nil {
		m.vals = make(map[string]Value)
	}
	if _, ok := m.vals[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.vals[name] = v
	return m
}

// Get returns the value stored under name.
func (m *Map) Get(name string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.vals[name]
	return v, ok
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the entry names in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for every entry in insertion order until fn returns false.
func (m *Map) Range(fn func(name string, v Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

// Equal reports whether a and b hold the same value. Floats compare by bit
// pattern, except that every NaN equals every other NaN; 0.0 differs from
// -0.0. Map entry order is not significant.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case Float:
		y, ok := b.(Float)
		if !ok {
			return false
		}
		if math.IsNaN(float64(x)) || math.IsNaN(float64(y)) {
			return math.IsNaN(float64(x)) && math.IsNaN(float64(y))
		}
		return math.Float64bits(float64(x)) == math.Float64bits(float64(y))
	case String:
		y, ok := b.(String)
		return ok && x == y
	case ClassRef:
		y, ok := b.(ClassRef)
		return ok && x == y
	case EnumRef:
		y, ok := b.(EnumRef)
		return ok && x == y
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Map:
		y, ok := b.(*Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		same := true
		x.Range(func(k string, xv Value) bool {
			yv, found := y.Get(k)
			same = found && Equal(xv, yv)
			return same
		})
		return same
	default:
		return false
	}
}

// Normalize returns v in its persisted shape: class literals become plain
// strings, everything else is copied structurally. A freshly scanned value
// and the same value read back from a fragment are Equal after Normalize.
func Normalize(v Value) Value {
	switch x := v.(type) {
	case ClassRef:
		return String(x)
	case List:
		out := make(List, 0, len(x))
		for _, e := range x {
			if e != nil {
				out = append(out, Normalize(e))
			}
		}
		return out
	case *Map:
		return NormalizeMap(x)
	default:
		return v
	}
}

// NormalizeMap is Normalize for a parameter map. A nil map yields an empty one.
func NormalizeMap(m *Map) *Map {
	out := NewMap()
	m.Range(func(k string, e Value) bool {
		out.Set(k, Normalize(e))
		return true
	})
	return out
}
