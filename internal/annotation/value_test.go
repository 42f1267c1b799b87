package annotation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapKeepsInsertionOrder(t *testing.T) {
	m := NewMap().Set("b", Int(1)).Set("a", Int(2)).Set("b", Int(3))
	assert.Equal(t, []string{"b", "a"}, m.Keys())
	v, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, Int(3), v)
}

func TestMapIgnoresNil(t *testing.T) {
	m := NewMap().Set("x", nil)
	assert.Equal(t, 0, m.Len())
}

func TestEqual(t *testing.T) {
	a := NewMap().Set("x", Int(1)).Set("y", List{String("s"), EnumRef{Type: "E", Name: "A"}})
	b := NewMap().Set("y", List{String("s"), EnumRef{Type: "E", Name: "A"}}).Set("x", Int(1))
	assert.True(t, Equal(a, b), "entry order is not significant")

	assert.False(t, Equal(Int(1), Float(1)))
	assert.False(t, Equal(String("a"), ClassRef("a")))
	assert.True(t, Equal(Float(math.NaN()), Float(math.NaN())))
	assert.True(t, Equal(Float(math.Float64frombits(0x7ff8000000000000)), Float(math.NaN())), "any NaN equals any NaN")
	assert.False(t, Equal(Float(math.NaN()), Float(1)))
	assert.False(t, Equal(Float(0), Float(math.Copysign(0, -1))))
	assert.False(t, Equal(List{Int(1)}, List{Int(1), Int(2)}))

	var nilMap *Map
	assert.True(t, Equal(nilMap, NewMap()))
}

func TestNormalize(t *testing.T) {
	in := NewMap().
		Set("type", ClassRef("org.example.Command")).
		Set("nested", NewMap().Set("c", List{ClassRef("a.B")}))
	out := NormalizeMap(in)

	v, _ := out.Get("type")
	assert.Equal(t, String("org.example.Command"), v)
	nested, _ := out.Get("nested")
	c, _ := nested.(*Map).Get("c")
	assert.Equal(t, List{String("a.B")}, c)

	// the input is not modified
	orig, _ := in.Get("type")
	assert.Equal(t, ClassRef("org.example.Command"), orig)
}

func TestRecordEqual(t *testing.T) {
	r1 := Record{Class: "a.A", Values: NewMap().Set("p", Int(1))}
	r2 := Record{Class: "a.A", Values: NewMap().Set("p", Int(1))}
	r3 := Record{Class: "a.A", Values: NewMap().Set("p", Int(2))}
	assert.True(t, r1.Equal(r2))
	assert.False(t, r1.Equal(r3))
	assert.True(t, Record{Class: "x"}.Equal(Record{Class: "x", Values: NewMap()}))
}

func TestSortRecords(t *testing.T) {
	recs := []Record{{Class: "c"}, {Class: "a"}, {Class: "b"}}
	SortRecords(recs)
	assert.Equal(t, "a", recs[0].Class)
	assert.Equal(t, "c", recs[2].Class)
}
