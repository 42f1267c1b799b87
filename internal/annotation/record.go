package annotation

import "sort"

// Record states that Class carries one indexed annotation with Values.
type Record struct {
	Class  string
	Values *Map
}

// Equal reports whether r and o describe the same class with the same values.
func (r Record) Equal(o Record) bool {
	return r.Class == o.Class && Equal(mapOrEmpty(r.Values), mapOrEmpty(o.Values))
}

// SortRecords orders records by class name, the persisted fragment order.
func SortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Class < recs[j].Class })
}

func mapOrEmpty(m *Map) *Map {
	if m == nil {
		return NewMap()
	}
	return m
}
