package index

import "sort"

// numericField is one field path's ordered value -> id-set postings,
// keeping a sorted key slice alongside the map so range queries don't need
// to sort on every lookup.
type numericField struct {
	keys     []float64
	postings map[float64]Set
}

func newNumericField() *numericField {
	return &numericField{postings: make(map[float64]Set)}
}

func (f *numericField) add(value float64, id string) {
	s, ok := f.postings[value]
	if !ok {
		s = make(Set)
		f.postings[value] = s
		i := sort.SearchFloat64s(f.keys, value)
		f.keys = append(f.keys, 0)
		copy(f.keys[i+1:], f.keys[i:])
		f.keys[i] = value
	}
	s.Add(id)
}

func (f *numericField) remove(value float64, id string) {
	s, ok := f.postings[value]
	if !ok {
		return
	}
	s.Remove(id)
	if s.Len() == 0 {
		delete(f.postings, value)
		i := sort.SearchFloat64s(f.keys, value)
		if i < len(f.keys) && f.keys[i] == value {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
		}
	}
}

// rangeUnion returns the union of id sets for keys within [min, max]. A nil
// bound is unbounded on that side.
func (f *numericField) rangeUnion(min, max *float64) Set {
	lo := 0
	if min != nil {
		lo = sort.SearchFloat64s(f.keys, *min)
	}
	hi := len(f.keys)
	if max != nil {
		hi = sort.SearchFloat64s(f.keys, *max)
		for hi < len(f.keys) && f.keys[hi] == *max {
			hi++
		}
	}
	out := make(Set)
	for _, k := range f.keys[lo:hi] {
		for id := range f.postings[k] {
			out.Add(id)
		}
	}
	return out
}

// NumericIndex is field path -> ordered value -> id set.
type NumericIndex map[string]*numericField

func NewNumericIndex() NumericIndex { return make(NumericIndex) }

func (n NumericIndex) Add(path string, value float64, id string) {
	f, ok := n[path]
	if !ok {
		f = newNumericField()
		n[path] = f
	}
	f.add(value, id)
}

func (n NumericIndex) Remove(path string, value float64, id string) {
	f, ok := n[path]
	if !ok {
		return
	}
	f.remove(value, id)
	if len(f.postings) == 0 {
		delete(n, path)
	}
}

// NumericRange describes one field's [Min, Max] query bound; a nil bound
// means unbounded on that side.
type NumericRange struct {
	Min *float64
	Max *float64
}

// Range returns the union of ids within the range for path, or an empty set
// if the path has no numeric postings at all.
func (n NumericIndex) Range(path string, r NumericRange) Set {
	f, ok := n[path]
	if !ok {
		return NewSet()
	}
	return f.rangeUnion(r.Min, r.Max)
}
