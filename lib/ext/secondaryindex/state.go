package secondaryindex

import (
	"cmp"
	"strings"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/google/btree"
)

const indexDegree = 32

// compareValues orders two non-NULL values of compatible types. Numbers compare
// numerically, as integers when both are integers.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
		return cmp.Compare(float64(x), b.(float64))
	default:
		f := x.(float64)
		if y, ok := b.(int64); ok {
			return cmp.Compare(f, float64(y))
		}
		return cmp.Compare(f, b.(float64))
	}
}

// compareNullable orders NULL before every value
func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return compareValues(a, b)
}

// rowItem holds the column values of an indexed row, nil for NULL.
type rowItem struct {
	ck     store.CollectionKey
	values []any
}

func (r *rowItem) Less(than btree.Item) bool {
	return r.ck.Less(than.(*rowItem).ck)
}

// entry is an element of a column tree, ordered by value and then row. Probes
// with bound -1 or +1 sort before or after every row holding the same value.
type entry struct {
	value any
	ck    store.CollectionKey
	bound int8
}

func (e *entry) compare(o *entry) int {
	if c := compareValues(e.value, o.value); c != 0 {
		return c
	}
	if e.bound != 0 || o.bound != 0 {
		return cmp.Compare(e.bound, o.bound)
	}
	return e.ck.Compare(o.ck)
}

func (e *entry) Less(than btree.Item) bool {
	return e.compare(than.(*entry)) < 0
}

// state is the derived state of an index at one version. Once returned by Finish
// it is never modified; write transactions work on lazy btree clones.
type state struct {
	name       string
	generation uint64
	idx        *SecondaryIndex

	rows    *btree.BTree
	columns []*btree.BTree
}

func newState(info store.ExtensionInfo, idx *SecondaryIndex) *state {
	s := &state{
		name:       info.Name,
		generation: info.Generation,
		idx:        idx,
		rows:       btree.New(indexDegree),
		columns:    make([]*btree.BTree, len(idx.columns)),
	}
	for i := range s.columns {
		s.columns[i] = btree.New(indexDegree)
	}
	return s
}

func (s *state) clone() *state {
	c := *s
	c.rows = s.rows.Clone()
	c.columns = make([]*btree.BTree, len(s.columns))
	for i, t := range s.columns {
		c.columns[i] = t.Clone()
	}
	return &c
}

func (s *state) lookup(ck store.CollectionKey) (*rowItem, bool) {
	item := s.rows.Get(&rowItem{ck: ck})
	if item == nil {
		return nil, false
	}
	return item.(*rowItem), true
}

// put stores the values of a row and reports whether anything changed. A row
// without any value is removed.
func (s *state) put(ck store.CollectionKey, values []any) bool {
	old, present := s.lookup(ck)
	if present && equalValues(old.values, values) {
		return false
	}
	if present {
		s.unlink(old)
	}
	if allNull(values) {
		if present {
			s.rows.Delete(old)
		}
		return present
	}
	r := &rowItem{ck: ck, values: values}
	s.rows.ReplaceOrInsert(r)
	for i, v := range values {
		if v != nil {
			s.columns[i].ReplaceOrInsert(&entry{value: v, ck: ck})
		}
	}
	return true
}

func (s *state) remove(ck store.CollectionKey) bool {
	old, ok := s.lookup(ck)
	if !ok {
		return false
	}
	s.unlink(old)
	s.rows.Delete(old)
	return true
}

// unlink removes the column entries of a row
func (s *state) unlink(r *rowItem) {
	for i, v := range r.values {
		if v != nil {
			s.columns[i].Delete(&entry{value: v, ck: r.ck})
		}
	}
}

func allNull(values []any) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}

func equalValues(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if (a[i] == nil) != (b[i] == nil) {
			return false
		}
		// values of one column always have the same type
		if a[i] != nil && a[i] != b[i] {
			return false
		}
	}
	return true
}
