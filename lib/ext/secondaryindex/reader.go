package secondaryindex

import (
	"iter"
	"slices"
	"strings"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
)

// Read returns the reader of the index registered under name, nil if there is none.
// In a write transaction the reader sees the changes delivered so far.
func Read(tx store.ReadTxn, name string) *Reader {
	r, _ := tx.Ext(name).(*Reader)
	return r
}

// Reader queries an index. Every method binds the query before it returns, so
// errors are reported before iteration starts. The returned sequences are lazy
// and can be ranged over more than once.
type Reader struct {
	st   *state
	w    *writer
	rows store.Reader
}

// state returns the state queries run on. In a write transaction it is a clone,
// so iteration is not disturbed by a later flush.
func (r *Reader) state() *state {
	if r.w == nil {
		return r.st
	}
	if r.w.st == nil {
		return r.w.base
	}
	return r.w.st.clone()
}

// Columns returns the indexed columns.
func (r *Reader) Columns() []Column {
	st := r.st
	if r.w != nil {
		st = r.w.base
	}
	return slices.Clone(st.idx.columns)
}

func (r *Reader) prepare(q Query) (*state, *plan, error) {
	st := r.state()
	p, err := st.idx.bind(st.name, q)
	if err != nil {
		return nil, nil, err
	}
	return st, p, nil
}

// Keys iterates the keys of the matching rows.
func (r *Reader) Keys(q Query) (iter.Seq[store.CollectionKey], error) {
	st, p, err := r.prepare(q)
	if err != nil {
		return nil, err
	}
	return func(yield func(store.CollectionKey) bool) {
		for item := range st.scan(p) {
			if !yield(item.ck) {
				return
			}
		}
	}, nil
}

// Rows iterates the matching rows. Only matching rows are decoded.
func (r *Reader) Rows(q Query) (iter.Seq[store.Row], error) {
	st, p, err := r.prepare(q)
	if err != nil {
		return nil, err
	}
	return func(yield func(store.Row) bool) {
		for item := range st.scan(p) {
			row, ok := r.rows.GetRow(item.ck.Collection, item.ck.Key)
			if !ok {
				continue
			}
			if !yield(row) {
				return
			}
		}
	}, nil
}

// IndexedValues iterates the value of column for the matching rows, without
// decoding them. NULL is reported as nil.
func (r *Reader) IndexedValues(column string, q Query) (iter.Seq2[store.CollectionKey, any], error) {
	st, p, err := r.prepare(q)
	if err != nil {
		return nil, err
	}
	col := st.idx.column(column)
	if col < 0 {
		return nil, store.NewError(store.RetCInvalidQuery, "unknown column %q", column).WithExtension(st.name)
	}
	return func(yield func(store.CollectionKey, any) bool) {
		for item := range st.scan(p) {
			if !yield(item.ck, item.values[col]) {
				return
			}
		}
	}, nil
}

// Count returns the number of matching rows.
func (r *Reader) Count(q Query) (int, error) {
	st, p, err := r.prepare(q)
	if err != nil {
		return 0, err
	}
	if p.where == nil {
		return st.rows.Len(), nil
	}
	n := 0
	for range st.scan(p) {
		n++
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Aggregates
// --------------------------------------------------------------------------

type AggregateFunc uint8

const (
	Count AggregateFunc = iota + 1
	Sum
	Avg
	Min
	Max
)

func (f AggregateFunc) String() string {
	switch f {
	case Count:
		return "count"
	case Sum:
		return "sum"
	case Avg:
		return "avg"
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return "unknown"
	}
}

func ParseAggregateFunc(s string) (AggregateFunc, error) {
	for f := Count; f <= Max; f++ {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return 0, errors.Newf("unknown aggregate function %q", s)
}

// Aggregate computes fn over the non-NULL values of column in the matching rows.
// Count returns an int (column "" or "*" counts rows). Sum returns an int64 for
// integer columns and a float64 otherwise, Avg a float64, Min and Max a column
// value. Everything but Count returns nil when there is no value.
func (r *Reader) Aggregate(fn AggregateFunc, column string, q Query) (any, error) {
	st, p, err := r.prepare(q)
	if err != nil {
		return nil, err
	}
	if fn == Count && (column == "" || column == "*") {
		return r.Count(q)
	}
	col := st.idx.column(column)
	if col < 0 {
		return nil, store.NewError(store.RetCInvalidQuery, "unknown column %q", column).WithExtension(st.name)
	}
	typ := st.idx.columns[col].Type
	if (fn == Sum || fn == Avg) && !typ.numeric() {
		return nil, store.NewError(store.RetCInvalidQuery, "%s of text column %q", fn, column).WithExtension(st.name)
	}

	var (
		n    int
		isum int64
		fsum float64
		best any
	)
	for item := range st.scan(p) {
		v := item.values[col]
		if v == nil {
			continue
		}
		n++
		switch fn {
		case Sum, Avg:
			if i, ok := v.(int64); ok {
				isum += i
				fsum += float64(i)
			} else {
				fsum += v.(float64)
			}
		case Min:
			if best == nil || compareValues(v, best) < 0 {
				best = v
			}
		case Max:
			if best == nil || compareValues(v, best) > 0 {
				best = v
			}
		}
	}

	switch fn {
	case Count:
		return n, nil
	case Sum:
		if n == 0 {
			return nil, nil
		}
		if typ == Integer {
			return isum, nil
		}
		return fsum, nil
	case Avg:
		if n == 0 {
			return nil, nil
		}
		return fsum / float64(n), nil
	case Min, Max:
		return best, nil
	}
	return nil, store.NewError(store.RetCInvalidQuery, "unknown aggregate function %d", fn).WithExtension(st.name)
}

// --------------------------------------------------------------------------
// Query execution
// --------------------------------------------------------------------------

// bounds is a half open range of a column tree, nil for unbounded
type bounds struct {
	lo, hi *entry
}

func ranges(p *pred) []bounds {
	var out []bounds
	for _, v := range p.values {
		if v == nil {
			continue
		}
		below, above := &entry{value: v, bound: -1}, &entry{value: v, bound: 1}
		switch p.op {
		case opEq, opIn:
			out = append(out, bounds{lo: below, hi: above})
		case opLt:
			out = append(out, bounds{hi: below})
		case opLe:
			out = append(out, bounds{hi: above})
		case opGt:
			out = append(out, bounds{lo: above})
		case opGe:
			out = append(out, bounds{lo: below})
		}
	}
	return out
}

// walk visits the entries of a range in tree order or reversed
func walk(t *btree.BTree, b bounds, desc bool, yield func(*entry) bool) bool {
	cont := true
	if !desc {
		fn := func(i btree.Item) bool {
			e := i.(*entry)
			if b.hi != nil && !e.Less(b.hi) {
				return false
			}
			cont = yield(e)
			return cont
		}
		if b.lo != nil {
			t.AscendGreaterOrEqual(b.lo, fn)
		} else {
			t.Ascend(fn)
		}
		return cont
	}
	fn := func(i btree.Item) bool {
		e := i.(*entry)
		if b.lo != nil && e.Less(b.lo) {
			return false
		}
		cont = yield(e)
		return cont
	}
	if b.hi != nil {
		t.DescendLessOrEqual(b.hi, fn)
	} else {
		t.Descend(fn)
	}
	return cont
}

// candidates iterates the rows a plan has to look at: the driving column range in
// value order, or every indexed row in key order
func (s *state) candidates(p *plan, desc bool) iter.Seq[*rowItem] {
	return func(yield func(*rowItem) bool) {
		if p.drive == nil {
			s.rows.Ascend(func(i btree.Item) bool {
				return yield(i.(*rowItem))
			})
			return
		}
		rs := ranges(p.drive)
		if desc {
			slices.Reverse(rs)
		}
		tree := s.columns[p.drive.col]
		for _, b := range rs {
			ok := walk(tree, b, desc, func(e *entry) bool {
				item, found := s.lookup(e.ck)
				return !found || yield(item)
			})
			if !ok {
				return
			}
		}
	}
}

// scan iterates the rows matching a plan in result order
func (s *state) scan(p *plan) iter.Seq[*rowItem] {
	filtered := func(desc bool) iter.Seq[*rowItem] {
		return func(yield func(*rowItem) bool) {
			for item := range s.candidates(p, desc) {
				if p.where != nil && !p.where.eval(item.values) {
					continue
				}
				if !yield(item) {
					return
				}
			}
		}
	}
	if p.order < 0 {
		return filtered(false)
	}
	if p.drive != nil && p.drive.col == p.order {
		return filtered(p.desc)
	}

	return func(yield func(*rowItem) bool) {
		items := slices.Collect(filtered(false))
		col := p.order
		slices.SortFunc(items, func(a, b *rowItem) int {
			if c := compareNullable(a.values[col], b.values[col]); c != 0 {
				return c
			}
			return a.ck.Compare(b.ck)
		})
		if p.desc {
			slices.Reverse(items)
		}
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	}
}
