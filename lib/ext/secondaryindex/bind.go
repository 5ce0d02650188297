package secondaryindex

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/ValentinKolb/eKV/lib/store"
)

// pred is a bound predicate evaluated against the stored values of a row.
type pred struct {
	and, or []*pred
	col     int
	op      op
	values  []any // one value, or the sorted values of IN; nil entries are NULL
}

func (p *pred) eval(row []any) bool {
	switch {
	case p.and != nil:
		for _, c := range p.and {
			if !c.eval(row) {
				return false
			}
		}
		return true
	case p.or != nil:
		for _, c := range p.or {
			if c.eval(row) {
				return true
			}
		}
		return false
	}
	v := row[p.col]
	if v == nil {
		return false
	}
	if p.op == opIn {
		for _, x := range p.values {
			if x != nil && compareValues(v, x) == 0 {
				return true
			}
		}
		return false
	}
	x := p.values[0]
	if x == nil {
		return false
	}
	c := compareValues(v, x)
	switch p.op {
	case opEq:
		return c == 0
	case opNe:
		return c != 0
	case opLt:
		return c < 0
	case opLe:
		return c <= 0
	case opGt:
		return c > 0
	default:
		return c >= 0
	}
}

// plan is a bound query
type plan struct {
	where *pred // nil matches every indexed row
	drive *pred // comparison whose column tree is scanned, nil for a rows scan
	order int   // ORDER BY column, -1 if none
	desc  bool
}

type binder struct {
	idx    *SecondaryIndex
	name   string
	text   string
	params []any
}

func (b *binder) errorf(code store.RetCode, format string, args ...any) error {
	return store.NewError(code, "%s in query %q", fmt.Sprintf(format, args...), b.text).WithExtension(b.name)
}

func (idx *SecondaryIndex) bind(name string, q Query) (*plan, error) {
	b := &binder{idx: idx, name: name, text: q.Text, params: q.Params}
	pq, err := idx.parse(q.Text)
	if err != nil {
		return nil, store.WrapError(err, store.RetCInvalidQuery, "cannot parse query %q", q.Text).WithExtension(name)
	}
	if pq.params != len(q.Params) {
		return nil, b.errorf(store.RetCParameterCountMismatch, "%d placeholders but %d parameters", pq.params, len(q.Params))
	}
	p := &plan{order: -1, desc: pq.desc}
	if pq.where != nil {
		if p.where, err = b.bindNode(pq.where); err != nil {
			return nil, err
		}
		p.drive = driving(p.where)
	}
	if pq.order != "" {
		if p.order = idx.column(pq.order); p.order < 0 {
			return nil, b.errorf(store.RetCInvalidQuery, "unknown column %q", pq.order)
		}
	}
	return p, nil
}

// driving returns the first comparison of the top-level AND chain that can be
// answered by a range scan
func driving(p *pred) *pred {
	var found *pred
	var visit func(*pred) bool
	visit = func(p *pred) bool {
		switch {
		case p.and != nil:
			for _, c := range p.and {
				if visit(c) {
					return true
				}
			}
			return false
		case p.or != nil:
			return false
		case p.op == opNe:
			return false
		}
		found = p
		return true
	}
	visit(p)
	return found
}

func (b *binder) bindNode(n *node) (*pred, error) {
	switch {
	case n.and != nil || n.or != nil:
		children := n.and
		if n.or != nil {
			children = n.or
		}
		out := make([]*pred, 0, len(children))
		for _, c := range children {
			p, err := b.bindNode(c)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		if n.and != nil {
			return &pred{and: out}, nil
		}
		return &pred{or: out}, nil
	}

	col := b.idx.column(n.column)
	if col < 0 {
		return nil, b.errorf(store.RetCInvalidQuery, "unknown column %q", n.column)
	}
	typ := b.idx.columns[col].Type
	p := &pred{col: col, op: n.op}
	for _, o := range n.operands {
		var vals []any
		if o.param >= 0 {
			var err error
			if vals, err = b.param(o.param, typ, n.op == opIn); err != nil {
				return nil, err
			}
		} else {
			v, err := b.value(o.lit, typ, n.column)
			if err != nil {
				return nil, err
			}
			vals = []any{v}
		}
		p.values = append(p.values, vals...)
	}
	if n.op == opIn {
		p.values = slices.DeleteFunc(p.values, func(v any) bool { return v == nil })
		slices.SortFunc(p.values, compareValues)
		p.values = slices.CompactFunc(p.values, func(a, b any) bool { return compareValues(a, b) == 0 })
	}
	return p, nil
}

// param binds the i-th parameter. Inside IN a slice expands to its elements.
func (b *binder) param(i int, typ ColumnType, in bool) ([]any, error) {
	v := b.params[i]
	if in {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			if _, isBytes := v.([]byte); !isBytes {
				out := make([]any, 0, rv.Len())
				for j := 0; j < rv.Len(); j++ {
					x, err := b.paramValue(i, rv.Index(j).Interface(), typ)
					if err != nil {
						return nil, err
					}
					out = append(out, x)
				}
				return out, nil
			}
		}
	}
	x, err := b.paramValue(i, v, typ)
	if err != nil {
		return nil, err
	}
	return []any{x}, nil
}

func (b *binder) paramValue(i int, v any, typ ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	x, err := b.value(v, typ, "")
	if err != nil {
		return nil, b.errorf(store.RetCInvalidQuery, "parameter %d: %v", i+1, err)
	}
	return x, nil
}

type mismatchError struct {
	value any
	typ   ColumnType
}

func (e *mismatchError) Error() string {
	return fmt.Sprintf("cannot compare %T with %s column", e.value, e.typ)
}

// value normalizes a literal or parameter for comparison with a column. Numbers
// keep their representation, so an integer column compares with 2.5 exactly.
func (b *binder) value(v any, typ ColumnType, column string) (any, error) {
	var out any
	if typ.numeric() {
		out = number(v)
	} else {
		out, _ = Text.normalize(v)
	}
	if out == nil {
		if column == "" {
			return nil, &mismatchError{value: v, typ: typ}
		}
		return nil, b.errorf(store.RetCInvalidQuery, "type mismatch for column %q: %v", column, &mismatchError{value: v, typ: typ})
	}
	if f, ok := out.(float64); ok && f != f {
		return nil, b.errorf(store.RetCInvalidQuery, "NaN is not comparable")
	}
	return out, nil
}
