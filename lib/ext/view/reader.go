package view

import (
	"iter"
	"sort"

	"github.com/ValentinKolb/eKV/lib/store"
)

// Read returns the reader of the view registered under name, nil if there is none.
// In a write transaction the reader sees the changes delivered so far.
func Read(tx store.ReadTxn, name string) *Reader {
	switch x := tx.Ext(name).(type) {
	case *Reader:
		return x
	case *WriteHandle:
		return &x.Reader
	default:
		return nil
	}
}

// Write returns the write handle of the view registered under name, nil if there is none.
func Write(tx store.WriteTxn, name string) *WriteHandle {
	h, _ := tx.Ext(name).(*WriteHandle)
	return h
}

// Reader gives access to the groups of a view. Rows returned by a reader carry the
// values the view was built from; their Version is zero.
type Reader struct {
	st *state
	w  *writer
}

func (r *Reader) state() *state {
	if r.w != nil {
		return r.w.current()
	}
	return r.st
}

// Name is the registration name of the view.
func (r *Reader) Name() string { return r.state().name }

// Generation is the registry generation the view was registered at.
func (r *Reader) Generation() uint64 { return r.state().generation }

func (r *Reader) NumberOfGroups() int {
	return len(r.state().groups)
}

// Groups returns the non-empty groups, sorted.
func (r *Reader) Groups() []string {
	return r.state().sortedGroups()
}

func (r *Reader) HasGroup(group string) bool {
	_, ok := r.state().groups[group]
	return ok
}

func (r *Reader) NumberOfItemsInGroup(group string) int {
	return r.state().count(group)
}

func (r *Reader) NumberOfItemsInAllGroups() int {
	return r.state().total()
}

func (r *Reader) IsEmptyGroup(group string) bool {
	return r.state().count(group) == 0
}

func (r *Reader) IsEmpty() bool {
	return r.state().total() == 0
}

func (r *Reader) RowAtIndex(group string, index int) (store.Row, bool) {
	rows := r.state().groups[group]
	if index < 0 || index >= len(rows) {
		return store.Row{}, false
	}
	return rows[index], true
}

func (r *Reader) KeyAtIndex(group string, index int) (store.CollectionKey, bool) {
	row, ok := r.RowAtIndex(group, index)
	return row.CK(), ok
}

func (r *Reader) FirstKey(group string) (store.CollectionKey, bool) {
	return r.KeyAtIndex(group, 0)
}

func (r *Reader) LastKey(group string) (store.CollectionKey, bool) {
	return r.KeyAtIndex(group, r.state().count(group)-1)
}

func (r *Reader) GroupForKey(ck store.CollectionKey) (string, bool) {
	m, ok := r.state().lookup(ck)
	if !ok {
		return "", false
	}
	return m.group, true
}

func (r *Reader) GroupAndIndexForKey(ck store.CollectionKey) (group string, index int, ok bool) {
	s := r.state()
	m, ok := s.lookup(ck)
	if !ok {
		return "", 0, false
	}
	return m.group, s.position(m), true
}

// Keys iterates the keys of a group in view order.
func (r *Reader) Keys(group string) iter.Seq2[int, store.CollectionKey] {
	return r.KeysInRange(group, 0, -1, false)
}

// Rows iterates the rows of a group in view order.
func (r *Reader) Rows(group string) iter.Seq2[int, store.Row] {
	return r.RowsInRange(group, 0, -1, false)
}

// KeysInRange iterates length keys starting at start (length < 0 means to the end).
// With reverse the range is walked backwards; indexes are always view indexes.
func (r *Reader) KeysInRange(group string, start, length int, reverse bool) iter.Seq2[int, store.CollectionKey] {
	return func(yield func(int, store.CollectionKey) bool) {
		for i, row := range r.RowsInRange(group, start, length, reverse) {
			if !yield(i, row.CK()) {
				return
			}
		}
	}
}

func (r *Reader) RowsInRange(group string, start, length int, reverse bool) iter.Seq2[int, store.Row] {
	rows := r.state().groups[group]
	start = max(start, 0)
	end := len(rows)
	if length >= 0 {
		end = min(end, start+length)
	}
	return func(yield func(int, store.Row) bool) {
		if reverse {
			for i := end - 1; i >= start; i-- {
				if !yield(i, rows[i]) {
					return
				}
			}
			return
		}
		for i := start; i < end; i++ {
			if !yield(i, rows[i]) {
				return
			}
		}
	}
}

// FindRange binary searches the contiguous range of rows for which find returns 0.
// find returns a negative value for rows before the range and a positive one for
// rows after it.
func (r *Reader) FindRange(group string, find func(row store.Row) int) (start, length int, ok bool) {
	rows := r.state().groups[group]
	lo := sort.Search(len(rows), func(i int) bool { return find(rows[i]) >= 0 })
	hi := sort.Search(len(rows), func(i int) bool { return find(rows[i]) > 0 })
	if hi <= lo {
		return lo, 0, false
	}
	return lo, hi - lo, true
}

// RowAtIndexPath returns the row shown at (section, row) of the mappings.
func (r *Reader) RowAtIndexPath(row, section int, m *Mappings) (store.Row, bool) {
	group, index, ok := m.GroupAndIndexForRow(row, section)
	if !ok {
		return store.Row{}, false
	}
	return r.RowAtIndex(group, index)
}
