package view

import (
	"slices"
	"sort"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/google/btree"
)

// OpKind is the kind of a structural view operation.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpDelete
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Op is one operation applied to the view, with the group index it applied at.
// A row that changed its place is recorded as a delete and an insert, both with Move set.
type Op struct {
	Kind    OpKind
	Key     store.CollectionKey
	Group   string
	Index   int
	Changes store.ChangeMask
	Move    bool
}

// Notification is the payload a view adds to the Change-Set of a commit that
// changed it.
type Notification struct {
	Generation uint64
	// Reset is set when the grouping or sorting was replaced, consumers reload.
	Reset bool
	Ops   []Op

	state *state
}

type writer struct {
	base *state
	st   *state // copy of base, nil until the first modification
	ctx  store.HookContext

	owned   map[string]bool // group slices already copied in this transaction
	ops     []Op
	reset   bool
	pending map[string]bool // groups filled unsorted while populating
}

func newWriter(base *state, ctx store.HookContext) *writer {
	return &writer{base: base, ctx: ctx}
}

func (w *writer) current() *state {
	if w.st != nil {
		return w.st
	}
	return w.base
}

func (w *writer) mutable() *state {
	if w.st == nil {
		w.st = w.base.clone()
		w.owned = map[string]bool{}
	}
	return w.st
}

// rows returns the group's slice, copied on first use in this transaction
func (w *writer) rows(group string) []store.Row {
	s := w.mutable()
	if !w.owned[group] {
		s.groups[group] = slices.Clone(s.groups[group])
		w.owned[group] = true
	}
	return s.groups[group]
}

func (w *writer) ProcessChanges(changes []store.Change) error {
	for i := range changes {
		c := &changes[i]
		switch c.Kind {
		case store.ChangeInsert:
			w.upsert(c, true)
		case store.ChangeUpdate:
			w.upsert(c, false)
		case store.ChangeDelete:
			w.delete(store.CK(c.Collection, c.Key), false)
		case store.ChangeDeleteAllInCollection:
			for _, k := range c.Keys {
				w.delete(store.CK(c.Collection, k), false)
			}
		}
	}
	return nil
}

func rowOf(c *store.Change) store.Row {
	return store.Row{
		Collection: c.Collection,
		Key:        c.Key,
		RowID:      c.RowID,
		Object:     c.Object,
		Metadata:   c.Metadata,
	}
}

func (w *writer) upsert(c *store.Change, insert bool) {
	s := w.current()
	if !s.cfg.accepts(c.Collection) {
		return
	}
	ck := store.CK(c.Collection, c.Key)
	row := rowOf(c)
	mask := c.Changes
	if insert {
		mask = store.ChangedObject | store.ChangedMetadata
	}

	m, present := s.lookup(ck)
	if present && !insert && !s.cfg.affectedBy(mask) {
		w.replace(m, row, mask)
		return
	}

	group, ok := s.cfg.place(c.Collection, c.Key, c.Object, c.Metadata)
	switch {
	case !ok && present:
		w.delete(ck, false)
	case !ok:
	case present && group == m.group:
		idx := s.position(m)
		rows := s.groups[group]
		if (idx == 0 || s.compare(group, rows[idx-1], row) <= 0) &&
			(idx == len(rows)-1 || s.compare(group, row, rows[idx+1]) <= 0) {
			w.replace(m, row, mask)
			return
		}
		w.delete(ck, true)
		w.insert(group, row, mask, true)
	case present:
		w.delete(ck, true)
		w.insert(group, row, mask, true)
	default:
		w.insert(group, row, mask, false)
	}
}

// replace swaps the stored row without moving it
func (w *writer) replace(m *member, row store.Row, mask store.ChangeMask) {
	idx := w.current().position(m)
	rows := w.rows(m.group)
	rows[idx] = row
	w.st.index.ReplaceOrInsert(&member{ck: m.ck, group: m.group, row: row})
	w.ops = append(w.ops, Op{Kind: OpUpdate, Key: m.ck, Group: m.group, Index: idx, Changes: mask})
}

func (w *writer) insert(group string, row store.Row, mask store.ChangeMask, move bool) {
	rows := w.rows(group)
	s := w.st
	ck := store.CK(row.Collection, row.Key)
	s.index.ReplaceOrInsert(&member{ck: ck, group: group, row: row})

	if w.ctx.Populating() {
		// sorted once in Finish
		s.groups[group] = append(rows, row)
		if w.pending == nil {
			w.pending = map[string]bool{}
		}
		w.pending[group] = true
		return
	}

	idx := s.upperBound(group, rows, row)
	s.groups[group] = slices.Insert(rows, idx, row)
	w.ops = append(w.ops, Op{Kind: OpInsert, Key: ck, Group: group, Index: idx, Changes: mask, Move: move})
}

func (w *writer) delete(ck store.CollectionKey, move bool) {
	m, ok := w.current().lookup(ck)
	if !ok {
		return
	}
	idx := w.current().position(m)
	rows := w.rows(m.group)
	s := w.st
	if idx >= 0 {
		rows = slices.Delete(rows, idx, idx+1)
	}
	if len(rows) == 0 {
		delete(s.groups, m.group)
	} else {
		s.groups[m.group] = rows
	}
	s.index.Delete(keyItem(ck))
	w.ops = append(w.ops, Op{Kind: OpDelete, Key: ck, Group: m.group, Index: idx, Move: move})
}

func (w *writer) Finish() (store.ExtensionState, any, error) {
	if w.st == nil {
		return w.base, nil, nil
	}
	for group := range w.pending {
		w.sortGroup(group)
	}
	if w.ctx.Populating() || (len(w.ops) == 0 && !w.reset) {
		return w.st, nil, nil
	}
	return w.st, &Notification{Generation: w.st.generation, Reset: w.reset, Ops: w.ops, state: w.st}, nil
}

func (w *writer) sortGroup(group string) {
	rows := w.st.groups[group]
	sort.SliceStable(rows, func(i, j int) bool {
		return w.st.compare(group, rows[i], rows[j]) < 0
	})
}

func (w *writer) Handle() any {
	return &WriteHandle{Reader: Reader{w: w}}
}

// regroup rebuilds the view from all rows with a new configuration
func (w *writer) regroup(cfg *config) {
	s := w.mutable()
	s.cfg = cfg
	s.groups = map[string][]store.Row{}
	s.index = btree.New(indexDegree)
	w.owned = map[string]bool{}

	rows := 0
	for _, collection := range w.ctx.Collections() {
		if !cfg.accepts(collection) {
			continue
		}
		for row := range w.ctx.Rows(collection) {
			group, ok := cfg.place(row.Collection, row.Key, row.Object, row.Metadata)
			if !ok {
				continue
			}
			row.Version = 0
			s.groups[group] = append(s.groups[group], row)
			s.index.ReplaceOrInsert(&member{ck: row.CK(), group: group, row: row})
			rows++
		}
	}
	for group := range s.groups {
		w.owned[group] = true
		w.sortGroup(group)
	}
	w.ops = nil
	w.reset = true
	log.Debugf("view %q regrouped %d rows into %d groups", s.name, rows, len(s.groups))
}

// refilter applies a new filter to all rows. Grouping and sorting stay the same, so
// only rows the filter now treats differently are deleted or inserted.
func (w *writer) refilter(cfg *config) {
	s := w.mutable()
	s.cfg = cfg

	removed, added := 0, 0
	for _, collection := range w.ctx.Collections() {
		if !cfg.accepts(collection) {
			continue
		}
		for row := range w.ctx.Rows(collection) {
			ck := row.CK()
			_, present := s.lookup(ck)
			group, ok := cfg.place(row.Collection, row.Key, row.Object, row.Metadata)
			switch {
			case present && !ok:
				w.delete(ck, false)
				removed++
			case !present && ok:
				row.Version = 0
				w.insert(group, row, store.ChangedObject|store.ChangedMetadata, false)
				added++
			}
		}
	}
	log.Debugf("view %q refiltered: %d rows removed, %d added", s.name, removed, added)
}

// --------------------------------------------------------------------------
// Write Handle
// --------------------------------------------------------------------------

// WriteHandle is returned by Write. It reads the view including the changes
// delivered so far (see store.WriteTxn.Flush).
type WriteHandle struct {
	Reader
}

// SetGroupingAndSorting replaces the grouping and sorting and rebuilds the view
// from all rows. The commit's notification has Reset set.
func (h *WriteHandle) SetGroupingAndSorting(grouping GroupingFunc, sorting SortingFunc, groupingUses, sortingUses Uses) error {
	cfg, err := newConfig(grouping, sorting, groupingUses, sortingUses)
	if err != nil {
		return err
	}
	h.w.regroup(h.w.current().cfg.withOrder(cfg))
	return nil
}

// SetFiltering replaces the filter of a filtered view. Filters inherited from the
// parent view stay in place. Unlike SetGroupingAndSorting the notification has no
// Reset: it holds a delete for every row the view loses and an insert for every row
// it gains.
func (h *WriteHandle) SetFiltering(filter FilteringFunc, filterUses Uses) error {
	cur := h.w.current().cfg
	if cur.filter == nil {
		return store.NewError(store.RetCInvalidOperation, "view %q is not a filtered view", h.Name())
	}
	if filter == nil {
		return store.NewError(store.RetCInvalidOperation, "filtered view needs a filter")
	}
	if filterUses == 0 {
		filterUses = UsesAll
	}
	h.w.refilter(cur.withFilter(filter, filterUses))
	return nil
}
