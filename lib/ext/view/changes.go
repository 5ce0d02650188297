package view

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/ValentinKolb/eKV/lib/store"
)

// ChangeType of a section or row change. The values match the change types list
// UIs usually expect.
type ChangeType uint8

const (
	ChangeInsert ChangeType = 1
	ChangeDelete ChangeType = 2
	ChangeMove   ChangeType = 3
	ChangeUpdate ChangeType = 4
)

func (t ChangeType) String() string {
	switch t {
	case ChangeInsert:
		return "insert"
	case ChangeDelete:
		return "delete"
	case ChangeMove:
		return "move"
	case ChangeUpdate:
		return "update"
	default:
		return "unknown"
	}
}

type SectionChange struct {
	Type  ChangeType
	Index int
	Group string
}

// RowChange describes the change of one row in mapping coordinates. Sections and
// indexes that do not apply (the final position of a delete, the original position
// of an insert) are -1.
type RowChange struct {
	Type            ChangeType
	Changes         store.ChangeMask
	Key             store.CollectionKey
	OriginalGroup   string
	FinalGroup      string
	OriginalSection int
	FinalSection    int
	OriginalIndex   int
	FinalIndex      int
}

func (c RowChange) String() string {
	switch c.Type {
	case ChangeDelete:
		return fmt.Sprintf("delete %s at %d:%d", c.Key, c.OriginalSection, c.OriginalIndex)
	case ChangeInsert:
		return fmt.Sprintf("insert %s at %d:%d", c.Key, c.FinalSection, c.FinalIndex)
	case ChangeMove:
		return fmt.Sprintf("move %s from %d:%d to %d:%d (%s)", c.Key, c.OriginalSection, c.OriginalIndex, c.FinalSection, c.FinalIndex, c.Changes)
	default:
		return fmt.Sprintf("update %s at %d:%d -> %d:%d (%s)", c.Key, c.OriginalSection, c.OriginalIndex, c.FinalSection, c.FinalIndex, c.Changes)
	}
}

// Changes are the instructions that turn the list shown for the mappings'
// previous state into the current one, in an order safe to apply one by one:
// section deletes (descending), section inserts (ascending), then row deletes
// (descending by original position), row inserts (ascending by final position),
// moves (ascending by final position) and updates (ascending by original position).
type Changes struct {
	Sections []SectionChange
	Rows     []RowChange
	// Reset means the changes cannot be expressed incrementally, reload everything.
	Reset bool
}

func (c *Changes) IsEmpty() bool {
	return !c.Reset && len(c.Sections) == 0 && len(c.Rows) == 0
}

// keyChange is what the view operations of the notifications say about one key
type keyChange struct {
	moved bool
	mask  store.ChangeMask
}

// GetChanges computes the changes of the view since the mappings' last update
// from the Change-Sets committed after it, and advances the mappings to the
// newest of them.
//
// The Change-Sets must form a contiguous chain starting at the mappings'
// snapshot (as returned by store.Connection); otherwise, and when the view was
// re-registered or regrouped, the result has Reset set and the consumer should
// call Mappings.Update with a fresh transaction.
func GetChanges(name string, notifications []*store.ChangeSet, m *Mappings) (*Changes, error) {
	if m.view != name {
		return nil, store.NewError(store.RetCInvalidOperation, "mappings belong to view %q, not %q", m.view, name).WithExtension(name)
	}
	if m.st == nil {
		return nil, store.NewError(store.RetCInvalidOperation, "mappings were never updated").WithExtension(name)
	}

	css := make([]*store.ChangeSet, 0, len(notifications))
	for _, cs := range notifications {
		if cs != nil && cs.Version > m.snapshot {
			css = append(css, cs)
		}
	}
	if len(css) == 0 {
		return &Changes{}, nil
	}
	slices.SortFunc(css, func(a, b *store.ChangeSet) int { return cmp.Compare(a.Version, b.Version) })

	st, expected, reset := m.st, m.snapshot, false
	touched := map[store.CollectionKey]*keyChange{}
	for _, cs := range css {
		if cs.DatabaseID != m.st.dbID {
			return nil, store.NewError(store.RetCInvalidOperation, "change set %d belongs to another database", cs.Version).WithExtension(name)
		}
		if cs.PrevVersion != expected {
			reset = true
		}
		expected = cs.Version

		payload, _ := cs.Ext(name)
		n, ok := payload.(*Notification)
		if !ok {
			continue
		}
		if n.Reset || n.Generation != st.generation {
			reset = true
		}
		st = n.state
		for _, op := range n.Ops {
			kc := touched[op.Key]
			if kc == nil {
				kc = &keyChange{}
				touched[op.Key] = kc
			}
			kc.mask |= op.Changes
			if op.Kind == OpDelete {
				// a delete followed by an insert of the same key is a move
				kc.moved = true
			}
		}
	}

	old := m.lay
	m.st, m.snapshot = st, expected
	m.lay = m.compute(st)
	if reset {
		log.Debugf("view %q: changes up to version %d need a reset", name, expected)
		return &Changes{Reset: true}, nil
	}
	return diff(old, m.lay, touched, m), nil
}

type position struct {
	section, index int
}

func positions(lay *layout) map[store.CollectionKey]position {
	pos := map[store.CollectionKey]position{}
	for s, sec := range lay.sections {
		for i, ck := range sec.keys {
			pos[ck] = position{s, i}
		}
	}
	return pos
}

type rowDiff struct {
	old, new   *layout
	oldPos     map[store.CollectionKey]position
	newPos     map[store.CollectionKey]position
	rows       []RowChange
	byKey      map[store.CollectionKey]int // index into rows
	deletedSec map[int]bool                // old sections that are gone
	insertSec  map[int]bool                // new sections that are new
}

func (d *rowDiff) add(c RowChange) {
	d.byKey[c.Key] = len(d.rows)
	d.rows = append(d.rows, c)
}

func diff(old, new *layout, touched map[store.CollectionKey]*keyChange, m *Mappings) *Changes {
	d := &rowDiff{
		old:        old,
		new:        new,
		oldPos:     positions(old),
		newPos:     positions(new),
		byKey:      map[store.CollectionKey]int{},
		deletedSec: map[int]bool{},
		insertSec:  map[int]bool{},
	}
	changes := &Changes{}

	for i, sec := range old.sections {
		if _, ok := new.index[sec.group]; !ok {
			d.deletedSec[i] = true
			changes.Sections = append(changes.Sections, SectionChange{Type: ChangeDelete, Index: i, Group: sec.group})
		}
	}
	slices.Reverse(changes.Sections)
	for i, sec := range new.sections {
		if _, ok := old.index[sec.group]; !ok {
			d.insertSec[i] = true
			changes.Sections = append(changes.Sections, SectionChange{Type: ChangeInsert, Index: i, Group: sec.group})
		}
	}

	// rows that left the mappings
	for s, sec := range old.sections {
		for i, ck := range sec.keys {
			np, inNew := d.newPos[ck]
			switch {
			case !inNew && !d.deletedSec[s]:
				d.add(d.deleteChange(ck, position{s, i}))
			case inNew && d.insertSec[np.section] && !d.deletedSec[s]:
				d.add(d.deleteChange(ck, position{s, i}))
			}
		}
	}
	// rows that entered the mappings, moved or changed
	for s, sec := range new.sections {
		for i, ck := range sec.keys {
			fp := position{s, i}
			op, inOld := d.oldPos[ck]
			switch {
			case !inOld || d.deletedSec[op.section]:
				if !d.insertSec[s] {
					d.add(d.insertChange(ck, fp))
				}
			case d.insertSec[s]:
				// reported as a delete above
			default:
				kc := touched[ck]
				sameGroup := old.sections[op.section].group == sec.group
				switch {
				case kc != nil && (kc.moved || !sameGroup):
					d.add(d.moveChange(ck, op, fp, kc.mask))
				case !sameGroup:
					d.add(d.moveChange(ck, op, fp, 0))
				case kc != nil:
					d.add(d.updateChange(ck, op, fp, kc.mask))
				}
			}
		}
	}

	d.dependencies(m)
	changes.Rows = d.sorted()
	return changes
}

func (d *rowDiff) deleteChange(ck store.CollectionKey, op position) RowChange {
	return RowChange{
		Type: ChangeDelete, Key: ck,
		OriginalGroup: d.old.sections[op.section].group, OriginalSection: op.section, OriginalIndex: op.index,
		FinalSection: -1, FinalIndex: -1,
	}
}

func (d *rowDiff) insertChange(ck store.CollectionKey, fp position) RowChange {
	return RowChange{
		Type: ChangeInsert, Key: ck,
		Changes:         store.ChangedObject | store.ChangedMetadata,
		FinalGroup:      d.new.sections[fp.section].group, FinalSection: fp.section, FinalIndex: fp.index,
		OriginalSection: -1, OriginalIndex: -1,
	}
}

func (d *rowDiff) moveChange(ck store.CollectionKey, op, fp position, mask store.ChangeMask) RowChange {
	c := d.updateChange(ck, op, fp, mask)
	c.Type = ChangeMove
	return c
}

func (d *rowDiff) updateChange(ck store.CollectionKey, op, fp position, mask store.ChangeMask) RowChange {
	return RowChange{
		Type: ChangeUpdate, Key: ck, Changes: mask,
		OriginalGroup: d.old.sections[op.section].group, OriginalSection: op.section, OriginalIndex: op.index,
		FinalGroup: d.new.sections[fp.section].group, FinalSection: fp.section, FinalIndex: fp.index,
	}
}

// dependencies adds ChangedDependency updates for rows drawn using a changed neighbor
func (d *rowDiff) dependencies(m *Mappings) {
	n := len(d.rows)
	for i := 0; i < n; i++ {
		c := d.rows[i]
		if c.Type == ChangeDelete {
			d.depend(m, d.old, c.OriginalSection, c.OriginalIndex, c.OriginalGroup)
		} else {
			d.depend(m, d.new, c.FinalSection, c.FinalIndex, c.FinalGroup)
		}
	}
}

func (d *rowDiff) depend(m *Mappings, lay *layout, section, index int, group string) {
	o, ok := m.opts[group]
	if !ok || len(o.deps) == 0 {
		return
	}
	keys := lay.sections[section].keys
	for _, off := range o.deps {
		j := index - off
		if j < 0 || j >= len(keys) || off == 0 {
			continue
		}
		ck := keys[j]
		if k, ok := d.byKey[ck]; ok {
			if d.rows[k].Type == ChangeUpdate {
				d.rows[k].Changes |= store.ChangedDependency
			}
			continue
		}
		op, inOld := d.oldPos[ck]
		fp, inNew := d.newPos[ck]
		if !inOld || !inNew || d.old.sections[op.section].group != d.new.sections[fp.section].group {
			continue
		}
		d.add(d.updateChange(ck, op, fp, store.ChangedDependency))
	}
}

func (d *rowDiff) sorted() []RowChange {
	var deletes, inserts, moves, updates []RowChange
	for _, c := range d.rows {
		switch c.Type {
		case ChangeDelete:
			deletes = append(deletes, c)
		case ChangeInsert:
			inserts = append(inserts, c)
		case ChangeMove:
			moves = append(moves, c)
		default:
			updates = append(updates, c)
		}
	}
	byOriginal := func(a, b RowChange) int {
		return cmp.Or(cmp.Compare(a.OriginalSection, b.OriginalSection), cmp.Compare(a.OriginalIndex, b.OriginalIndex))
	}
	byFinal := func(a, b RowChange) int {
		return cmp.Or(cmp.Compare(a.FinalSection, b.FinalSection), cmp.Compare(a.FinalIndex, b.FinalIndex))
	}
	slices.SortFunc(deletes, func(a, b RowChange) int { return byOriginal(b, a) })
	slices.SortFunc(inserts, byFinal)
	slices.SortFunc(moves, byFinal)
	slices.SortFunc(updates, byOriginal)

	out := make([]RowChange, 0, len(d.rows))
	out = append(out, deletes...)
	out = append(out, inserts...)
	out = append(out, moves...)
	return append(out, updates...)
}

// HasChanges reports whether any of the Change-Sets changed the view.
func HasChanges(name string, notifications []*store.ChangeSet) bool {
	for _, cs := range notifications {
		if n, ok := notificationOf(cs, name); ok && (n.Reset || len(n.Ops) > 0) {
			return true
		}
	}
	return false
}

// HasChangesForGroup reports whether any of the Change-Sets changed the group.
func HasChangesForGroup(name, group string, notifications []*store.ChangeSet) bool {
	for _, cs := range notifications {
		n, ok := notificationOf(cs, name)
		if !ok {
			continue
		}
		if n.Reset {
			return true
		}
		for _, op := range n.Ops {
			if op.Group == group {
				return true
			}
		}
	}
	return false
}

func notificationOf(cs *store.ChangeSet, name string) (*Notification, bool) {
	payload, _ := cs.Ext(name)
	n, ok := payload.(*Notification)
	return n, ok
}
