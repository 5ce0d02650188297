package view

import (
	"sort"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/google/btree"
	"github.com/google/uuid"
)

const indexDegree = 32

// member is an entry of the key index: the group a row is in and the row as it is
// stored there, needed to find its position again.
type member struct {
	ck    store.CollectionKey
	group string
	row   store.Row
}

func (m *member) Less(than btree.Item) bool {
	return m.ck.Less(than.(*member).ck)
}

func keyItem(ck store.CollectionKey) *member {
	return &member{ck: ck}
}

// state is the derived state of a view at one version. Once returned by Finish it is
// never modified: a write transaction works on a copy whose group slices are copied
// on first modification and whose index is a lazy btree clone.
type state struct {
	name       string
	generation uint64
	dbID       uuid.UUID
	cfg        *config

	groups map[string][]store.Row
	index  *btree.BTree
}

func newState(info store.ExtensionInfo, cfg *config) *state {
	return &state{
		name:       info.Name,
		generation: info.Generation,
		dbID:       info.DatabaseID,
		cfg:        cfg,
		groups:     map[string][]store.Row{},
		index:      btree.New(indexDegree),
	}
}

// clone returns a copy sharing the group slices with s
func (s *state) clone() *state {
	groups := make(map[string][]store.Row, len(s.groups))
	for g, rows := range s.groups {
		groups[g] = rows
	}
	c := *s
	c.groups = groups
	c.index = s.index.Clone()
	return &c
}

func (s *state) lookup(ck store.CollectionKey) (*member, bool) {
	item := s.index.Get(keyItem(ck))
	if item == nil {
		return nil, false
	}
	return item.(*member), true
}

func (s *state) compare(group string, a, b store.Row) int {
	return s.cfg.sorting(group, a, b)
}

// upperBound is the index after the last element not greater than row
func (s *state) upperBound(group string, rows []store.Row, row store.Row) int {
	return sort.Search(len(rows), func(i int) bool {
		return s.compare(group, row, rows[i]) < 0
	})
}

// position finds the index of a member in its group. It searches the run of
// elements equal to the member and falls back to a scan if the comparator is
// not consistent with the stored order.
func (s *state) position(m *member) int {
	rows := s.groups[m.group]
	lo := sort.Search(len(rows), func(i int) bool {
		return s.compare(m.group, m.row, rows[i]) <= 0
	})
	for i := lo; i < len(rows) && s.compare(m.group, m.row, rows[i]) == 0; i++ {
		if rows[i].Collection == m.ck.Collection && rows[i].Key == m.ck.Key {
			return i
		}
	}
	for i := range rows {
		if rows[i].Collection == m.ck.Collection && rows[i].Key == m.ck.Key {
			return i
		}
	}
	return -1
}

func (s *state) sortedGroups() []string {
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

func (s *state) count(group string) int {
	return len(s.groups[group])
}

func (s *state) total() int {
	return s.index.Len()
}
