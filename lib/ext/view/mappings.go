package view

import (
	"slices"
	"sort"

	"github.com/ValentinKolb/eKV/lib/store"
)

// Pin tells which end of a group a fixed range is anchored to.
type Pin uint8

const (
	PinBeginning Pin = iota
	PinEnd
)

// RangeOptions limit the rows of a group shown by a mapping.
type RangeOptions struct {
	Length int
	Offset int // distance from the pinned end
	Pin    Pin
}

// FixedRange shows at most length rows, offset rows away from the pinned end.
func FixedRange(length, offset int, pin Pin) RangeOptions {
	return RangeOptions{Length: max(length, 0), Offset: max(offset, 0), Pin: pin}
}

// bounds returns the visible range [start, end) of a group with n rows, in
// display order
func (o RangeOptions) bounds(n int) (start, end int) {
	if o.Pin == PinEnd {
		end = max(n-o.Offset, 0)
		return max(end-o.Length, 0), end
	}
	start = min(o.Offset, n)
	return start, min(start+o.Length, n)
}

type groupOptions struct {
	rng      *RangeOptions
	reversed bool
	deps     []int
}

// section is a group as laid out by a mapping. Keys are the visible keys in
// display order.
type section struct {
	group      string
	full       int
	start, end int
	reversed   bool
	keys       []store.CollectionKey
}

// viewIndex converts a visible row to the index in the view's group
func (s *section) viewIndex(row int) (int, bool) {
	if row < 0 || row >= len(s.keys) {
		return 0, false
	}
	d := s.start + row
	if s.reversed {
		return s.full - 1 - d, true
	}
	return d, true
}

func (s *section) row(viewIndex int) (int, bool) {
	if viewIndex < 0 || viewIndex >= s.full {
		return 0, false
	}
	d := viewIndex
	if s.reversed {
		d = s.full - 1 - viewIndex
	}
	if d < s.start || d >= s.end {
		return 0, false
	}
	return d - s.start, true
}

type layout struct {
	all      []string
	sections []*section
	groups   map[string]*section // every group of all, visible or not
	index    map[string]int      // section of visible groups
}

// Mappings project the groups of a view into sections, the way a list UI shows
// them. Mappings remember the view state of their last update; GetChanges
// advances them and reports the differences.
//
// Mappings are not safe for concurrent use.
type Mappings struct {
	view string

	static     []string
	filter     func(group string) bool
	sortGroups func(a, b string) int

	dynamicAll bool
	dynamic    map[string]bool
	opts       map[string]*groupOptions

	st       *state
	snapshot uint64
	lay      *layout
}

// NewMappings shows the given groups of a view, in this order. Without groups the
// mappings stay empty, use NewDynamicMappings to follow the groups of the view.
func NewMappings(view string, groups ...string) *Mappings {
	return &Mappings{
		view:    view,
		static:  append([]string{}, groups...),
		dynamic: map[string]bool{},
		opts:    map[string]*groupOptions{},
	}
}

// NewDynamicMappings shows every group of the view accepted by filter, ordered by
// sortGroups (nil filter accepts all, nil sortGroups orders by name).
func NewDynamicMappings(view string, filter func(group string) bool, sortGroups func(a, b string) int) *Mappings {
	return &Mappings{
		view:       view,
		filter:     filter,
		sortGroups: sortGroups,
		dynamic:    map[string]bool{},
		opts:       map[string]*groupOptions{},
	}
}

// View is the name of the view the mappings belong to.
func (m *Mappings) View() string { return m.view }

// Update binds the mappings to the view state of tx.
func (m *Mappings) Update(tx store.ReadTxn) error {
	r := Read(tx, m.view)
	if r == nil {
		return store.NewError(store.RetCInvalidOperation, "view %q is not registered", m.view)
	}
	m.st = r.state()
	m.snapshot = tx.Version()
	m.lay = m.compute(m.st)
	return nil
}

// SnapshotOfLastUpdate is the version the mappings reflect.
func (m *Mappings) SnapshotOfLastUpdate() uint64 { return m.snapshot }

// --------------------------------------------------------------------------
// Options (take effect immediately, consumers should reload afterwards)
// --------------------------------------------------------------------------

func (m *Mappings) groupOpts(group string) *groupOptions {
	o, ok := m.opts[group]
	if !ok {
		o = &groupOptions{}
		m.opts[group] = o
	}
	return o
}

func (m *Mappings) relayout() {
	if m.st != nil {
		m.lay = m.compute(m.st)
	}
}

// SetIsDynamicSection hides the section of group while it has no visible rows.
func (m *Mappings) SetIsDynamicSection(group string, dynamic bool) {
	m.dynamic[group] = dynamic
	m.relayout()
}

// SetIsDynamicSectionForAllGroups sets the default for groups without their own setting.
func (m *Mappings) SetIsDynamicSectionForAllGroups(dynamic bool) {
	m.dynamicAll = dynamic
	m.relayout()
}

func (m *Mappings) IsDynamicSection(group string) bool {
	if d, ok := m.dynamic[group]; ok {
		return d
	}
	return m.dynamicAll
}

func (m *Mappings) SetRangeOptions(group string, opts RangeOptions) {
	m.groupOpts(group).rng = &opts
	m.relayout()
}

func (m *Mappings) RemoveRangeOptions(group string) {
	m.groupOpts(group).rng = nil
	m.relayout()
}

// SetIsReversed shows the group in reverse view order. Range options apply to the
// reversed order.
func (m *Mappings) SetIsReversed(group string, reversed bool) {
	m.groupOpts(group).reversed = reversed
	m.relayout()
}

// SetCellDrawingDependencyOffsets declares that the row at index i is drawn using
// the row at i+offset: when that row changes, the row at i gets an update with
// ChangedDependency.
func (m *Mappings) SetCellDrawingDependencyOffsets(group string, offsets ...int) {
	m.groupOpts(group).deps = slices.Clone(offsets)
	m.relayout()
}

// --------------------------------------------------------------------------
// Layout
// --------------------------------------------------------------------------

func (m *Mappings) compute(st *state) *layout {
	var all []string
	// static is never nil for NewMappings, even without groups
	if m.static != nil {
		all = slices.Clone(m.static)
	} else {
		for _, g := range st.sortedGroups() {
			if m.filter == nil || m.filter(g) {
				all = append(all, g)
			}
		}
		if m.sortGroups != nil {
			sort.SliceStable(all, func(i, j int) bool { return m.sortGroups(all[i], all[j]) < 0 })
		}
	}

	lay := &layout{all: all, groups: map[string]*section{}, index: map[string]int{}}
	for _, g := range all {
		rows := st.groups[g]
		sec := &section{group: g, full: len(rows), end: len(rows)}
		if o, ok := m.opts[g]; ok {
			sec.reversed = o.reversed
			if o.rng != nil {
				sec.start, sec.end = o.rng.bounds(len(rows))
			}
		}
		for d := sec.start; d < sec.end; d++ {
			i := d
			if sec.reversed {
				i = sec.full - 1 - d
			}
			sec.keys = append(sec.keys, rows[i].CK())
		}
		lay.groups[g] = sec
		if len(sec.keys) == 0 && m.IsDynamicSection(g) {
			continue
		}
		lay.index[g] = len(lay.sections)
		lay.sections = append(lay.sections, sec)
	}
	return lay
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

func (m *Mappings) NumberOfSections() int {
	if m.lay == nil {
		return 0
	}
	return len(m.lay.sections)
}

func (m *Mappings) NumberOfItemsInSection(section int) int {
	if m.lay == nil || section < 0 || section >= len(m.lay.sections) {
		return 0
	}
	return len(m.lay.sections[section].keys)
}

// NumberOfItemsInGroup is the number of visible rows of a group.
func (m *Mappings) NumberOfItemsInGroup(group string) int {
	if m.lay == nil {
		return 0
	}
	if sec, ok := m.lay.groups[group]; ok {
		return len(sec.keys)
	}
	return 0
}

// FullCountForGroup is the number of rows of a group in the view, ignoring ranges.
func (m *Mappings) FullCountForGroup(group string) int {
	if m.lay == nil {
		return 0
	}
	if sec, ok := m.lay.groups[group]; ok {
		return sec.full
	}
	return 0
}

// VisibleGroups are the groups shown as sections, in section order.
func (m *Mappings) VisibleGroups() []string {
	if m.lay == nil {
		return nil
	}
	groups := make([]string, len(m.lay.sections))
	for i, s := range m.lay.sections {
		groups[i] = s.group
	}
	return groups
}

// AllGroups are the groups of the mappings, including hidden dynamic sections.
func (m *Mappings) AllGroups() []string {
	if m.lay == nil {
		return slices.Clone(m.static)
	}
	return slices.Clone(m.lay.all)
}

func (m *Mappings) GroupForSection(section int) (string, bool) {
	if m.lay == nil || section < 0 || section >= len(m.lay.sections) {
		return "", false
	}
	return m.lay.sections[section].group, true
}

func (m *Mappings) SectionForGroup(group string) (int, bool) {
	if m.lay == nil {
		return 0, false
	}
	s, ok := m.lay.index[group]
	return s, ok
}

// GroupAndIndexForRow converts a (row, section) of the mappings to the group and
// view index of the row.
func (m *Mappings) GroupAndIndexForRow(row, section int) (group string, index int, ok bool) {
	if m.lay == nil || section < 0 || section >= len(m.lay.sections) {
		return "", 0, false
	}
	sec := m.lay.sections[section]
	index, ok = sec.viewIndex(row)
	return sec.group, index, ok
}

// RowForIndex converts a view index of a group to the row in its section.
// ok is false if the row is not visible.
func (m *Mappings) RowForIndex(index int, group string) (row int, ok bool) {
	if m.lay == nil {
		return 0, false
	}
	sec, found := m.lay.groups[group]
	if !found {
		return 0, false
	}
	if _, visible := m.lay.index[group]; !visible {
		return 0, false
	}
	return sec.row(index)
}

// IsEmpty reports whether no row is visible.
func (m *Mappings) IsEmpty() bool {
	if m.lay == nil {
		return true
	}
	for _, s := range m.lay.sections {
		if len(s.keys) > 0 {
			return false
		}
	}
	return true
}
