package view

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// groupedStore has groups a (5 rows a0..a4) and b (2 rows b0, b1), sorted by key
func groupedStore(t *testing.T) store.IStore {
	t.Helper()
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "v", mustView(t, Options{Grouping: byGroupField, Sorting: byTitle})))
	write(t, s, func(tx store.WriteTxn) error {
		for _, k := range []string{"a0", "a1", "a2", "a3", "a4", "b0", "b1"} {
			doc := map[string]any{"group": k[:1], "title": k}
			if err := tx.Set("docs", k, doc, nil); err != nil {
				return err
			}
		}
		return nil
	})
	return s
}

func sectionKeys(m *Mappings, section int) string {
	var keys []string
	for _, ck := range m.lay.sections[section].keys {
		keys = append(keys, ck.Key)
	}
	return strings.Join(keys, " ")
}

func TestStaticMappings(t *testing.T) {
	s := groupedStore(t)
	m := NewMappings("v", "b", "c", "a")
	require.True(t, m.IsEmpty())
	require.Equal(t, []string{"b", "c", "a"}, m.AllGroups())
	update(t, s, m)

	require.Equal(t, "v", m.View())
	require.Equal(t, 3, m.NumberOfSections())
	require.Equal(t, []string{"b", "c", "a"}, m.VisibleGroups())
	require.Equal(t, 0, m.NumberOfItemsInSection(1))
	require.Equal(t, 5, m.NumberOfItemsInSection(2))
	require.False(t, m.IsEmpty())

	group, ok := m.GroupForSection(2)
	require.True(t, ok)
	require.Equal(t, "a", group)
	_, ok = m.GroupForSection(3)
	require.False(t, ok)

	m.SetIsDynamicSection("c", true)
	require.Equal(t, []string{"b", "a"}, m.VisibleGroups())
	require.Equal(t, []string{"b", "c", "a"}, m.AllGroups())
	require.True(t, m.IsDynamicSection("c"))
	require.False(t, m.IsDynamicSection("a"))
	_, ok = m.SectionForGroup("c")
	require.False(t, ok)
}

func TestStaticMappingsWithoutGroups(t *testing.T) {
	s := groupedStore(t)
	m := NewMappings("v")
	update(t, s, m)
	require.Zero(t, m.NumberOfSections())
	require.Empty(t, m.AllGroups())
	require.True(t, m.IsEmpty())

	// rows of new groups do not show up either
	write(t, s, func(tx store.WriteTxn) error {
		return tx.Set("docs", "c0", map[string]any{"group": "c", "title": "c0"}, nil)
	})
	update(t, s, m)
	require.Zero(t, m.NumberOfSections())
	require.Empty(t, m.VisibleGroups())
}

func TestDynamicMappings(t *testing.T) {
	s := groupedStore(t)
	m := NewDynamicMappings("v", func(g string) bool { return g != "b" }, nil)
	update(t, s, m)
	require.Equal(t, []string{"a"}, m.VisibleGroups())

	desc := func(a, b string) int { return strings.Compare(b, a) }
	m = NewDynamicMappings("v", nil, desc)
	update(t, s, m)
	require.Equal(t, []string{"b", "a"}, m.VisibleGroups())
	sec, ok := m.SectionForGroup("a")
	require.True(t, ok)
	require.Equal(t, 1, sec)
}

func TestRangeOptions(t *testing.T) {
	s := groupedStore(t)
	m := NewMappings("v", "a")
	update(t, s, m)

	m.SetRangeOptions("a", FixedRange(2, 1, PinBeginning))
	require.Equal(t, "a1 a2", sectionKeys(m, 0))
	require.Equal(t, 2, m.NumberOfItemsInGroup("a"))
	require.Equal(t, 5, m.FullCountForGroup("a"))

	m.SetRangeOptions("a", FixedRange(2, 1, PinEnd))
	require.Equal(t, "a2 a3", sectionKeys(m, 0))
	group, index, ok := m.GroupAndIndexForRow(0, 0)
	require.True(t, ok)
	require.Equal(t, "a", group)
	require.Equal(t, 2, index)
	row, ok := m.RowForIndex(3, "a")
	require.True(t, ok)
	require.Equal(t, 1, row)
	_, ok = m.RowForIndex(4, "a")
	require.False(t, ok, "outside of the range")

	m.SetRangeOptions("a", FixedRange(10, 0, PinEnd))
	require.Equal(t, "a0 a1 a2 a3 a4", sectionKeys(m, 0))

	m.RemoveRangeOptions("a")
	require.Equal(t, 5, m.NumberOfItemsInSection(0))
}

func TestReversedMappings(t *testing.T) {
	s := groupedStore(t)
	m := NewMappings("v", "a")
	update(t, s, m)

	m.SetIsReversed("a", true)
	require.Equal(t, "a4 a3 a2 a1 a0", sectionKeys(m, 0))
	_, index, ok := m.GroupAndIndexForRow(1, 0)
	require.True(t, ok)
	require.Equal(t, 3, index)
	row, ok := m.RowForIndex(3, "a")
	require.True(t, ok)
	require.Equal(t, 1, row)

	// the range applies to the reversed order
	m.SetRangeOptions("a", FixedRange(2, 0, PinBeginning))
	require.Equal(t, "a4 a3", sectionKeys(m, 0))

	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		r, ok := Read(tx, "v").RowAtIndexPath(1, 0, m)
		require.True(t, ok)
		require.Equal(t, "a3", r.Key)
		return nil
	}))
}

func TestGetChangesErrors(t *testing.T) {
	s := groupedStore(t)
	m := NewMappings("v", "a")

	_, err := GetChanges("v", nil, m)
	require.ErrorIs(t, err, store.ErrInvalidOperation, "never updated")

	update(t, s, m)
	_, err = GetChanges("other", nil, m)
	require.ErrorIs(t, err, store.ErrInvalidOperation)

	foreign := &store.ChangeSet{DatabaseID: uuid.New(), Version: m.SnapshotOfLastUpdate() + 1, PrevVersion: m.SnapshotOfLastUpdate()}
	_, err = GetChanges("v", []*store.ChangeSet{foreign}, m)
	require.ErrorIs(t, err, store.ErrInvalidOperation)

	m2 := NewMappings("missing")
	tx := s.BeginRead()
	defer tx.Close()
	require.ErrorIs(t, m2.Update(tx), store.ErrInvalidOperation)
}

func TestGetChangesResetsOnGap(t *testing.T) {
	s := groupedStore(t)
	m := NewMappings("v", "a")
	update(t, s, m)

	setTitle(t, s, "docs", "x", "x")
	cs := write(t, s, func(tx store.WriteTxn) error {
		return tx.Set("docs", "a5", map[string]any{"group": "a", "title": "a5"}, nil)
	})
	changes, err := GetChanges("v", []*store.ChangeSet{cs}, m)
	require.NoError(t, err)
	require.True(t, changes.Reset)
	require.Equal(t, 6, m.NumberOfItemsInSection(0), "advanced to the newest state")

	// already seen change sets are ignored
	changes, err = GetChanges("v", []*store.ChangeSet{cs}, m)
	require.NoError(t, err)
	require.True(t, changes.IsEmpty())
}

func TestGetChangesResetsOnReregistration(t *testing.T) {
	s := groupedStore(t)
	ctx := context.Background()
	conn := s.NewConnection()
	defer conn.Close()

	m := NewMappings("v", "a")
	tx, _ := conn.BeginLongLivedReadTransaction()
	require.NoError(t, m.Update(tx))

	require.NoError(t, s.Unregister(ctx, "v"))
	require.NoError(t, s.Register(ctx, "v", mustView(t, Options{Grouping: byGroupField, Sorting: byTitle})))
	write(t, s, func(tx store.WriteTxn) error { return tx.Delete("docs", "a0") })

	_, css := conn.BeginLongLivedReadTransaction()
	require.Len(t, css, 3)
	changes, err := GetChanges("v", css, m)
	require.NoError(t, err)
	require.True(t, changes.Reset)
	require.Equal(t, 4, m.NumberOfItemsInSection(0))
}

func TestHasChanges(t *testing.T) {
	s := groupedStore(t)
	cs := write(t, s, func(tx store.WriteTxn) error {
		return tx.SetObject("docs", "b1", map[string]any{"group": "b", "title": "b9"})
	})
	other := setTitle(t, s, "docs", "nogroup", "x")

	require.True(t, HasChanges("v", []*store.ChangeSet{other, cs}))
	require.False(t, HasChanges("v", []*store.ChangeSet{other}))
	require.True(t, HasChangesForGroup("v", "b", []*store.ChangeSet{cs}))
	require.False(t, HasChangesForGroup("v", "a", []*store.ChangeSet{cs}))
}

func TestDependencyOffsets(t *testing.T) {
	s := groupedStore(t)
	m := NewMappings("v", "a")
	m.SetCellDrawingDependencyOffsets("a", 1)
	update(t, s, m)

	cs := write(t, s, func(tx store.WriteTxn) error {
		return tx.Touch("docs", "a2", store.ChangedObject)
	})
	changes, err := GetChanges("v", []*store.ChangeSet{cs}, m)
	require.NoError(t, err)

	var got []string
	for _, rc := range changes.Rows {
		got = append(got, fmt.Sprintf("%s %s %s", rc.Type, rc.Key.Key, rc.Changes))
	}
	require.Equal(t, []string{"update a1 dependency", "update a2 object"}, got)
}
