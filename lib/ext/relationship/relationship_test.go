package relationship

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/ValentinKolb/eKV/lib/codec"
	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/ValentinKolb/eKV/lib/db/engines/maple"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/ValentinKolb/eKV/lib/store/lstore"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test nodes
// --------------------------------------------------------------------------

// task is deleted together with its parent task
type task struct {
	Title  string
	Parent string
}

func (t task) Edges() []Edge {
	if t.Parent == "" {
		return nil
	}
	return []Edge{{
		Name:        "parent",
		Destination: store.CK("tasks", t.Parent),
		DeleteRules: DeleteSourceIfDestinationDeleted,
	}}
}

// page points to an attachment and forgets it when the attachment is deleted
type page struct {
	Attachment string
	Notes      []string
}

func (p page) Edges() []Edge {
	if p.Attachment == "" {
		return nil
	}
	return []Edge{{
		Name:        "attachment",
		Destination: store.CK("files", p.Attachment),
		NotifyRules: NotifyIfDestinationDeleted,
	}}
}

func (p page) EdgeDeleted(e Edge, reason NotifyReason) any {
	return page{Notes: append(slices.Clone(p.Notes), reason.String()+" "+e.Destination.Key)}
}

func newTestStore(t *testing.T) store.IStore {
	t.Helper()
	s, err := lstore.Open(lstore.DefaultOptions(func() (db.KVDB, error) {
		return maple.NewMapleDB(maple.DefaultOptions()), nil
	}))
	require.NoError(t, err)
	require.NoError(t, s.Codecs().Register("tasks", store.CodecPair{Object: codec.JSON[task](), Metadata: codec.JSON[any]()}))
	require.NoError(t, s.Codecs().Register("pages", store.CodecPair{Object: codec.JSON[page](), Metadata: codec.JSON[any]()}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func write(t *testing.T, s store.IStore, fn func(tx store.WriteTxn) error) *store.ChangeSet {
	t.Helper()
	cs, err := s.Write(context.Background(), fn)
	require.NoError(t, err)
	return cs
}

func set(t *testing.T, s store.IStore, collection, key string, object any) {
	t.Helper()
	write(t, s, func(tx store.WriteTxn) error { return tx.Set(collection, key, object, nil) })
}

func del(t *testing.T, s store.IStore, collection, key string) *store.ChangeSet {
	t.Helper()
	return write(t, s, func(tx store.WriteTxn) error { return tx.Delete(collection, key) })
}

func deletes(cs *store.ChangeSet) []string {
	var keys []string
	for _, c := range cs.Changes {
		if c.Kind == store.ChangeDelete {
			keys = append(keys, c.CK().String())
		}
	}
	return keys
}

func edges(t *testing.T, s store.IStore, name string, q Query) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		for e := range Read(tx, name).Edges(q) {
			out = append(out, e.String())
		}
		return nil
	}))
	return out
}

func keys(t *testing.T, s store.IStore, collection string) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		out = slices.Collect(tx.Keys(collection))
		return nil
	}))
	return out
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestDeclaredEdges(t *testing.T) {
	s := newTestStore(t)
	// rows existing at registration are populated
	set(t, s, "tasks", "t1", task{Title: "root"})
	set(t, s, "tasks", "t2", task{Title: "child", Parent: "t1"})
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))

	set(t, s, "tasks", "t3", task{Title: "grandchild", Parent: "t2"})
	require.Equal(t, []string{
		"parent: tasks/t2 -> tasks/t1",
		"parent: tasks/t3 -> tasks/t2",
	}, edges(t, s, "graph", Query{Name: "parent"}))
	require.Equal(t, []string{"parent: tasks/t3 -> tasks/t2"}, edges(t, s, "graph", Query{Destination: store.CK("tasks", "t2")}))

	// re-parenting replaces the edge
	set(t, s, "tasks", "t3", task{Title: "grandchild", Parent: "t1"})
	require.Equal(t, []string{
		"parent: tasks/t2 -> tasks/t1",
		"parent: tasks/t3 -> tasks/t1",
	}, edges(t, s, "graph", Query{Destination: store.CK("tasks", "t1")}))

	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		r := Read(tx, "graph")
		require.Equal(t, 2, r.Count(Query{}))
		require.Equal(t, 0, r.Count(Query{Source: store.CK("tasks", "t1")}))
		for e := range r.Edges(Query{Source: store.CK("tasks", "t2")}) {
			node, ok := r.DestinationNode(e)
			require.True(t, ok)
			require.Equal(t, "root", node.(task).Title)
			node, ok = r.SourceNode(e)
			require.True(t, ok)
			require.Equal(t, "child", node.(task).Title)
		}
		return nil
	}))
}

func TestCascadingDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
	set(t, s, "tasks", "t1", task{})
	set(t, s, "tasks", "t2", task{Parent: "t1"})
	set(t, s, "tasks", "t3", task{Parent: "t2"})
	set(t, s, "tasks", "other", task{})

	cs := del(t, s, "tasks", "t1")
	require.Equal(t, []string{"tasks/t1", "tasks/t2", "tasks/t3"}, deletes(cs))
	for _, c := range cs.Changes[1:] {
		require.Equal(t, "graph", c.Origin)
	}
	require.Equal(t, []string{"other"}, keys(t, s, "tasks"))
	require.Empty(t, edges(t, s, "graph", Query{}))

	// a second delete of the same node is a no-op
	require.Nil(t, del(t, s, "tasks", "t1"))
}

func TestCascadeTerminatesOnCycles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
	write(t, s, func(tx store.WriteTxn) error {
		require.NoError(t, tx.Set("tasks", "a", task{Parent: "b"}, nil))
		require.NoError(t, tx.Set("tasks", "b", task{Parent: "c"}, nil))
		return tx.Set("tasks", "c", task{Parent: "a"}, nil)
	})
	require.Len(t, edges(t, s, "graph", Query{}), 3)

	cs := del(t, s, "tasks", "b")
	got := deletes(cs)
	slices.Sort(got)
	require.Equal(t, []string{"tasks/a", "tasks/b", "tasks/c"}, got)
	require.Empty(t, keys(t, s, "tasks"))
}

func TestLongCascadeChain(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
	write(t, s, func(tx store.WriteTxn) error {
		for i := range 150 {
			parent := ""
			if i > 0 {
				parent = fmt.Sprintf("t%d", i-1)
			}
			if err := tx.Set("tasks", fmt.Sprintf("t%d", i), task{Parent: parent}, nil); err != nil {
				return err
			}
		}
		return nil
	})

	cs := del(t, s, "tasks", "t0")
	require.Len(t, deletes(cs), 150)
	require.Empty(t, keys(t, s, "tasks"))
	require.Empty(t, edges(t, s, "graph", Query{}))
}

func TestReinsertedNodeCascadesAgain(t *testing.T) {
	for _, flush := range []bool{false, true} {
		t.Run(fmt.Sprintf("flush=%v", flush), func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
			set(t, s, "tasks", "p", task{})
			set(t, s, "tasks", "c1", task{Parent: "p"})

			write(t, s, func(tx store.WriteTxn) error {
				require.NoError(t, tx.Delete("tasks", "p"))
				require.NoError(t, tx.Set("tasks", "p", task{}, nil))
				require.NoError(t, tx.Set("tasks", "c2", task{Parent: "p"}, nil))
				if flush {
					require.NoError(t, tx.Flush())
				}
				return tx.Delete("tasks", "p")
			})
			require.Empty(t, keys(t, s, "tasks"))
			require.Empty(t, edges(t, s, "graph", Query{}))
		})
	}
}

func TestNotifyReplacesObject(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
	set(t, s, "files", "f1", map[string]any{"size": 1})
	write(t, s, func(tx store.WriteTxn) error {
		return tx.Set("pages", "p1", page{Attachment: "f1"}, map[string]any{"pinned": true})
	})
	require.Len(t, edges(t, s, "graph", Query{}), 1)

	cs := del(t, s, "files", "f1")
	require.Len(t, cs.Changes, 2)
	replaced := cs.Changes[1]
	require.Equal(t, store.ChangeUpdate, replaced.Kind)
	require.Equal(t, store.ChangedObject, replaced.Changes)
	require.Equal(t, "graph", replaced.Origin)

	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		obj, ok := tx.Get("pages", "p1")
		require.True(t, ok)
		require.Equal(t, page{Notes: []string{"destination-deleted f1"}}, obj)
		meta, ok := tx.GetMetadata("pages", "p1")
		require.True(t, ok)
		require.Equal(t, map[string]any{"pinned": true}, meta, "metadata is kept")
		return nil
	}))
	require.Empty(t, edges(t, s, "graph", Query{}))
}

func TestAllDeletedRules(t *testing.T) {
	s := newTestStore(t)
	owns := func(collection, key string, object, _ any) []Edge {
		doc, _ := object.(map[string]any)
		owner, _ := doc["owner"].(string)
		if owner == "" {
			return nil
		}
		return []Edge{{Name: "owner", Destination: store.CK("users", owner), DeleteRules: DeleteDestinationIfAllSourcesDeleted}}
	}
	require.NoError(t, s.Register(context.Background(), "owners", New(Options{EdgeFunc: owns, Collections: []string{"items"}})))

	set(t, s, "users", "u1", map[string]any{})
	set(t, s, "items", "i1", map[string]any{"owner": "u1"})
	set(t, s, "items", "i2", map[string]any{"owner": "u1"})
	// collections outside of the allow-list declare nothing
	set(t, s, "other", "o1", map[string]any{"owner": "u1"})
	require.Len(t, edges(t, s, "owners", Query{Destination: store.CK("users", "u1")}), 2)

	// no longer declared, but i2 still points to u1
	set(t, s, "items", "i1", map[string]any{})
	require.Equal(t, []string{"u1"}, keys(t, s, "users"))

	cs := del(t, s, "items", "i2")
	require.Equal(t, []string{"items/i2", "users/u1"}, deletes(cs))
}

func TestManualEdges(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
	for _, k := range []string{"a1", "p1", "p2"} {
		set(t, s, "media", k, map[string]any{})
	}

	album := store.CK("media", "a1")
	write(t, s, func(tx store.WriteTxn) error {
		h := Write(tx, "graph")
		require.NotNil(t, h)
		require.ErrorIs(t, h.AddEdge(Edge{Name: "contains", Source: album}), store.ErrInvalidOperation)
		for _, p := range []string{"p1", "p2"} {
			require.NoError(t, h.AddEdge(Edge{
				Name:        "contains",
				Source:      album,
				Destination: store.CK("media", p),
				DeleteRules: DeleteSourceIfAllDestinationsDeleted,
			}))
		}
		require.Equal(t, 2, h.Count(Query{Source: album}))
		return nil
	})
	require.Equal(t, []string{
		"contains: media/a1 -> media/p1 (manual)",
		"contains: media/a1 -> media/p2 (manual)",
	}, edges(t, s, "graph", Query{Source: album}))

	del(t, s, "media", "p1")
	require.Equal(t, []string{"a1", "p2"}, keys(t, s, "media"))

	// removing the last edge deletes the album
	cs := write(t, s, func(tx store.WriteTxn) error {
		return Write(tx, "graph").RemoveEdge(Edge{Name: "contains", Source: album, Destination: store.CK("media", "p2")}, EdgeDeleted)
	})
	require.Equal(t, []string{"media/a1"}, deletes(cs))
	require.Equal(t, []string{"p2"}, keys(t, s, "media"))
}

func TestRemoveEdgeWithProcessing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
	set(t, s, "n", "src", map[string]any{})
	set(t, s, "n", "dst", map[string]any{})
	e := Edge{Name: "e", Source: store.CK("n", "src"), Destination: store.CK("n", "dst"), DeleteRules: DeleteSourceIfDestinationDeleted}
	write(t, s, func(tx store.WriteTxn) error { return Write(tx, "graph").AddEdge(e) })

	cs := write(t, s, func(tx store.WriteTxn) error {
		return Write(tx, "graph").RemoveEdge(e, DestinationNodeDeleted)
	})
	require.Equal(t, []string{"n/src"}, deletes(cs))
	require.Equal(t, []string{"dst"}, keys(t, s, "n"))
}

func TestDanglingEdgesArePruned(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))

	set(t, s, "tasks", "orphan", task{Parent: "missing"})
	require.Empty(t, edges(t, s, "graph", Query{}))

	// destination created in the same transaction
	write(t, s, func(tx store.WriteTxn) error {
		require.NoError(t, tx.Set("tasks", "child", task{Parent: "root"}, nil))
		return tx.Set("tasks", "root", task{}, nil)
	})
	require.Equal(t, []string{"parent: tasks/child -> tasks/root"}, edges(t, s, "graph", Query{}))
}

// TestGroceriesEdge covers the edge part of the list scenario: an edge to a row
// that is already gone never cascades.
func TestGroceriesEdge(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
	set(t, s, "List", "u1", map[string]any{"title": "Errands"})
	set(t, s, "List", "u2", map[string]any{"title": "Abc"})
	del(t, s, "List", "u1")

	write(t, s, func(tx store.WriteTxn) error {
		return Write(tx, "graph").AddEdge(Edge{
			Name:        "ref",
			Source:      store.CK("List", "u2"),
			Destination: store.CK("List", "u1"),
			DeleteRules: DeleteSourceIfDestinationDeleted,
		})
	})
	require.Empty(t, edges(t, s, "graph", Query{}))

	require.Nil(t, del(t, s, "List", "u1"))
	require.Equal(t, []string{"u2"}, keys(t, s, "List"))
}

func TestNotification(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(context.Background(), "graph", New(Options{})))
	set(t, s, "tasks", "t1", task{})
	cs := write(t, s, func(tx store.WriteTxn) error { return tx.Set("tasks", "t2", task{Parent: "t1"}, nil) })

	payload, ok := cs.Ext("graph")
	require.True(t, ok)
	n := payload.(*Notification)
	require.Len(t, n.Added, 1)
	require.Empty(t, n.Removed)

	// rows without edges leave the graph untouched
	cs = write(t, s, func(tx store.WriteTxn) error { return tx.Set("tasks", "t3", task{}, nil) })
	_, ok = cs.Ext("graph")
	require.False(t, ok)
}

func TestParseRules(t *testing.T) {
	r, err := ParseDeleteRule("destination-if-all-sources")
	require.NoError(t, err)
	require.Equal(t, DeleteDestinationIfAllSourcesDeleted, r)
	_, err = ParseDeleteRule("sometimes")
	require.ErrorContains(t, err, `unknown delete rule "sometimes"`)
	_, err = ParseNotifyRule("never")
	require.ErrorContains(t, err, `unknown notify rule "never"`)

	n, err := ParseNotifyRule("Notify-If-Source-Deleted")
	require.NoError(t, err)
	require.Equal(t, NotifyIfSourceDeleted, n)

	require.Equal(t, "source-if-destination|destination-if-all-sources",
		(DeleteSourceIfDestinationDeleted | DeleteDestinationIfAllSourcesDeleted).String())
	require.Equal(t, "none", DeleteRule(0).String())
}
