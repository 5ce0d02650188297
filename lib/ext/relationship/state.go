package relationship

import (
	"cmp"
	"strings"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/google/btree"
)

const indexDegree = 32

// order of the fields an index sorts edges by
type order uint8

const (
	byName order = iota
	bySource
	byDestination
)

// item is an edge in one of the three indexes
type item struct {
	order order
	edge  Edge
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func (i *item) compare(o *item) int {
	a, b := &i.edge, &o.edge
	var c int
	switch i.order {
	case byName:
		c = cmp.Or(strings.Compare(a.Name, b.Name), a.Source.Compare(b.Source), a.Destination.Compare(b.Destination))
	case bySource:
		c = cmp.Or(a.Source.Compare(b.Source), strings.Compare(a.Name, b.Name), a.Destination.Compare(b.Destination))
	default:
		c = cmp.Or(a.Destination.Compare(b.Destination), strings.Compare(a.Name, b.Name), a.Source.Compare(b.Source))
	}
	if c != 0 {
		return c
	}
	return compareBool(a.Manual, b.Manual)
}

func (i *item) Less(than btree.Item) bool {
	return i.compare(than.(*item)) < 0
}

// state holds every edge in three indexes. Once returned by Finish it is never
// modified; a write transaction works on lazy btree clones.
type state struct {
	name       string
	generation uint64
	cfg        *config

	edges, sources, destinations *btree.BTree
}

func newState(info store.ExtensionInfo, cfg *config) *state {
	return &state{
		name:         info.Name,
		generation:   info.Generation,
		cfg:          cfg,
		edges:        btree.New(indexDegree),
		sources:      btree.New(indexDegree),
		destinations: btree.New(indexDegree),
	}
}

func (s *state) clone() *state {
	c := *s
	c.edges = s.edges.Clone()
	c.sources = s.sources.Clone()
	c.destinations = s.destinations.Clone()
	return &c
}

func (s *state) get(e Edge) (Edge, bool) {
	it := s.edges.Get(&item{order: byName, edge: e})
	if it == nil {
		return Edge{}, false
	}
	return it.(*item).edge, true
}

// put inserts or replaces an edge, reporting whether it was new
func (s *state) put(e Edge) bool {
	old := s.edges.ReplaceOrInsert(&item{order: byName, edge: e})
	s.sources.ReplaceOrInsert(&item{order: bySource, edge: e})
	s.destinations.ReplaceOrInsert(&item{order: byDestination, edge: e})
	return old == nil
}

func (s *state) remove(e Edge) bool {
	if s.edges.Delete(&item{order: byName, edge: e}) == nil {
		return false
	}
	s.sources.Delete(&item{order: bySource, edge: e})
	s.destinations.Delete(&item{order: byDestination, edge: e})
	return true
}

func (s *state) len() int {
	return s.edges.Len()
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Query selects edges. Zero fields match every edge.
type Query struct {
	Name        string
	Source      store.CollectionKey
	Destination store.CollectionKey
}

func (q Query) matches(e Edge) bool {
	return (q.Name == "" || q.Name == e.Name) &&
		(q.Source.IsZero() || q.Source == e.Source) &&
		(q.Destination.IsZero() || q.Destination == e.Destination)
}

// ascend calls fn for every edge matching q until fn returns false. It scans the
// index of the most selective field set in q.
func (s *state) ascend(q Query, fn func(Edge) bool) {
	var (
		tree  *btree.BTree
		pivot *item
		in    func(e Edge) bool // still inside the scanned prefix
	)
	switch {
	case !q.Source.IsZero():
		tree = s.sources
		pivot = &item{order: bySource, edge: Edge{Source: q.Source, Name: q.Name}}
		in = func(e Edge) bool { return e.Source == q.Source && (q.Name == "" || e.Name == q.Name) }
	case !q.Destination.IsZero():
		tree = s.destinations
		pivot = &item{order: byDestination, edge: Edge{Destination: q.Destination, Name: q.Name}}
		in = func(e Edge) bool { return e.Destination == q.Destination && (q.Name == "" || e.Name == q.Name) }
	case q.Name != "":
		tree = s.edges
		pivot = &item{order: byName, edge: Edge{Name: q.Name}}
		in = func(e Edge) bool { return e.Name == q.Name }
	default:
		s.edges.Ascend(func(it btree.Item) bool { return fn(it.(*item).edge) })
		return
	}
	tree.AscendGreaterOrEqual(pivot, func(it btree.Item) bool {
		e := it.(*item).edge
		if !in(e) {
			return false
		}
		if !q.matches(e) {
			return true
		}
		return fn(e)
	})
}

func (s *state) find(q Query) []Edge {
	var out []Edge
	s.ascend(q, func(e Edge) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (s *state) count(q Query) int {
	n := 0
	s.ascend(q, func(Edge) bool {
		n++
		return true
	})
	return n
}
