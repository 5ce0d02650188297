package relationship

import (
	"iter"

	"github.com/ValentinKolb/eKV/lib/store"
)

// Read returns the reader of the relationship extension registered under name, nil
// if there is none.
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

// Write returns the write handle of the relationship extension registered under name.
func Write(tx store.WriteTxn, name string) *WriteHandle {
	h, _ := tx.Ext(name).(*WriteHandle)
	return h
}

// Reader queries the edges of a snapshot.
type Reader struct {
	st    *state
	w     *writer
	nodes store.Reader
}

func (r *Reader) state() *state {
	if r.w != nil {
		return r.w.current()
	}
	return r.st
}

// Edges iterates the edges matching q. Edges are ordered by source when q names a
// source, by destination when it names only a destination, by name otherwise.
func (r *Reader) Edges(q Query) iter.Seq[Edge] {
	return func(yield func(Edge) bool) {
		if r.w != nil {
			// the write handle may change the edges while the caller iterates
			for _, e := range r.state().find(q) {
				if !yield(e) {
					return
				}
			}
			return
		}
		r.st.ascend(q, yield)
	}
}

func (r *Reader) Count(q Query) int {
	return r.state().count(q)
}

// SourceNode returns the object of the edge's source row.
func (r *Reader) SourceNode(e Edge) (any, bool) {
	return r.nodes.Get(e.Source.Collection, e.Source.Key)
}

// DestinationNode returns the object of the edge's destination row.
func (r *Reader) DestinationNode(e Edge) (any, bool) {
	return r.nodes.Get(e.Destination.Collection, e.Destination.Key)
}

// --------------------------------------------------------------------------
// Write Handle
// --------------------------------------------------------------------------

// WriteHandle manages manual edges. Manual edges follow the same rules as declared
// ones and are removed when one of their nodes is deleted; an edge whose nodes do
// not both exist at commit is dropped.
type WriteHandle struct {
	Reader
}

func (h *WriteHandle) AddEdge(e Edge) error {
	if e.Name == "" || e.Source.IsZero() || e.Destination.IsZero() {
		return store.NewError(store.RetCInvalidOperation, "edge needs a name, a source and a destination").WithExtension(h.w.base.name)
	}
	e.Manual = true
	h.w.put(e)
	return nil
}

// RemoveEdge removes a manual edge and applies its rules as if the reason had
// happened: SourceNodeDeleted and DestinationNodeDeleted run the rules for a
// deleted endpoint, EdgeDeleted only the "all deleted" rules.
func (h *WriteHandle) RemoveEdge(e Edge, reason NotifyReason) error {
	e.Manual = true
	stored, ok := h.w.current().get(e)
	if !ok {
		return nil
	}
	h.w.remove(stored)
	return h.w.apply([]removal{{edge: stored, reason: reason}})
}
