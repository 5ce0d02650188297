package relationship

import (
	"github.com/ValentinKolb/eKV/lib/store"
)

// Notification is the payload a relationship extension adds to the Change-Set of a
// commit that changed its edges.
type Notification struct {
	Generation uint64
	Added      []Edge
	Removed    []Edge
}

// removal is an edge removed in this transaction, with the reason the rules are
// applied for
type removal struct {
	edge   Edge
	reason NotifyReason
}

type writer struct {
	base *state
	st   *state // copy of base, nil until the first modification
	ctx  store.HookContext

	deleted map[store.CollectionKey]bool // nodes whose deletion was processed
	queued  map[store.CollectionKey]bool // nodes this extension deleted
	check   []Edge                       // edges put in this transaction, checked for dangling endpoints
	added   []Edge
	removed []Edge
}

func newWriter(base *state, ctx store.HookContext) *writer {
	return &writer{
		base:    base,
		ctx:     ctx,
		deleted: map[store.CollectionKey]bool{},
		queued:  map[store.CollectionKey]bool{},
	}
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
	}
	return w.st
}

func (w *writer) put(e Edge) {
	if w.mutable().put(e) {
		w.added = append(w.added, e)
	}
	w.check = append(w.check, e)
}

func (w *writer) remove(e Edge) bool {
	if _, ok := w.current().get(e); !ok {
		return false
	}
	w.mutable().remove(e)
	w.removed = append(w.removed, e)
	return true
}

func (w *writer) ProcessChanges(changes []store.Change) error {
	var gone []removal
	for i := range changes {
		c := &changes[i]
		switch c.Kind {
		case store.ChangeInsert, store.ChangeUpdate:
			if c.Kind == store.ChangeInsert {
				// a node inserted again after its deletion can be deleted again
				delete(w.deleted, c.CK())
				delete(w.queued, c.CK())
			}
			if c.Origin == w.base.name {
				// replacements issued by the notify rules keep their edges
				continue
			}
			if c.Kind == store.ChangeUpdate && c.Changes&store.ChangedObject == 0 {
				continue
			}
			if !w.base.cfg.accepts(c.Collection) {
				continue
			}
			gone = append(gone, w.recompute(c)...)
		case store.ChangeDelete:
			gone = append(gone, w.nodeDeleted(c.CK())...)
		case store.ChangeDeleteAllInCollection:
			for _, k := range c.Keys {
				gone = append(gone, w.nodeDeleted(store.CK(c.Collection, k))...)
			}
		}
	}
	return w.apply(gone)
}

// recompute replaces the declared edges of a node
func (w *writer) recompute(c *store.Change) []removal {
	src := c.CK()
	declared := w.base.cfg.declare(c.Collection, c.Key, c.Object, c.Metadata)

	keep := make(map[Edge]bool, len(declared))
	for _, e := range declared {
		keep[Edge{Name: e.Name, Source: e.Source, Destination: e.Destination}] = true
	}
	var gone []removal
	for _, e := range w.current().find(Query{Source: src}) {
		if e.Manual || keep[Edge{Name: e.Name, Source: e.Source, Destination: e.Destination}] {
			continue
		}
		w.remove(e)
		gone = append(gone, removal{edge: e, reason: EdgeDeleted})
	}
	for _, e := range declared {
		w.put(e)
	}
	return gone
}

// nodeDeleted removes every edge of a deleted node
func (w *writer) nodeDeleted(ck store.CollectionKey) []removal {
	if w.deleted[ck] {
		return nil
	}
	w.deleted[ck] = true

	var gone []removal
	for _, e := range w.current().find(Query{Source: ck}) {
		w.remove(e)
		gone = append(gone, removal{edge: e, reason: SourceNodeDeleted})
	}
	for _, e := range w.current().find(Query{Destination: ck}) {
		w.remove(e)
		gone = append(gone, removal{edge: e, reason: DestinationNodeDeleted})
	}
	return gone
}

// apply runs the delete and notify rules of removed edges. Deletions are issued
// through the hook context and come back in the next delivery round, where the
// edges of the deleted nodes are processed in turn.
func (w *writer) apply(gone []removal) error {
	if w.ctx.Populating() {
		return nil
	}
	for _, r := range gone {
		e := r.edge
		switch r.reason {
		case SourceNodeDeleted:
			if e.DeleteRules&DeleteDestinationIfSourceDeleted != 0 || w.lastSource(e) {
				if err := w.deleteNode(e.Destination); err != nil {
					return err
				}
			}
			if e.NotifyRules&NotifyIfSourceDeleted != 0 {
				if err := w.notify(e.Destination, e, r.reason); err != nil {
					return err
				}
			}
		case DestinationNodeDeleted:
			if e.DeleteRules&DeleteSourceIfDestinationDeleted != 0 || w.lastDestination(e) {
				if err := w.deleteNode(e.Source); err != nil {
					return err
				}
			}
			if e.NotifyRules&NotifyIfDestinationDeleted != 0 {
				if err := w.notify(e.Source, e, r.reason); err != nil {
					return err
				}
			}
		case EdgeDeleted:
			if w.lastSource(e) {
				if err := w.deleteNode(e.Destination); err != nil {
					return err
				}
			}
			if w.lastDestination(e) {
				if err := w.deleteNode(e.Source); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// lastSource reports whether e was the last edge of its name pointing to its
// destination and the destination should go with it
func (w *writer) lastSource(e Edge) bool {
	return e.DeleteRules&DeleteDestinationIfAllSourcesDeleted != 0 &&
		w.current().count(Query{Name: e.Name, Destination: e.Destination}) == 0
}

func (w *writer) lastDestination(e Edge) bool {
	return e.DeleteRules&DeleteSourceIfAllDestinationsDeleted != 0 &&
		w.current().count(Query{Name: e.Name, Source: e.Source}) == 0
}

func (w *writer) deleteNode(ck store.CollectionKey) error {
	if w.deleted[ck] || w.queued[ck] || !w.ctx.Has(ck.Collection, ck.Key) {
		return nil
	}
	w.queued[ck] = true
	log.Debugf("relationship %q: cascading delete of %s", w.base.name, ck)
	return w.ctx.Delete(ck.Collection, ck.Key)
}

func (w *writer) notify(ck store.CollectionKey, e Edge, reason NotifyReason) error {
	if w.deleted[ck] || w.queued[ck] {
		return nil
	}
	object, ok := w.ctx.Get(ck.Collection, ck.Key)
	if !ok {
		return nil
	}
	n, ok := object.(NotifiedNode)
	if !ok {
		return nil
	}
	replacement := n.EdgeDeleted(e, reason)
	if replacement == nil {
		return nil
	}
	return w.ctx.ReplaceObject(ck.Collection, ck.Key, replacement)
}

func (w *writer) Finish() (store.ExtensionState, any, error) {
	if w.st == nil {
		return w.base, nil, nil
	}
	pruned := 0
	for _, e := range w.check {
		if _, ok := w.st.get(e); !ok {
			continue
		}
		if !w.ctx.Has(e.Source.Collection, e.Source.Key) || !w.ctx.Has(e.Destination.Collection, e.Destination.Key) {
			w.remove(e)
			pruned++
		}
	}
	if pruned > 0 {
		log.Debugf("relationship %q: pruned %d dangling edges", w.base.name, pruned)
	}
	if w.ctx.Populating() || (len(w.added) == 0 && len(w.removed) == 0) {
		return w.st, nil, nil
	}
	return w.st, &Notification{Generation: w.st.generation, Added: w.added, Removed: w.removed}, nil
}

func (w *writer) Handle() any {
	return &WriteHandle{Reader: Reader{w: w, nodes: w.ctx}}
}
