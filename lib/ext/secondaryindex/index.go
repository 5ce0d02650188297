package secondaryindex

import (
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru"
)

// SecondaryIndex is the extension. Register one instance per index:
//
//	idx, err := secondaryindex.New(secondaryindex.Options{Setup: setup})
//	err = s.Register(ctx, "people", idx)
type SecondaryIndex struct {
	columns []Column
	uses    Uses
	allowed map[string]bool
	queries *lru.Cache // query text -> *parsed
}

var _ store.Extension = (*SecondaryIndex)(nil)

// New validates the setup and returns the extension.
func New(opts Options) (*SecondaryIndex, error) {
	if opts.Setup == nil {
		return nil, store.NewError(store.RetCInvalidOperation, "secondary index needs a setup")
	}
	if opts.Setup.errs != nil {
		return nil, store.WrapError(opts.Setup.errs, store.RetCInvalidOperation, "invalid secondary index setup")
	}
	if len(opts.Setup.columns) == 0 {
		return nil, store.NewError(store.RetCInvalidOperation, "secondary index needs at least one column")
	}
	size := opts.QueryCacheSize
	if size <= 0 {
		size = defaultQueryCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "query cache")
	}
	idx := &SecondaryIndex{
		columns: opts.Setup.Columns(),
		uses:    opts.Uses,
		queries: cache,
	}
	if idx.uses == 0 {
		idx.uses = UsesAll
	}
	if len(opts.Collections) > 0 {
		idx.allowed = make(map[string]bool, len(opts.Collections))
		for _, c := range opts.Collections {
			idx.allowed[c] = true
		}
	}
	return idx, nil
}

func (idx *SecondaryIndex) accepts(collection string) bool {
	return len(idx.allowed) == 0 || idx.allowed[collection]
}

func (idx *SecondaryIndex) column(name string) int {
	for i, c := range idx.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// extract computes the column values of a row
func (idx *SecondaryIndex) extract(collection, key string, object, metadata any) []any {
	values := make([]any, len(idx.columns))
	for i, c := range idx.columns {
		v, ok := c.Extract(collection, key, object, metadata)
		if !ok || v == nil {
			continue
		}
		if values[i], ok = c.Type.normalize(v); !ok {
			log.Debugf("column %q: cannot index %T of %s/%s", c.Name, v, collection, key)
		}
	}
	return values
}

// parse returns the parsed query, from the cache if it was seen before
func (idx *SecondaryIndex) parse(text string) (*parsed, error) {
	if p, ok := idx.queries.Get(text); ok {
		return p.(*parsed), nil
	}
	p, err := parse(text)
	if err != nil {
		return nil, err
	}
	idx.queries.Add(text, p)
	return p, nil
}

func (idx *SecondaryIndex) Attach(info store.ExtensionInfo) (store.ExtensionState, error) {
	return newState(info, idx), nil
}

func (idx *SecondaryIndex) BeginWrite(st store.ExtensionState, ctx store.HookContext) store.ExtensionWriter {
	return &writer{base: st.(*state), ctx: ctx}
}

func (idx *SecondaryIndex) NewReader(st store.ExtensionState, tx store.ReadTxn) any {
	return &Reader{st: st.(*state), rows: tx}
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// Notification is the payload an index adds to the Change-Set of a commit that
// changed it.
type Notification struct {
	Generation uint64
	Updated    []store.CollectionKey // rows whose indexed values changed
	Removed    []store.CollectionKey // rows no longer indexed
}

type writer struct {
	base *state
	st   *state // copy of base, nil until the first modification
	ctx  store.HookContext

	updated []store.CollectionKey
	removed []store.CollectionKey
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

func (w *writer) ProcessChanges(changes []store.Change) error {
	idx := w.base.idx
	for i := range changes {
		c := &changes[i]
		if !idx.accepts(c.Collection) {
			continue
		}
		switch c.Kind {
		case store.ChangeInsert, store.ChangeUpdate:
			ck := c.CK()
			if c.Kind == store.ChangeUpdate && !idx.uses.affectedBy(c.Changes) {
				if _, ok := w.current().lookup(ck); ok {
					continue
				}
			}
			values := idx.extract(c.Collection, c.Key, c.Object, c.Metadata)
			if !w.mutable().put(ck, values) {
				continue
			}
			if allNull(values) {
				w.removed = append(w.removed, ck)
			} else {
				w.updated = append(w.updated, ck)
			}
		case store.ChangeDelete:
			w.remove(c.CK())
		case store.ChangeDeleteAllInCollection:
			for _, k := range c.Keys {
				w.remove(store.CK(c.Collection, k))
			}
		}
	}
	return nil
}

func (w *writer) remove(ck store.CollectionKey) {
	if _, ok := w.current().lookup(ck); !ok {
		return
	}
	w.mutable().remove(ck)
	w.removed = append(w.removed, ck)
}

func (w *writer) Finish() (store.ExtensionState, any, error) {
	if w.st == nil {
		return w.base, nil, nil
	}
	if w.ctx.Populating() {
		log.Debugf("index %q: populated %d rows", w.st.name, w.st.rows.Len())
		return w.st, nil, nil
	}
	if len(w.updated) == 0 && len(w.removed) == 0 {
		return w.st, nil, nil
	}
	return w.st, &Notification{Generation: w.st.generation, Updated: w.updated, Removed: w.removed}, nil
}

func (w *writer) Handle() any {
	return &Reader{w: w, rows: w.ctx}
}
