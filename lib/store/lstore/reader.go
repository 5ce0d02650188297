package lstore

import (
	"iter"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/ValentinKolb/eKV/lib/store"
)

// rowReader decodes the rows of an engine snapshot. For write transactions the
// snapshot is the engine write transaction and pending holds the decoded values of
// the rows written so far, so they are never decoded again.
type rowReader struct {
	s       *storeImpl
	snap    db.Snapshot
	base    uint64
	codecs  *codecCache
	pending map[store.CollectionKey]decoded
}

var _ store.Reader = (*rowReader)(nil)

func (r *rowReader) decode(raw db.Row) decoded {
	if raw.Version > r.base {
		if d, ok := r.pending[store.CK(raw.Collection, raw.Key)]; ok {
			return d
		}
	}

	// rows of committed versions never change, their decoded values are shared
	ck := objectKey{collection: raw.Collection, key: raw.Key, version: raw.Version}
	cacheable := raw.Version <= r.base
	if cacheable {
		if d, ok := r.s.cache.get(ck); ok {
			return d
		}
	}

	pair := r.codecs.lookup(raw.Collection)
	var d decoded
	if obj, err := pair.Object.Decode(raw.Collection, raw.Key, raw.Object); err != nil {
		log.Debugf("cannot decode object %s/%s: %v", raw.Collection, raw.Key, err)
	} else {
		d.object = obj
	}
	if raw.Metadata != nil {
		if meta, err := pair.Metadata.Decode(raw.Collection, raw.Key, raw.Metadata); err != nil {
			log.Debugf("cannot decode metadata %s/%s: %v", raw.Collection, raw.Key, err)
		} else {
			d.metadata = meta
		}
	}

	if cacheable {
		r.s.cache.add(ck, d)
	}
	return d
}

func (r *rowReader) row(raw db.Row) store.Row {
	d := r.decode(raw)
	return store.Row{
		Collection: raw.Collection,
		Key:        raw.Key,
		RowID:      raw.RowID,
		Version:    raw.Version,
		Object:     d.object,
		Metadata:   d.metadata,
	}
}

func (r *rowReader) Version() uint64 {
	return r.base
}

func (r *rowReader) Get(collection, key string) (any, bool) {
	raw, ok := r.snap.Get(collection, key)
	if !ok {
		return nil, false
	}
	return r.decode(raw).object, true
}

func (r *rowReader) GetMetadata(collection, key string) (any, bool) {
	raw, ok := r.snap.Get(collection, key)
	if !ok {
		return nil, false
	}
	return r.decode(raw).metadata, true
}

func (r *rowReader) GetRow(collection, key string) (store.Row, bool) {
	raw, ok := r.snap.Get(collection, key)
	if !ok {
		return store.Row{}, false
	}
	return r.row(raw), true
}

func (r *rowReader) Has(collection, key string) bool {
	_, ok := r.snap.Get(collection, key)
	return ok
}

func (r *rowReader) Collections() []string {
	return r.snap.Collections()
}

func (r *rowReader) Count(collection string) int {
	return r.snap.Count(collection)
}

func (r *rowReader) Keys(collection string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for raw := range r.snap.Scan(collection) {
			if !yield(raw.Key) {
				return
			}
		}
	}
}

func (r *rowReader) Rows(collection string) iter.Seq[store.Row] {
	return func(yield func(store.Row) bool) {
		for raw := range r.snap.Scan(collection) {
			if !yield(r.row(raw)) {
				return
			}
		}
	}
}

// --------------------------------------------------------------------------
// Read Transactions
// --------------------------------------------------------------------------

type readTxn struct {
	*rowReader
	id     uint64
	state  *dbState
	closed atomic.Bool

	mu      sync.Mutex
	readers map[string]any
}

var _ store.ReadTxn = (*readTxn)(nil)

func (t *readTxn) Ext(name string) any {
	entry, ok := t.state.lookup(name)
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.readers[name]; ok {
		return r
	}
	r := entry.ext.NewReader(t.state.states[name], t)
	if t.readers == nil {
		t.readers = map[string]any{}
	}
	t.readers[name] = r
	return r
}

func (t *readTxn) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.snap.Release()
	t.s.untrackRead(t.id)
}
