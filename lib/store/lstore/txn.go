package lstore

import (
	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/ValentinKolb/eKV/lib/store"
)

// extWriter is the writer of one extension in one write transaction
type extWriter struct {
	entry *extEntry
	w     store.ExtensionWriter
}

type writeTxn struct {
	*rowReader
	base *dbState
	wtx  db.WriteTxn

	changes   []store.Change
	delivered int // changes[:delivered] were handed to every writer

	writers []*extWriter // nil until the hooks started
	done    bool
}

var _ store.WriteTxn = (*writeTxn)(nil)

func (s *storeImpl) newWriteTxn(base *dbState, wtx db.WriteTxn) *writeTxn {
	return &writeTxn{
		rowReader: &rowReader{
			s:       s,
			snap:    wtx,
			base:    base.version,
			codecs:  newCodecCache(s.codecs),
			pending: map[store.CollectionKey]decoded{},
		},
		base: base,
		wtx:  wtx,
	}
}

func (t *writeTxn) closedErr() error {
	return store.NewError(store.RetCTransactionClosed, "write transaction already finished")
}

func validRow(collection, key string) error {
	if !db.ValidName(collection) || !db.ValidName(key) {
		return store.NewError(store.RetCInvalidOperation, "collection and key must not contain the zero byte").WithRow(collection, key)
	}
	return nil
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

func (t *writeTxn) Set(collection, key string, object, metadata any) error {
	return t.put(collection, key, object, metadata, store.ChangedObject|store.ChangedMetadata, "")
}

func (t *writeTxn) SetObject(collection, key string, object any) error {
	if t.done {
		return t.closedErr()
	}
	raw, ok := t.wtx.Get(collection, key)
	if !ok {
		return t.put(collection, key, object, nil, store.ChangedObject, "")
	}
	return t.replaceObject(raw, object, "")
}

func (t *writeTxn) SetMetadata(collection, key string, metadata any) error {
	if t.done {
		return t.closedErr()
	}
	raw, ok := t.wtx.Get(collection, key)
	if !ok {
		return nil
	}
	d := t.decode(raw)
	if err := validRow(collection, key); err != nil {
		return err
	}
	mb, err := t.encodeMetadata(collection, key, metadata)
	if err != nil {
		return err
	}
	return t.write(collection, key, raw.Object, mb, d.object, metadata, store.ChangedMetadata, "")
}

func (t *writeTxn) Touch(collection, key string, changes store.ChangeMask) error {
	if t.done {
		return t.closedErr()
	}
	raw, ok := t.wtx.Get(collection, key)
	if !ok {
		return nil
	}
	d := t.decode(raw)
	t.record(store.Change{
		Kind:       store.ChangeUpdate,
		Collection: collection,
		Key:        key,
		RowID:      raw.RowID,
		Changes:    changes &^ store.ChangedDependency,
		Object:     d.object,
		Metadata:   d.metadata,
	})
	return nil
}

func (t *writeTxn) Delete(collection, key string) error {
	return t.delete(collection, key, "")
}

func (t *writeTxn) DeleteAllInCollection(collection string) error {
	if t.done {
		return t.closedErr()
	}
	keys, rowids, err := t.wtx.DeleteCollection(collection)
	if err != nil {
		return store.WrapError(err, store.RetCInternalError, "delete collection %q", collection)
	}
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		delete(t.pending, store.CK(collection, k))
	}
	t.record(store.Change{
		Kind:       store.ChangeDeleteAllInCollection,
		Collection: collection,
		Keys:       keys,
		RowIDs:     rowids,
	})
	return nil
}

// put encodes and writes a full row
func (t *writeTxn) put(collection, key string, object, metadata any, mask store.ChangeMask, origin string) error {
	if t.done {
		return t.closedErr()
	}
	if err := validRow(collection, key); err != nil {
		return err
	}
	ob, err := t.encodeObject(collection, key, object)
	if err != nil {
		return err
	}
	mb, err := t.encodeMetadata(collection, key, metadata)
	if err != nil {
		return err
	}
	return t.write(collection, key, ob, mb, object, metadata, mask, origin)
}

// replaceObject writes a new object and keeps the stored metadata blob
func (t *writeTxn) replaceObject(raw db.Row, object any, origin string) error {
	d := t.decode(raw)
	ob, err := t.encodeObject(raw.Collection, raw.Key, object)
	if err != nil {
		return err
	}
	return t.write(raw.Collection, raw.Key, ob, raw.Metadata, object, d.metadata, store.ChangedObject, origin)
}

func (t *writeTxn) write(collection, key string, ob, mb []byte, object, metadata any, mask store.ChangeMask, origin string) error {
	rowid, inserted, err := t.wtx.Put(collection, key, ob, mb)
	if err != nil {
		return store.WrapError(err, store.RetCInternalError, "put").WithRow(collection, key)
	}
	t.pending[store.CK(collection, key)] = decoded{object: object, metadata: metadata}

	kind := store.ChangeUpdate
	if inserted {
		kind = store.ChangeInsert
		mask = store.ChangedObject | store.ChangedMetadata
	}
	t.record(store.Change{
		Kind:       kind,
		Collection: collection,
		Key:        key,
		RowID:      rowid,
		Changes:    mask,
		Origin:     origin,
		Object:     object,
		Metadata:   metadata,
	})
	return nil
}

func (t *writeTxn) delete(collection, key, origin string) error {
	if t.done {
		return t.closedErr()
	}
	rowid, existed, err := t.wtx.Delete(collection, key)
	if err != nil {
		return store.WrapError(err, store.RetCInternalError, "delete").WithRow(collection, key)
	}
	if !existed {
		return nil
	}
	delete(t.pending, store.CK(collection, key))
	t.record(store.Change{
		Kind:       store.ChangeDelete,
		Collection: collection,
		Key:        key,
		RowID:      rowid,
		Origin:     origin,
	})
	return nil
}

func (t *writeTxn) record(c store.Change) {
	t.changes = append(t.changes, c)
}

func (t *writeTxn) encodeObject(collection, key string, object any) ([]byte, error) {
	b, err := t.codecs.lookup(collection).Object.Encode(collection, key, object)
	if err != nil {
		return nil, store.WrapError(err, store.RetCInvalidOperation, "encode object").WithRow(collection, key)
	}
	return b, nil
}

// encodeMetadata returns nil for nil metadata, the row then has none
func (t *writeTxn) encodeMetadata(collection, key string, metadata any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	b, err := t.codecs.lookup(collection).Metadata.Encode(collection, key, metadata)
	if err != nil {
		return nil, store.WrapError(err, store.RetCInvalidOperation, "encode metadata").WithRow(collection, key)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// --------------------------------------------------------------------------
// Extensions
// --------------------------------------------------------------------------

// startWriters creates the writers of all registered extensions
func (t *writeTxn) startWriters() {
	if t.writers != nil {
		return
	}
	t.writers = make([]*extWriter, 0, len(t.base.exts))
	for _, e := range t.base.exts {
		hc := &hookCtx{Reader: t, txn: t, origin: e.info.Name}
		t.writers = append(t.writers, &extWriter{
			entry: e,
			w:     e.ext.BeginWrite(t.base.states[e.info.Name], hc),
		})
	}
}

func (t *writeTxn) Ext(name string) any {
	if t.done {
		return nil
	}
	t.startWriters()
	for _, w := range t.writers {
		if w.entry.info.Name == name {
			return w.w.Handle()
		}
	}
	return nil
}

func (t *writeTxn) Flush() error {
	if t.done {
		return t.closedErr()
	}
	t.startWriters()
	if err := t.deliver(); err != nil {
		t.abort()
		return err
	}
	return nil
}

func (t *writeTxn) Commit() (*store.ChangeSet, error) {
	if t.done {
		return nil, t.closedErr()
	}
	return t.s.commit(t)
}

func (t *writeTxn) Rollback() {
	if t.done {
		return
	}
	t.abort()
}

// abort rolls back the engine transaction and releases the writer lock
func (t *writeTxn) abort() {
	t.wtx.Rollback()
	t.done = true
	t.s.metrics.rollbacks.Inc()
	t.s.release()
}

// Close of a write transaction is Rollback, so it can be deferred like on a ReadTxn.
func (t *writeTxn) Close() {
	t.Rollback()
}

// --------------------------------------------------------------------------
// Hook Context
// --------------------------------------------------------------------------

// hookCtx is the transaction as seen by one extension. During population txn is
// nil and Reader is the population snapshot.
type hookCtx struct {
	store.Reader
	txn    *writeTxn
	origin string
}

var _ store.HookContext = (*hookCtx)(nil)

func (h *hookCtx) Populating() bool {
	return h.txn == nil
}

func (h *hookCtx) Delete(collection, key string) error {
	if h.txn == nil {
		return store.NewError(store.RetCInvalidOperation, "cannot delete while populating").WithExtension(h.origin).WithRow(collection, key)
	}
	return h.txn.delete(collection, key, h.origin)
}

func (h *hookCtx) ReplaceObject(collection, key string, object any) error {
	if h.txn == nil {
		return store.NewError(store.RetCInvalidOperation, "cannot replace objects while populating").WithExtension(h.origin).WithRow(collection, key)
	}
	if h.txn.done {
		return h.txn.closedErr()
	}
	raw, ok := h.txn.wtx.Get(collection, key)
	if !ok {
		return nil
	}
	return h.txn.replaceObject(raw, object, h.origin)
}
