package badgerdb

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

// header written in front of badger's backup stream
const (
	saveMagic       = "EKVBADG\x00"
	loadConcurrency = 256
)

// badgerImpl maps the db.KVDB contract onto BadgerDB. Snapshots are badger
// read-only transactions, the write transaction is a badger update transaction
// guarded by writeMu (so badger's conflict detection never triggers).
type badgerImpl struct {
	bdb      *badger.DB
	gc       *gcRunner
	inMemory bool
	writeMu  sync.Mutex
	closed   atomic.Bool
}

// NewBadgerDB opens a BadgerDB backed KVDB. A GC runner is started when
// GCInterval is set and the database is not in memory.
func NewBadgerDB(cfg Config) (db.KVDB, error) {
	bdb, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	impl := &badgerImpl{bdb: bdb, inMemory: cfg.InMemory}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(bdb, cfg.GCInterval, cfg.GCDiscardRatio)
		if err != nil {
			_ = bdb.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		impl.gc = runner
	}

	log.Infof("opened badger database (in memory: %t, path: %q)", cfg.InMemory, cfg.Path)
	return impl, nil
}

// --------------------------------------------------------------------------
// Reads (shared by snapshots and the write transaction)
// --------------------------------------------------------------------------

type reader struct {
	txn *badger.Txn
}

func (r reader) getUint(key []byte) uint64 {
	item, err := r.txn.Get(key)
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			log.Errorf("read %s: %v", key, err)
		}
		return 0
	}
	var v uint64
	_ = item.Value(func(val []byte) error {
		v = decodeUint(val)
		return nil
	})
	return v
}

func (r reader) Version() uint64 {
	return r.getUint(keyVersion)
}

func (r reader) Get(collection, key string) (db.Row, bool) {
	item, err := r.txn.Get(rowKey(collection, key))
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			log.Errorf("get %s/%s: %v", collection, key, err)
		}
		return db.Row{}, false
	}
	row, err := itemRow(item, collection, key)
	if err != nil {
		log.Errorf("get %s/%s: %v", collection, key, err)
		return db.Row{}, false
	}
	return row, true
}

func itemRow(item *badger.Item, collection, key string) (db.Row, error) {
	row := db.Row{Collection: collection, Key: key}
	err := item.Value(func(val []byte) error {
		var err error
		row.RowID, row.Version, row.Object, row.Metadata, err = decodeRow(val)
		return err
	})
	return row, err
}

func (r reader) Scan(collection string) iter.Seq[db.Row] {
	return func(yield func(db.Row) bool) {
		prefix := rowPrefix(collection)
		it := r.txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			_, key, _ := splitRowKey(item.Key())
			row, err := itemRow(item, collection, key)
			if err != nil {
				log.Errorf("scan %s/%s: %v", collection, key, err)
				continue
			}
			if !yield(row) {
				return
			}
		}
	}
}

func (r reader) Collections() []string {
	var collections []string
	prefix := []byte{prefixCount}
	it := r.txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		collections = append(collections, string(it.Item().Key()[1:]))
	}
	return collections
}

func (r reader) Count(collection string) int {
	return int(r.getUint(countKey(collection)))
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

type snapshot struct {
	reader
	version  uint64
	released atomic.Bool
}

// Snapshot opens a badger read transaction. Badger keeps every value version
// the transaction can see until it is discarded.
func (b *badgerImpl) Snapshot() db.Snapshot {
	txn := b.bdb.NewTransaction(false)
	s := &snapshot{reader: reader{txn: txn}}
	s.version = s.reader.Version()
	return s
}

func (s *snapshot) Version() uint64 {
	return s.version
}

func (s *snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.txn.Discard()
	}
}

// --------------------------------------------------------------------------
// Write Transactions
// --------------------------------------------------------------------------

type writeTxn struct {
	reader
	b         *badgerImpl
	base      uint64
	nextRowID int64
	counts    map[string]int // changed counts, flushed on commit
	puts      int
	deletes   int
	done      bool
}

func (b *badgerImpl) BeginWrite() (db.WriteTxn, error) {
	if b.closed.Load() {
		return nil, errors.New("badgerdb: database is closed")
	}
	b.writeMu.Lock()

	txn := b.bdb.NewTransaction(true)
	w := &writeTxn{
		reader: reader{txn: txn},
		b:      b,
		counts: map[string]int{},
	}
	w.base = w.reader.Version()
	w.nextRowID = int64(w.getUint(keyRowID))
	if w.nextRowID == 0 {
		w.nextRowID = 1
	}
	return w, nil
}

func (w *writeTxn) Version() uint64 {
	return w.base
}

func (w *writeTxn) Count(collection string) int {
	if n, ok := w.counts[collection]; ok {
		return n
	}
	return w.reader.Count(collection)
}

func (w *writeTxn) addCount(collection string, delta int) error {
	n := w.Count(collection) + delta
	w.counts[collection] = n
	if n <= 0 {
		err := w.txn.Delete(countKey(collection))
		return err
	}
	return w.txn.Set(countKey(collection), encodeUint(uint64(n)))
}

func (w *writeTxn) check() error {
	if w.done {
		return errors.New("badgerdb: transaction already finished")
	}
	return nil
}

func (w *writeTxn) Put(collection, key string, object, metadata []byte) (int64, bool, error) {
	if err := w.check(); err != nil {
		return 0, false, err
	}
	if !db.ValidName(collection) || !db.ValidName(key) {
		return 0, false, fmt.Errorf("badgerdb: invalid collection or key %q/%q", collection, key)
	}

	rowid, inserted := int64(0), false
	if old, ok := w.Get(collection, key); ok {
		rowid = old.RowID
	} else {
		rowid = w.nextRowID
		w.nextRowID++
		inserted = true
	}

	if err := w.txn.Set(rowKey(collection, key), encodeRow(rowid, w.base+1, object, metadata)); err != nil {
		return 0, false, fmt.Errorf("badgerdb: put %s/%s: %w", collection, key, err)
	}
	if inserted {
		if err := w.addCount(collection, 1); err != nil {
			return 0, false, err
		}
	}
	w.puts++
	return rowid, inserted, nil
}

func (w *writeTxn) Delete(collection, key string) (int64, bool, error) {
	if err := w.check(); err != nil {
		return 0, false, err
	}
	old, ok := w.Get(collection, key)
	if !ok {
		return 0, false, nil
	}
	if err := w.txn.Delete(rowKey(collection, key)); err != nil {
		return 0, false, fmt.Errorf("badgerdb: delete %s/%s: %w", collection, key, err)
	}
	if err := w.addCount(collection, -1); err != nil {
		return 0, false, err
	}
	w.deletes++
	return old.RowID, true, nil
}

func (w *writeTxn) DeleteCollection(collection string) ([]string, []int64, error) {
	if err := w.check(); err != nil {
		return nil, nil, err
	}

	// collect first, an update transaction allows only one iterator at a time
	var (
		keys   []string
		rowids []int64
	)
	for row := range w.Scan(collection) {
		keys = append(keys, row.Key)
		rowids = append(rowids, row.RowID)
	}
	for _, key := range keys {
		if err := w.txn.Delete(rowKey(collection, key)); err != nil {
			return nil, nil, fmt.Errorf("badgerdb: delete collection %s: %w", collection, err)
		}
	}
	if len(keys) > 0 {
		if err := w.addCount(collection, -len(keys)); err != nil {
			return nil, nil, err
		}
	}
	w.deletes += len(keys)
	return keys, rowids, nil
}

func (w *writeTxn) Commit() (db.CommitInfo, error) {
	if err := w.check(); err != nil {
		return db.CommitInfo{}, err
	}
	w.done = true
	defer w.b.writeMu.Unlock()

	version := w.base + 1
	if err := w.txn.Set(keyVersion, encodeUint(version)); err != nil {
		w.txn.Discard()
		return db.CommitInfo{}, fmt.Errorf("badgerdb: commit: %w", err)
	}
	if err := w.txn.Set(keyRowID, encodeUint(uint64(w.nextRowID))); err != nil {
		w.txn.Discard()
		return db.CommitInfo{}, fmt.Errorf("badgerdb: commit: %w", err)
	}
	if err := w.txn.Commit(); err != nil {
		return db.CommitInfo{}, fmt.Errorf("badgerdb: commit: %w", err)
	}
	return db.CommitInfo{Version: version, Puts: w.puts, Deletes: w.deletes}, nil
}

func (w *writeTxn) Rollback() {
	if w.done {
		return
	}
	w.done = true
	w.txn.Discard()
	w.b.writeMu.Unlock()
}

func (w *writeTxn) Release() {
	w.Rollback()
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a header followed by badger's backup stream of the latest version.
func (b *badgerImpl) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(saveMagic); err != nil {
		return err
	}
	if _, err := b.bdb.Backup(bw, 0); err != nil {
		return fmt.Errorf("badgerdb: backup: %w", err)
	}
	return bw.Flush()
}

// Load drops all data and restores a stream written by Save. It takes the write
// lock, no write transaction may be open in the calling goroutine.
func (b *badgerImpl) Load(r io.Reader) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(saveMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("badgerdb: read header: %w", err)
	}
	if string(magic) != saveMagic {
		return errors.New("invalid file format: magic number mismatch")
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.bdb.DropAll(); err != nil {
		return fmt.Errorf("badgerdb: drop: %w", err)
	}
	if err := b.bdb.Load(br, loadConcurrency); err != nil {
		return fmt.Errorf("badgerdb: load: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

func (b *badgerImpl) features() db.Feature {
	f := db.FeatureSnapshots | db.FeatureWrite | db.FeatureScan | db.FeatureSave | db.FeatureLoad
	if !b.inMemory {
		f |= db.FeaturePersistence | db.FeatureValueLogGC
	}
	return f
}

func (b *badgerImpl) SupportsFeature(feature db.Feature) bool {
	return b.features()&feature == feature
}

func (b *badgerImpl) GetInfo() db.DatabaseInfo {
	snap := b.Snapshot()
	defer snap.Release()

	rows := 0
	collections := snap.Collections()
	for _, c := range collections {
		rows += snap.Count(c)
	}

	lsm, vlog := b.bdb.Size()

	var supported []db.Feature
	for f := db.FeatureSnapshots; f <= db.FeatureValueLogGC; f <<= 1 {
		if b.SupportsFeature(f) {
			supported = append(supported, f)
		}
	}

	meta := &struct {
		LSMSizeBytes  int64 `json:"lsm_size_bytes"`
		VLogSizeBytes int64 `json:"vlog_size_bytes"`
		Collections   int   `json:"collections"`
		InMemory      bool  `json:"in_memory"`
		GCEnabled     bool  `json:"gc_enabled"`
	}{
		LSMSizeBytes:  lsm,
		VLogSizeBytes: vlog,
		Collections:   len(collections),
		InMemory:      b.inMemory,
		GCEnabled:     b.gc != nil,
	}

	return db.DatabaseInfo{
		SizeBytes:         int(lsm + vlog),
		DbType:            db.ImplBadger,
		Version:           snap.Version(),
		Rows:              rows,
		SupportedFeatures: supported,
		Metadata:          meta,
	}
}

// Close stops the GC runner and closes badger. Safe to call more than once.
func (b *badgerImpl) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.gc != nil {
		b.gc.stop()
	}
	return b.bdb.Close()
}
