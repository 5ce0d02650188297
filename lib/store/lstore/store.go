package lstore

import (
	"context"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/eKV/lib/codec"
	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/ValentinKolb/eKV/lib/db/util"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger(common.LogStore)

// Options configure a local store.
type Options struct {
	// Factory creates the snapshot store. Required.
	Factory store.DBFactory
	// Codecs used for objects and metadata. Defaults to codec.NewRegistry().
	Codecs store.CodecRegistry
	// ObjectCacheSize is the number of decoded row versions kept in memory, 0 disables the cache.
	ObjectCacheSize int
	// MaxCascadeRounds is the number of delivery rounds of one commit before the
	// limit is extended by the number of live rows. Deeper rounds fail the commit.
	MaxCascadeRounds int
	// PopulateBatchSize is the number of synthetic inserts per ProcessChanges call
	// while an extension is populated.
	PopulateBatchSize int
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions(factory store.DBFactory) Options {
	return Options{
		Factory:           factory,
		ObjectCacheSize:   4096,
		MaxCascadeRounds:  64,
		PopulateBatchSize: 1000,
	}
}

type storeImpl struct {
	opts   Options
	db     db.KVDB
	id     uuid.UUID
	codecs store.CodecRegistry
	cache  *objectCache

	// published state, replaced by every commit
	state atomic.Pointer[dbState]

	// the single writer token, a channel so waiting writers can honor their context
	writeSem chan struct{}

	readsMu  sync.Mutex
	reads    *util.MapHeap
	nextRead atomic.Uint64

	subs    *xsync.MapOf[uint64, *subscriber]
	conns   *xsync.MapOf[uint64, *connection]
	nextSub atomic.Uint64

	metrics *storeMetrics
	closed  atomic.Bool
}

// Open creates a store on top of the database returned by opts.Factory. Rows already
// present in the database are visible immediately; extensions are populated from
// them when they are registered.
func Open(opts Options) (store.IStore, error) {
	if opts.Factory == nil {
		return nil, store.NewError(store.RetCInvalidOperation, "a database factory is required")
	}
	if opts.Codecs == nil {
		opts.Codecs = codec.NewRegistry()
	}
	if opts.MaxCascadeRounds <= 0 {
		opts.MaxCascadeRounds = 64
	}
	if opts.PopulateBatchSize <= 0 {
		opts.PopulateBatchSize = 1000
	}

	kvdb, err := opts.Factory()
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if !kvdb.SupportsFeature(db.FeatureSnapshots | db.FeatureWrite | db.FeatureScan) {
		_ = kvdb.Close()
		return nil, store.NewError(store.RetCUnsupportedOperation, "database needs snapshot, write and scan support")
	}

	cache, err := newObjectCache(opts.ObjectCacheSize)
	if err != nil {
		_ = kvdb.Close()
		return nil, errors.Wrap(err, "create object cache")
	}

	s := &storeImpl{
		opts:     opts,
		db:       kvdb,
		id:       uuid.New(),
		codecs:   opts.Codecs,
		cache:    cache,
		writeSem: make(chan struct{}, 1),
		reads:    util.NewMapHeap(),
		subs:     xsync.NewMapOf[uint64, *subscriber](),
		conns:    xsync.NewMapOf[uint64, *connection](),
	}

	snap := kvdb.Snapshot()
	s.state.Store(&dbState{version: snap.Version(), states: map[string]store.ExtensionState{}})
	snap.Release()

	s.metrics = newStoreMetrics(s)
	log.Infof("opened store %s at version %d", s.id, s.state.Load().version)
	return s, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) BeginRead() store.ReadTxn {
	snap, state := s.pairedSnapshot()
	t := &readTxn{
		rowReader: &rowReader{s: s, snap: snap, base: state.version, codecs: newCodecCache(s.codecs)},
		id:        s.nextRead.Add(1),
		state:     state,
	}
	s.trackRead(t.id, state.version)
	return t
}

// pairedSnapshot returns an engine snapshot and the published state of the same
// version. The engine commits before the state is published, so a snapshot newer
// than the state only means a publish is in flight.
func (s *storeImpl) pairedSnapshot() (db.Snapshot, *dbState) {
	for {
		state := s.state.Load()
		snap := s.db.Snapshot()
		if snap.Version() == state.version {
			return snap, state
		}
		snap.Release()
		runtime.Gosched()
	}
}

func (s *storeImpl) Read(fn func(txn store.ReadTxn) error) error {
	txn := s.BeginRead()
	defer txn.Close()
	return fn(txn)
}

func (s *storeImpl) BeginWrite(ctx context.Context) (store.WriteTxn, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	wtx, err := s.db.BeginWrite()
	if err != nil {
		s.release()
		return nil, store.WrapError(err, store.RetCInternalError, "begin write transaction")
	}
	return s.newWriteTxn(s.state.Load(), wtx), nil
}

func (s *storeImpl) Write(ctx context.Context, fn func(txn store.WriteTxn) error) (*store.ChangeSet, error) {
	txn, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()
	if err := fn(txn); err != nil {
		return nil, err
	}
	return txn.Commit()
}

func (s *storeImpl) Codecs() store.CodecRegistry {
	return s.codecs
}

func (s *storeImpl) GetDBInfo() db.DatabaseInfo {
	return s.db.GetInfo()
}

func (s *storeImpl) WriteMetrics(w io.Writer) {
	s.metrics.write(w)
}

func (s *storeImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	// wait for a running writer, writers queued behind see the closed flag
	s.writeSem <- struct{}{}
	s.release()

	s.subs.Range(func(id uint64, sub *subscriber) bool {
		s.subs.Delete(id)
		sub.box.CloseAndWait()
		return true
	})
	s.conns.Range(func(id uint64, c *connection) bool {
		c.Close()
		return true
	})
	if n, oldest, ok := s.openReads(); ok {
		log.Warningf("closing store with %d open read transactions (oldest at version %d)", n, oldest)
	}
	log.Infof("closing store %s at version %d", s.id, s.state.Load().version)
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (s *storeImpl) acquire(ctx context.Context) error {
	if s.closed.Load() {
		return store.NewError(store.RetCInvalidOperation, "store is closed")
	}
	select {
	case s.writeSem <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for the write lock")
	}
	if s.closed.Load() {
		s.release()
		return store.NewError(store.RetCInvalidOperation, "store is closed")
	}
	return nil
}

func (s *storeImpl) release() {
	<-s.writeSem
}

func (s *storeImpl) trackRead(id, version uint64) {
	s.readsMu.Lock()
	s.reads.Add(id, version)
	s.readsMu.Unlock()
}

func (s *storeImpl) untrackRead(id uint64) {
	s.readsMu.Lock()
	s.reads.Remove(id)
	s.readsMu.Unlock()
}

// openReads returns the number of open read transactions and the version of the
// oldest one.
func (s *storeImpl) openReads() (n int, oldest uint64, ok bool) {
	s.readsMu.Lock()
	defer s.readsMu.Unlock()
	oldest, _, ok = s.reads.Peek()
	return s.reads.Len(), oldest, ok
}
