package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/ValentinKolb/eKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/eKV/lib/db/util"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum      = "MAPLEKV\x00" // File format identifier
	formatVersion = 1             // File format version
	infoSamples   = 1000          // rows sampled by GetInfo
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl keeps every committed version as an immutable copy-on-write btree.
type mapleImpl struct {
	current atomic.Pointer[internal.Version]

	// retained versions: the current one plus every version pinned by a snapshot
	versions *xsync.MapOf[uint64, *internal.Version]

	// only one write transaction at a time
	writeMu sync.Mutex
	closed  atomic.Bool
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	// InitialVersion is the version of the empty database (useful when a store
	// is rebuilt from another source and versions have to continue).
	InitialVersion uint64
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}

	v := internal.NewEmptyVersion()
	v.Seq = opts.InitialVersion

	maple := &mapleImpl{
		versions: xsync.NewMapOf[uint64, *internal.Version](),
	}
	maple.versions.Store(v.Seq, v)
	maple.current.Store(v)

	return maple
}

// --------------------------------------------------------------------------
// Retention
// --------------------------------------------------------------------------

// pin increments the reference count of the current version and returns it.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) pin() *internal.Version {
	for {
		v := maple.current.Load()
		pinned := false
		maple.versions.Compute(v.Seq, func(old *internal.Version, loaded bool) (*internal.Version, bool) {
			if !loaded || old != v {
				// reclaimed (or replaced by Load) in between, retry with the new current version
				return old, !loaded
			}
			old.Refs++
			pinned = true
			return old, false
		})
		if pinned {
			return v
		}
	}
}

// unpin decrements the reference count of a version and reclaims it if it is
// neither referenced nor current.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) unpin(v *internal.Version) {
	maple.versions.Compute(v.Seq, func(old *internal.Version, loaded bool) (*internal.Version, bool) {
		if !loaded || old != v {
			return old, !loaded
		}
		old.Refs--
		return old, old.Refs <= 0 && maple.current.Load() != old
	})
}

// publish makes v the current version and reclaims the previous one if nobody pins it.
func (maple *mapleImpl) publish(v *internal.Version) {
	maple.versions.Store(v.Seq, v)
	prev := maple.current.Swap(v)
	if prev == nil || prev == v {
		return
	}
	maple.versions.Compute(prev.Seq, func(old *internal.Version, loaded bool) (*internal.Version, bool) {
		if !loaded || old != prev {
			return old, !loaded
		}
		return old, old.Refs <= 0
	})
}

// retainedVersions returns the number of retained versions and the oldest one.
func (maple *mapleImpl) retainedVersions() (count int, oldest uint64) {
	oldest = maple.current.Load().Seq
	maple.versions.Range(func(seq uint64, _ *internal.Version) bool {
		count++
		if seq < oldest {
			oldest = seq
		}
		return true
	})
	return count, oldest
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// snapshot is a pinned, read-only view of one version
type snapshot struct {
	maple    *mapleImpl
	v        *internal.Version
	released atomic.Bool
}

// Snapshot pins the latest committed version.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Snapshot() db.Snapshot {
	return &snapshot{maple: maple, v: maple.pin()}
}

func (s *snapshot) Version() uint64 {
	return s.v.Seq
}

func (s *snapshot) Get(collection, key string) (db.Row, bool) {
	return internal.Get(s.v.Tree, collection, key)
}

func (s *snapshot) Scan(collection string) iter.Seq[db.Row] {
	return scanSeq(s.v.Tree, collection)
}

func (s *snapshot) Collections() []string {
	return sortedCollections(s.v.Counts)
}

func (s *snapshot) Count(collection string) int {
	return s.v.Counts[collection]
}

func (s *snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.maple.unpin(s.v)
	}
}

// scanSeq wraps internal.Scan as a restartable sequence
func scanSeq(tree *btree.BTree, collection string) iter.Seq[db.Row] {
	return func(yield func(db.Row) bool) {
		internal.Scan(tree, collection, yield)
	}
}

func sortedCollections(counts map[string]int) []string {
	return slices.Sorted(maps.Keys(counts))
}

// --------------------------------------------------------------------------
// Write Transactions
// --------------------------------------------------------------------------

// writeTxn mutates a lazy clone of the current tree. The clone shares all nodes with
// the published version until they are written (copy-on-write).
type writeTxn struct {
	maple     *mapleImpl
	base      *internal.Version
	tree      *btree.BTree
	counts    map[string]int
	nextRowID int64
	puts      int
	deletes   int
	done      bool
}

// BeginWrite starts the exclusive write transaction.
//
// Thread-safety: This method is thread-safe, concurrent callers block until the
// running write transaction commits or rolls back.
func (maple *mapleImpl) BeginWrite() (db.WriteTxn, error) {
	if maple.closed.Load() {
		return nil, fmt.Errorf("maple: database is closed")
	}
	maple.writeMu.Lock()

	base := maple.current.Load()
	return &writeTxn{
		maple:     maple,
		base:      base,
		tree:      base.Tree.Clone(),
		counts:    maps.Clone(base.Counts),
		nextRowID: base.NextRowID,
	}, nil
}

func (w *writeTxn) Version() uint64 {
	return w.base.Seq
}

func (w *writeTxn) Get(collection, key string) (db.Row, bool) {
	return internal.Get(w.tree, collection, key)
}

func (w *writeTxn) Scan(collection string) iter.Seq[db.Row] {
	return scanSeq(w.tree, collection)
}

func (w *writeTxn) Collections() []string {
	return sortedCollections(w.counts)
}

func (w *writeTxn) Count(collection string) int {
	return w.counts[collection]
}

func (w *writeTxn) Put(collection, key string, object, metadata []byte) (int64, bool, error) {
	if w.done {
		return 0, false, fmt.Errorf("maple: transaction already finished")
	}
	if !db.ValidName(collection) || !db.ValidName(key) {
		return 0, false, fmt.Errorf("maple: invalid collection or key %q/%q", collection, key)
	}

	// Copy values to prevent memory corruption
	row := db.Row{
		Collection: collection,
		Key:        key,
		Version:    w.base.Seq + 1,
		Object:     slices.Clone(object),
	}
	if metadata != nil {
		row.Metadata = slices.Clone(metadata)
	}

	inserted := false
	if old, ok := internal.Get(w.tree, collection, key); ok {
		row.RowID = old.RowID
	} else {
		row.RowID = w.nextRowID
		w.nextRowID++
		w.counts[collection]++
		inserted = true
	}

	w.tree.ReplaceOrInsert(&internal.RowItem{Row: row})
	w.puts++
	return row.RowID, inserted, nil
}

func (w *writeTxn) Delete(collection, key string) (int64, bool, error) {
	if w.done {
		return 0, false, fmt.Errorf("maple: transaction already finished")
	}
	item := w.tree.Delete(internal.Pivot(collection, key))
	if item == nil {
		return 0, false, nil
	}
	w.decCount(collection)
	w.deletes++
	return item.(*internal.RowItem).RowID, true, nil
}

func (w *writeTxn) DeleteCollection(collection string) ([]string, []int64, error) {
	if w.done {
		return nil, nil, fmt.Errorf("maple: transaction already finished")
	}
	var (
		keys   []string
		rowids []int64
	)
	internal.Scan(w.tree, collection, func(row db.Row) bool {
		keys = append(keys, row.Key)
		rowids = append(rowids, row.RowID)
		return true
	})
	for _, key := range keys {
		w.tree.Delete(internal.Pivot(collection, key))
	}
	delete(w.counts, collection)
	w.deletes += len(keys)
	return keys, rowids, nil
}

func (w *writeTxn) decCount(collection string) {
	if n := w.counts[collection] - 1; n > 0 {
		w.counts[collection] = n
	} else {
		delete(w.counts, collection)
	}
}

func (w *writeTxn) Commit() (db.CommitInfo, error) {
	if w.done {
		return db.CommitInfo{}, fmt.Errorf("maple: transaction already finished")
	}
	w.done = true
	defer w.maple.writeMu.Unlock()

	next := &internal.Version{
		Seq:       w.base.Seq + 1,
		Tree:      w.tree,
		Counts:    w.counts,
		NextRowID: w.nextRowID,
	}
	w.maple.publish(next)

	return db.CommitInfo{Version: next.Seq, Puts: w.puts, Deletes: w.deletes}, nil
}

func (w *writeTxn) Rollback() {
	if w.done {
		return
	}
	w.done = true
	w.tree = nil
	w.maple.writeMu.Unlock()
}

// Release on a write transaction discards it, like Rollback
func (w *writeTxn) Release() {
	w.Rollback()
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Persistence Operations
// --------------------------------------------------------------------------

// Save writes the latest committed version to the writer
//
// Thread-safety: This function is thread-safe, it works on a pinned snapshot
func (maple *mapleImpl) Save(w io.Writer) error {
	v := maple.pin()
	defer maple.unpin(v)

	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write format version
	if err := binary.Write(bw, binary.LittleEndian, uint8(formatVersion)); err != nil {
		return err
	}

	// Write database version and rowid sequence
	if err := binary.Write(bw, binary.LittleEndian, v.Seq); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, v.NextRowID); err != nil {
		return err
	}

	// Write total row count
	if err := binary.Write(bw, binary.LittleEndian, uint64(v.Tree.Len())); err != nil {
		return err
	}

	var err error
	v.Tree.Ascend(func(i btree.Item) bool {
		err = writeRow(bw, i.(*internal.RowItem).Row)
		return err == nil
	})
	if err != nil {
		return err
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

func writeRow(bw *bufio.Writer, row db.Row) error {
	if err := writeBytes(bw, []byte(row.Collection)); err != nil {
		return err
	}
	if err := writeBytes(bw, []byte(row.Key)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, row.RowID); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, row.Version); err != nil {
		return err
	}
	if err := writeBytes(bw, row.Object); err != nil {
		return err
	}

	// metadata flag: 0 = none, 1 = present (an empty blob is not the same as none)
	if row.Metadata == nil {
		return bw.WriteByte(0)
	}
	if err := bw.WriteByte(1); err != nil {
		return err
	}
	return writeBytes(bw, row.Metadata)
}

func writeBytes(bw *bufio.Writer, b []byte) error {
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := bw.Write(b)
	return err
}

// Load replaces the database content with the data from the reader
//
// Thread-safety: Load takes the write lock, it must not be called while the
// caller itself holds an open write transaction
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.writeMu.Lock()
	defer maple.writeMu.Unlock()

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != formatVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, formatVersion)
	}

	v := internal.NewEmptyVersion()
	if err := binary.Read(br, binary.LittleEndian, &v.Seq); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &v.NextRowID); err != nil {
		return err
	}

	var rowCount uint64
	if err := binary.Read(br, binary.LittleEndian, &rowCount); err != nil {
		return err
	}

	for i := uint64(0); i < rowCount; i++ {
		row, err := readRow(br)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if row.RowID >= v.NextRowID {
			v.NextRowID = row.RowID + 1
		}
		v.Tree.ReplaceOrInsert(&internal.RowItem{Row: row})
		v.Counts[row.Collection]++
	}

	// versions of the old content can never be pinned again
	prev := maple.current.Load()
	maple.versions.Range(func(seq uint64, old *internal.Version) bool {
		if old != prev {
			maple.versions.Compute(seq, func(cur *internal.Version, loaded bool) (*internal.Version, bool) {
				return cur, !loaded || cur.Refs <= 0
			})
		}
		return true
	})
	maple.publish(v)
	return nil
}

func readRow(br *bufio.Reader) (db.Row, error) {
	var row db.Row

	collection, err := readBytes(br)
	if err != nil {
		return row, err
	}
	key, err := readBytes(br)
	if err != nil {
		return row, err
	}
	row.Collection, row.Key = string(collection), string(key)

	if err := binary.Read(br, binary.LittleEndian, &row.RowID); err != nil {
		return row, err
	}
	if err := binary.Read(br, binary.LittleEndian, &row.Version); err != nil {
		return row, err
	}
	if row.Object, err = readBytes(br); err != nil {
		return row, err
	}

	flag, err := br.ReadByte()
	if err != nil {
		return row, err
	}
	if flag == 1 {
		if row.Metadata, err = readBytes(br); err != nil {
			return row, err
		}
	}
	return row, nil
}

func readBytes(br *bufio.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(br, b); err != nil {
		return nil, err
	}
	return b, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	v := maple.pin()
	defer maple.unpin(v)

	// sample row sizes
	histogram := util.NewSizeHistogram()
	count := 0
	v.Tree.Ascend(func(i btree.Item) bool {
		row := i.(*internal.RowItem).Row
		histogram.AddSample(len(row.Collection) + len(row.Key) + len(row.Object) + len(row.Metadata))
		count++
		return count < infoSamples
	})

	// rowid, version, btree item pointer
	entryOverhead := 24
	sizeBytes := 0
	if count > 0 {
		sizeBytes = (histogram.AverageSize() + entryOverhead) * v.Tree.Len()
	}

	collectionSizes := make([]float64, 0, len(v.Counts))
	for _, n := range v.Counts {
		collectionSizes = append(collectionSizes, float64(n))
	}

	retained, oldest := maple.retainedVersions()

	// Metadata for this specific database implementation
	meta := &struct {
		RetainedVersions       int                    `json:"retained_versions"`
		OldestRetainedVersion  uint64                 `json:"oldest_retained_version"`
		NextRowID              int64                  `json:"next_rowid"`
		Collections            int                    `json:"collections"`
		CollectionDistribution util.DistributionStats `json:"collection_distribution"`
		MedianRowSize          int                    `json:"median_row_size"`
		Info                   string                 `json:"info"`
	}{
		RetainedVersions:       retained,
		OldestRetainedVersion:  oldest,
		NextRowID:              v.NextRowID,
		Collections:            len(v.Counts),
		CollectionDistribution: util.NewDistributionStats(collectionSizes),
		MedianRowSize:          histogram.MedianEstimate(),
		Info:                   "SizeBytes is estimated from a sample of rows.",
	}

	return db.DatabaseInfo{
		SizeBytes: sizeBytes,
		DbType:    db.ImplMaple,
		Version:   v.Seq,
		Rows:      v.Tree.Len(),
		SupportedFeatures: []db.Feature{
			db.FeatureSnapshots, db.FeatureWrite, db.FeatureScan, db.FeatureSave, db.FeatureLoad,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureSnapshots |
		db.FeatureWrite |
		db.FeatureScan |
		db.FeatureSave |
		db.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close rejects new write transactions. Open snapshots stay readable.
func (maple *mapleImpl) Close() error {
	maple.closed.Store(true)
	return nil
}
