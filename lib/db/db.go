package db

import (
	"io"
	"iter"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplBadger Implementation = "badger"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureSnapshots   Feature = 1 << iota // Support for pinned read snapshots
	FeatureWrite                           // Support for exclusive write transactions
	FeatureScan                            // Support for ordered collection scans
	FeatureSave                            // Support for Save operations
	FeatureLoad                            // Support for Load operations
	FeaturePersistence                     // Data survives a restart without Save/Load
	FeatureValueLogGC                      // Background garbage collection of old values
)

func (f Feature) String() string {
	switch f {
	case FeatureSnapshots:
		return "Snapshots"
	case FeatureWrite:
		return "Write"
	case FeatureScan:
		return "Scan"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeaturePersistence:
		return "Persistence"
	case FeatureValueLogGC:
		return "ValueLogGC"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	Version           uint64         `json:"version"`
	Rows              int            `json:"rows"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Row is a stored row as seen by the engines. Object and Metadata are the
// serialized blobs, the engines never look into them.
type Row struct {
	Collection string
	Key        string
	RowID      int64
	Version    uint64 // commit version that last wrote the row
	Object     []byte
	Metadata   []byte // nil if the row has no metadata
}

// CommitInfo describes a successful commit.
type CommitInfo struct {
	Version uint64
	Puts    int
	Deletes int
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// Snapshot is an immutable view of the database at one committed version.
// A snapshot stays valid (and keeps its version alive) until Release is called.
type Snapshot interface {
	// Version returns the commit version the snapshot is bound to.
	Version() uint64

	// Get retrieves the row for an exact collection and key.
	// The returned byte slices must not be modified by the caller.
	Get(collection, key string) (row Row, loaded bool)

	// Scan returns the rows of a collection in key order.
	Scan(collection string) iter.Seq[Row]

	// Collections returns the names of all non-empty collections, sorted.
	Collections() []string

	// Count returns the number of rows in a collection.
	Count(collection string) int

	// Release unpins the snapshot. Calling it more than once is a no-op.
	Release()
}

// WriteTxn is the only way to mutate a KVDB. Reads through a WriteTxn see the
// transaction's own writes. Nothing is visible to snapshots before Commit.
type WriteTxn interface {
	Snapshot

	// Put inserts or replaces a row. rowid is the existing rowid for updates and
	// a newly assigned one for inserts.
	Put(collection, key string, object, metadata []byte) (rowid int64, inserted bool, err error)

	// Delete removes a row. existed is false (and rowid 0) if there was none.
	Delete(collection, key string) (rowid int64, existed bool, err error)

	// DeleteCollection removes all rows of a collection and returns their keys and rowids.
	DeleteCollection(collection string) (keys []string, rowids []int64, err error)

	// Commit atomically publishes the writes as the next version.
	// A transaction without writes still advances the version.
	Commit() (info CommitInfo, err error)

	// Rollback discards the writes. It is a no-op after Commit.
	Rollback()
}

// KVDB defines the snapshot store used below the extension framework: an ordered
// key-value table keyed by (collection, key), versioned by commit, with one writer
// and any number of readers.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Transactions
	// --------------------------------------------------------------------------

	// Snapshot pins and returns the latest committed version.
	Snapshot() (snap Snapshot)

	// BeginWrite starts the exclusive write transaction. It blocks while another
	// write transaction is open.
	BeginWrite() (txn WriteTxn, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the latest committed version to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state from an io.Reader. It must not run
	// concurrently with open transactions.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database.
	Close() (err error)
}

// ValidName reports whether a collection or key can be stored. The zero byte is
// reserved as separator by the key encoding of persistent engines.
func ValidName(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return false
		}
	}
	return true
}
