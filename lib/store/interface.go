package store

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// IStore is an embedded transactional store with extensions. Every write transaction
// is observed by all registered extensions before it becomes visible; readers always
// see rows and derived state of the same version.
type IStore interface {
	// Register attaches an extension under a unique name and populates it from all
	// existing rows. Fails with ErrDuplicateName if the name is taken.
	Register(ctx context.Context, name string, ext Extension) (err error)
	// RegisterAll registers several extensions atomically, populating them concurrently.
	RegisterAll(ctx context.Context, exts []NamedExtension) (err error)
	// Unregister detaches an extension and discards its derived state.
	Unregister(ctx context.Context, name string) (err error)
	// Extensions lists the registered extensions in registration order.
	Extensions() (infos []ExtensionInfo)
	// ExtensionStats reports hook timings of an extension.
	ExtensionStats(name string) (stats ExtensionStats, ok bool)

	// BeginRead starts a read transaction on the latest committed version.
	BeginRead() (txn ReadTxn)
	// Read runs fn in a read transaction.
	Read(fn func(txn ReadTxn) error) (err error)
	// BeginWrite starts the exclusive write transaction, blocking until it is available
	// or ctx is done.
	BeginWrite(ctx context.Context) (txn WriteTxn, err error)
	// Write runs fn in a write transaction and commits it if fn returns nil.
	Write(ctx context.Context, fn func(txn WriteTxn) error) (cs *ChangeSet, err error)

	// NewConnection creates a connection for long-lived read transactions.
	NewConnection() (conn Connection)
	// Subscribe registers fn to receive every Change-Set after it is committed, in
	// commit order, from a dedicated goroutine.
	Subscribe(fn func(cs *ChangeSet)) (cancel func())

	// Codecs returns the per-collection serializer registry.
	Codecs() (codecs CodecRegistry)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo)
	// WriteMetrics writes the store metrics in Prometheus text format.
	WriteMetrics(w io.Writer)
	// Close waits for pending notifications and closes the database.
	Close() (err error)
}

// Reader is the read access shared by read transactions, write transactions and
// hook contexts.
type Reader interface {
	// Version of the snapshot (for write transactions the version they are based on).
	Version() uint64
	Get(collection, key string) (object any, ok bool)
	GetMetadata(collection, key string) (metadata any, ok bool)
	GetRow(collection, key string) (row Row, ok bool)
	Has(collection, key string) bool
	Collections() []string
	Count(collection string) int
	// Keys and Rows iterate a collection in key order.
	Keys(collection string) iter.Seq[string]
	Rows(collection string) iter.Seq[Row]
}

// ReadTxn is a consistent view of rows and every extension's derived state.
type ReadTxn interface {
	Reader
	// Ext returns the reader of a registered extension, nil if there is none.
	Ext(name string) any
	// Close releases the snapshot. Calling it more than once is a no-op.
	Close()
}

// WriteTxn buffers mutations until Commit. Reads see the buffered mutations.
type WriteTxn interface {
	ReadTxn
	// Set inserts or replaces object and metadata (nil metadata removes it).
	Set(collection, key string, object, metadata any) error
	// SetObject replaces the object and keeps the metadata.
	SetObject(collection, key string, object any) error
	// SetMetadata replaces the metadata of an existing row.
	SetMetadata(collection, key string, metadata any) error
	// Touch records an update of an existing row without changing it.
	Touch(collection, key string, changes ChangeMask) error
	Delete(collection, key string) error
	DeleteAllInCollection(collection string) error
	// Flush delivers the pending changes to the extensions, so Ext handles reflect them.
	Flush() error
	// Commit runs the extension hooks, persists and publishes the transaction.
	// A transaction without mutations returns a nil Change-Set.
	Commit() (cs *ChangeSet, err error)
	// Rollback discards the transaction. It is a no-op after Commit.
	Rollback()
}

// Connection hands out long-lived read transactions together with the Change-Sets
// committed since the previous one.
type Connection interface {
	// BeginLongLivedReadTransaction ends the previous long-lived transaction and starts a
	// new one. It returns the Change-Sets committed in between, oldest first.
	BeginLongLivedReadTransaction() (txn ReadTxn, changes []*ChangeSet)
	// EndLongLivedReadTransaction releases the current long-lived transaction.
	EndLongLivedReadTransaction()
	// Close ends the connection.
	Close()
}

// --------------------------------------------------------------------------
// Extensions
// --------------------------------------------------------------------------

// ExtensionState is the immutable derived state of an extension at one version.
type ExtensionState any

// ExtensionInfo describes a registration.
type ExtensionInfo struct {
	Name       string
	Generation uint64 // registry generation at registration
	DatabaseID uuid.UUID
}

// NamedExtension pairs an extension with its registration name.
type NamedExtension struct {
	Name      string
	Extension Extension
}

// Extension is an incrementally maintained derived structure.
type Extension interface {
	// Attach is called once per registration and returns the empty state.
	Attach(info ExtensionInfo) (state ExtensionState, err error)
	// BeginWrite starts maintenance for one write transaction (or the population).
	BeginWrite(state ExtensionState, ctx HookContext) ExtensionWriter
	// NewReader returns the object handed out by ReadTxn.Ext.
	NewReader(state ExtensionState, txn ReadTxn) any
}

// ExtensionWriter maintains the derived state during one write transaction.
type ExtensionWriter interface {
	// ProcessChanges is called once per delivery round with the changes not seen yet.
	ProcessChanges(changes []Change) error
	// Finish returns the new state and the notification added to the Change-Set.
	Finish() (state ExtensionState, notification any, err error)
	// Handle returns the object handed out by WriteTxn.Ext.
	Handle() any
}

// HookContext is the transaction as seen by an extension hook. Mutations issued through
// it are tagged with the extension's name and delivered in the next round.
type HookContext interface {
	Reader
	// Populating is true while the extension is populated at registration; mutations
	// fail with ErrInvalidOperation then.
	Populating() bool
	Delete(collection, key string) error
	// ReplaceObject replaces the object of an existing row and keeps its metadata.
	ReplaceObject(collection, key string, object any) error
}

// ExtensionStats reports timings of the ProcessChanges hook.
type ExtensionStats struct {
	Name   string
	Calls  int64
	Errors int64
	Mean   time.Duration
	P99    time.Duration
	Max    time.Duration
}

// --------------------------------------------------------------------------
// Codecs
// --------------------------------------------------------------------------

// Codec serializes objects or metadata of a collection.
type Codec interface {
	Encode(collection, key string, v any) ([]byte, error)
	Decode(collection, key string, b []byte) (any, error)
}

// CodecPair holds the codecs for objects and metadata of a collection.
type CodecPair struct {
	Object   Codec
	Metadata Codec
}

// CodecRegistry maps collections to codecs. Collection "" is the default used for
// every collection without its own entry.
type CodecRegistry interface {
	Register(collection string, pair CodecPair) error
	Lookup(collection string) CodecPair
}
