// Package badgerdb implements db.KVDB on top of BadgerDB (github.com/dgraph-io/badger/v4).
//
// Rows are stored under r<collection>\x00<key>, per-collection row counts under
// c<collection>, and the last committed version and the next rowid under m/version
// and m/rowid. The row value carries rowid, row version, object and metadata.
//
// Snapshots are badger read-only transactions, so retention of old versions is
// left to badger's own MVCC: values visible to an open transaction are not
// compacted away. The single write transaction is a badger update transaction;
// very large transactions can fail with badger.ErrTxnTooBig.
//
// Save writes a small header followed by badger's backup stream, Load drops all
// data and restores such a stream. A persistent database runs value log GC in
// the background when a GC interval is configured.
package badgerdb
