// Package db provides the standardized interface for the snapshot stores that sit
// below the extension framework. It defines a KVDB interface that lets the store
// layer work with any backend while abstracting implementation details.
//
// The package focuses on:
//   - A unified, versioned (collection, key) table with one writer and many readers
//   - Feature discovery through capability flags
//   - Standardized persistence operations
//   - Comprehensive metadata reporting
//
// Key Components:
//
//   - KVDB Interface: the core interface that all database implementations must satisfy.
//     Snapshot pins the latest committed version for reading, BeginWrite opens the
//     exclusive write transaction.
//
//   - Snapshot: an immutable view of one committed version. Long-lived snapshots are
//     allowed; implementations must keep the pinned version readable until Release,
//     regardless of how many commits happen in between, and may reclaim a version
//     once nothing references it.
//
//   - WriteTxn: buffered mutations that become visible atomically on Commit. Reads
//     through the write transaction see its own writes. Put assigns a rowid on insert
//     and keeps it on update; rowids are never reused.
//
//   - Feature Flags: the Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: the DatabaseInfo structure reports size statistics,
//     implementation type and implementation-specific metadata. For most
//     implementations the size statistics are estimates.
//
// Note on versions:
//   - Versions start at 0 for an empty database and increase by exactly one per commit.
//   - Snapshot().Version() is the version of the newest commit at the time of the call.
//   - Row.Version is the version of the commit that last wrote the row; the store layer
//     uses (collection, key, Row.Version) as identity of an immutable row version.
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/eKV/lib/db/engines/maple) keeps
// every version as a copy-on-write B-tree in memory with reference counted retention
// and a binary Save/Load format.
//
// The engines/badgerdb package (github.com/ValentinKolb/eKV/lib/db/engines/badgerdb)
// stores rows in BadgerDB and relies on badger's own MVCC for snapshot retention.
//
// The testing package (github.com/ValentinKolb/eKV/lib/db/testing) provides
// standardized tests and benchmarks for implementations of the db.KVDB interface.
//   - RunKVDBTests: runs the conformance suite
//   - RunKVDBBenchmarks: provides performance benchmarks for comparing implementations
package db
