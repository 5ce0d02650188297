// Package maple implements an in-memory, multi-version key-value database (KVDB).
// It provides a complete implementation of the db.KVDB interface with a focus on
// lock-free readers and cheap long-lived snapshots.
//
// The package focuses on:
//   - Readers that never block and never see a partially applied commit
//   - Long-lived snapshots that stay valid across any number of commits
//   - Reclaiming old versions as soon as the last snapshot releases them
//   - Persistent storage with consistent snapshots and efficient binary encoding
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It holds the
//     current version behind an atomic pointer and a retention table with every
//     version that is still referenced by a snapshot.
//
//   - Version (internal): One committed state of the database. The rows live in a
//     google/btree ordered by (collection, key). A version is immutable once
//     published; the write transaction works on a Clone of the current tree, which
//     shares every node with the published tree until it is written
//     (copy-on-write). A commit therefore costs O(changed rows * log n), independent
//     of the database size.
//
//   - writeTxn: The exclusive write transaction. Only one is open at a time (a mutex
//     is held from BeginWrite until Commit or Rollback). Rollback simply drops the
//     cloned tree.
//
// Internal Mechanisms:
//
//   - Retention: The versions are stored in an xsync.MapOf keyed by version number.
//     Pinning and unpinning a snapshot adjusts the reference count inside the map's
//     Compute callback, so pin, unpin and reclaim are atomic with respect to each
//     other without a global lock. A version is removed from the table when its
//     reference count drops to zero and it is no longer the current version.
//     The trees themselves are garbage collected by the Go runtime once no table
//     entry and no snapshot references them.
//
//   - Row identity: Each row carries a rowid that is assigned on insert, kept on
//     update and never reused, and the version of the commit that last wrote it.
//
//   - Persistence Format: The database uses a compact binary format with the
//     following structure:
//     1. Magic number "MAPLEKV\x00" to identify the file format
//     2. Format version number (currently 1)
//     3. Database version and next rowid
//     4. Number of rows
//     5. For each row: collection, key, rowid, row version, object, metadata flag
//     and metadata
//     Save works on a pinned snapshot and therefore writes a consistent cut of the
//     database while commits continue.
//
//   - Metrics and Monitoring: The database provides statistics via the GetInfo
//     method, including size estimates based on sampling, the distribution of rows
//     across collections and the number of retained versions.
package maple
