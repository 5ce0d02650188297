// Package lstore implements store.IStore on top of any db.KVDB: the local database
// with transactions, the extension commit pipeline, the registry, Change-Set
// notifications and long-lived read connections.
//
// Key Features:
//   - One exclusive writer, any number of readers on immutable snapshots
//   - Extension hooks run inside the write transaction, in registration order
//   - Rows and derived extension state are published together in one atomic step
//   - Asynchronous, ordered Change-Set delivery to subscribers
//   - Decoded-object cache keyed by row version
//
// Implementation Details:
//
//   - Published State: every commit stores a new immutable dbState (version, registry
//     generation, extension states) behind an atomic pointer. The engine commits
//     before the state is published, so a reader takes the state, then an engine
//     snapshot, and retries until both carry the same version.
//
//   - Delivery Rounds: on Flush or Commit every writer receives the changes it has
//     not seen yet. Mutations issued by hooks through their HookContext are appended to
//     the Change-Set and delivered in the next round. A commit fails with
//     ExtensionMaintenance if the rounds do not settle or a hook returns an error or
//     panics; the engine transaction is rolled back then.
//
//   - Registration: Register and Unregister take the writer lock, populate new
//     extensions concurrently from snapshots of the current version and publish a
//     Change-Set with RegistryChanged set.
//
//   - Codecs: objects are encoded on write and decoded on read with the codecs of the
//     collection. Decode failures yield a nil object and a debug log line. Decoded
//     objects are shared between transactions and must be treated as immutable.
//
// Usage Example:
//
//	s, err := lstore.Open(lstore.DefaultOptions(func() (db.KVDB, error) {
//		return maple.NewMapleDB(maple.DefaultOptions()), nil
//	}))
//
//	_, err = s.Write(ctx, func(tx store.WriteTxn) error {
//		return tx.Set("todos", "t1", map[string]any{"title": "Groceries"}, nil)
//	})
//
//	err = s.Read(func(tx store.ReadTxn) error {
//		obj, ok := tx.Get("todos", "t1")
//		...
//	})
package lstore
