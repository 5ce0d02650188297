// Package store defines the public contract of eKV: transactions, Change-Sets, the
// extension hook protocol, the codec boundary and the error taxonomy.
//
// Key Components:
//
//   - IStore: the database. Register/Unregister manage extensions, BeginRead/BeginWrite
//     open transactions, Subscribe and NewConnection deliver Change-Sets.
//
//   - ReadTxn / WriteTxn: a read transaction pairs one engine snapshot with the derived
//     state every extension published for the same version. A write transaction buffers
//     mutations; Ext(name) hands out the extension's reader or write handle.
//
//   - Extension / ExtensionWriter / HookContext: the hook protocol. On commit every
//     registered extension receives the transaction's changes in registration order.
//     Mutations issued by a hook (cascading deletes, notify replacements) are appended
//     to the Change-Set and delivered to all extensions in the next round, until a round
//     produces nothing new. Any hook error or panic aborts the transaction with
//     ErrExtensionMaintenance.
//
//   - ChangeSet: the record of one commit, with the mutations, the previous version
//     (to detect gaps) and one notification payload per extension.
//
//   - Error: a return code plus message. errors.Is(err, store.ErrDuplicateName) matches
//     by code through any wrapping.
//
// Implementations: the lstore package (github.com/ValentinKolb/eKV/lib/store/lstore)
// implements IStore on top of any db.KVDB engine.
package store
