// Package cmd implements the command-line interface of eKV. Every command opens
// the configured store, runs, and closes it again; the maple engine is loaded
// from and saved to a snapshot file.
//
// The package is organized into several subpackages:
//
//   - kv: Row commands (get, set, delete, delete-collection, keys, import, info, perf)
//   - ext: Extension commands (view, query, edges, extensions)
//   - util: Shared flags, configuration and store setup (internal use)
//
// See ekv -help for a list of all commands.
package cmd
