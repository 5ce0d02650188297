// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - testing: A conformance suite covering rowid assignment, snapshot isolation,
//     versioning, rollback and Save/Load round trips
//   - benchmark: Performance tests for commits, point reads, scans and snapshots
//
// Tests that need a feature the implementation does not advertise are skipped.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.KVDB {
//		return NewMyDatabase()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing
