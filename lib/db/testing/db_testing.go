package testing

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/eKV/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("RowIDs", func(t *testing.T) {
			testRowIDs(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("DeleteCollection", func(t *testing.T) {
			testDeleteCollection(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("Rollback", func(t *testing.T) {
			testRollback(t, factory())
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, factory())
		})

		t.Run("Versions", func(t *testing.T) {
			testVersions(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentReaders", func(t *testing.T) {
			testConcurrentReaders(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// write runs fn in a write transaction and commits it
func write(t testing.TB, database db.KVDB, fn func(txn db.WriteTxn)) db.CommitInfo {
	txn, err := database.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	fn(txn)
	info, err := txn.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return info
}

func put(t testing.TB, txn db.WriteTxn, collection, key string, object, metadata []byte) int64 {
	rowid, _, err := txn.Put(collection, key, object, metadata)
	if err != nil {
		t.Fatalf("Put(%q, %q) failed: %v", collection, key, err)
	}
	return rowid
}

func scanKeys(snap db.Snapshot, collection string) []string {
	var keys []string
	for row := range snap.Scan(collection) {
		keys = append(keys, row.Key)
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite)

	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "lists", "a", []byte("object-a"), []byte("meta-a"))
		put(t, txn, "lists", "b", []byte("object-b"), nil)

		// reads see own writes
		row, ok := txn.Get("lists", "a")
		if !ok || !bytes.Equal(row.Object, []byte("object-a")) {
			t.Errorf("Expected write transaction to see its own write, got %v %v", row, ok)
		}
	})

	snap := database.Snapshot()
	defer snap.Release()

	row, ok := snap.Get("lists", "a")
	if !ok {
		t.Fatalf("Expected row lists/a to exist after commit")
	}
	if !bytes.Equal(row.Object, []byte("object-a")) {
		t.Errorf("Expected object %s, got %s", "object-a", row.Object)
	}
	if !bytes.Equal(row.Metadata, []byte("meta-a")) {
		t.Errorf("Expected metadata %s, got %s", "meta-a", row.Metadata)
	}

	row, ok = snap.Get("lists", "b")
	if !ok {
		t.Fatalf("Expected row lists/b to exist after commit")
	}
	if row.Metadata != nil {
		t.Errorf("Expected no metadata for lists/b, got %v", row.Metadata)
	}

	if _, ok := snap.Get("lists", "nonexistent"); ok {
		t.Errorf("Expected nonexistent key to return loaded=false")
	}
	if _, ok := snap.Get("other", "a"); ok {
		t.Errorf("Expected key in other collection to return loaded=false")
	}

	// the caller's buffer must not alias the stored value
	buf := []byte("mutable")
	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "lists", "c", buf, nil)
		buf[0] = 'X'
	})
	snap2 := database.Snapshot()
	defer snap2.Release()
	row, _ = snap2.Get("lists", "c")
	if !bytes.Equal(row.Object, []byte("mutable")) {
		t.Errorf("Put should copy the value, got %s", row.Object)
	}
}

func testRowIDs(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite)

	var first, second int64
	write(t, database, func(txn db.WriteTxn) {
		var inserted bool
		var err error
		first, inserted, err = txn.Put("c", "k1", []byte("1"), nil)
		if err != nil || !inserted {
			t.Errorf("Expected insert of c/k1, got inserted=%v err=%v", inserted, err)
		}
		second = put(t, txn, "c", "k2", []byte("2"), nil)
	})
	if first == second {
		t.Errorf("Expected distinct rowids, got %d twice", first)
	}

	write(t, database, func(txn db.WriteTxn) {
		rowid, inserted, err := txn.Put("c", "k1", []byte("1b"), nil)
		if err != nil || inserted {
			t.Errorf("Expected update of c/k1, got inserted=%v err=%v", inserted, err)
		}
		if rowid != first {
			t.Errorf("Update must keep the rowid: expected %d, got %d", first, rowid)
		}
	})

	// delete and re-insert gets a new rowid
	var third int64
	write(t, database, func(txn db.WriteTxn) {
		rowid, existed, err := txn.Delete("c", "k1")
		if err != nil || !existed || rowid != first {
			t.Errorf("Expected delete of rowid %d, got %d existed=%v err=%v", first, rowid, existed, err)
		}
	})
	write(t, database, func(txn db.WriteTxn) {
		third = put(t, txn, "c", "k1", []byte("again"), nil)
	})
	if third == first || third == second {
		t.Errorf("Rowids must not be reused, got %d (previous %d, %d)", third, first, second)
	}

	snap := database.Snapshot()
	defer snap.Release()
	row, _ := snap.Get("c", "k1")
	if row.RowID != third {
		t.Errorf("Expected stored rowid %d, got %d", third, row.RowID)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite)

	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "c", "k", []byte("v"), nil)
	})

	write(t, database, func(txn db.WriteTxn) {
		if _, existed, _ := txn.Delete("c", "k"); !existed {
			t.Errorf("Expected c/k to exist before delete")
		}
		if _, ok := txn.Get("c", "k"); ok {
			t.Errorf("Deleted row still visible inside the transaction")
		}
		if _, existed, _ := txn.Delete("c", "missing"); existed {
			t.Errorf("Deleting a missing row must report existed=false")
		}
	})

	snap := database.Snapshot()
	defer snap.Release()
	if _, ok := snap.Get("c", "k"); ok {
		t.Errorf("Expected c/k to be deleted")
	}
	if n := snap.Count("c"); n != 0 {
		t.Errorf("Expected count 0 after delete, got %d", n)
	}
	if cols := snap.Collections(); len(cols) != 0 {
		t.Errorf("Empty collections must not be listed, got %v", cols)
	}
}

func testDeleteCollection(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite)

	write(t, database, func(txn db.WriteTxn) {
		for i := 0; i < 10; i++ {
			put(t, txn, "drop", fmt.Sprintf("k%02d", i), []byte("v"), nil)
		}
		put(t, txn, "keep", "k", []byte("v"), nil)
		// prefix of "drop" must not be affected
		put(t, txn, "dro", "k", []byte("v"), nil)
	})

	write(t, database, func(txn db.WriteTxn) {
		keys, rowids, err := txn.DeleteCollection("drop")
		if err != nil {
			t.Fatalf("DeleteCollection failed: %v", err)
		}
		if len(keys) != 10 || len(rowids) != 10 {
			t.Errorf("Expected 10 deleted rows, got %d keys and %d rowids", len(keys), len(rowids))
		}
	})

	snap := database.Snapshot()
	defer snap.Release()
	if n := snap.Count("drop"); n != 0 {
		t.Errorf("Expected empty collection, got %d rows", n)
	}
	if got := snap.Collections(); !slices.Equal(got, []string{"dro", "keep"}) {
		t.Errorf("Expected collections [dro keep], got %v", got)
	}
}

func testScan(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite|db.FeatureScan)

	write(t, database, func(txn db.WriteTxn) {
		for _, k := range []string{"c", "a", "b", "aa"} {
			put(t, txn, "x", k, []byte(k), nil)
		}
		put(t, txn, "y", "a", []byte("y"), nil)
		put(t, txn, "w", "z", []byte("w"), nil)
	})

	snap := database.Snapshot()
	defer snap.Release()

	if got := scanKeys(snap, "x"); !slices.Equal(got, []string{"a", "aa", "b", "c"}) {
		t.Errorf("Expected keys in order [a aa b c], got %v", got)
	}
	if n := snap.Count("x"); n != 4 {
		t.Errorf("Expected 4 rows in x, got %d", n)
	}
	if got := snap.Collections(); !slices.Equal(got, []string{"w", "x", "y"}) {
		t.Errorf("Expected collections [w x y], got %v", got)
	}

	// early break
	n := 0
	for range snap.Scan("x") {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("Expected scan to stop after 2 rows, got %d", n)
	}
}

func testRollback(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite)

	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "c", "k", []byte("v1"), nil)
	})
	before := database.Snapshot().Version()

	txn, err := database.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	put(t, txn, "c", "k", []byte("v2"), nil)
	put(t, txn, "c", "new", []byte("v"), nil)
	txn.Rollback()
	txn.Rollback() // no-op

	snap := database.Snapshot()
	defer snap.Release()
	if snap.Version() != before {
		t.Errorf("Rollback must not advance the version: %d != %d", snap.Version(), before)
	}
	row, _ := snap.Get("c", "k")
	if !bytes.Equal(row.Object, []byte("v1")) {
		t.Errorf("Expected v1 after rollback, got %s", row.Object)
	}
	if _, ok := snap.Get("c", "new"); ok {
		t.Errorf("Rolled back insert is visible")
	}

	// the write lock must be free again
	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "c", "after", []byte("v"), nil)
	})
}

func testSnapshotIsolation(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite|db.FeatureScan)

	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "c", "k", []byte("old"), nil)
	})

	old := database.Snapshot()
	defer old.Release()

	for i := 0; i < 20; i++ {
		write(t, database, func(txn db.WriteTxn) {
			put(t, txn, "c", "k", []byte(fmt.Sprintf("new-%d", i)), nil)
			put(t, txn, "c", fmt.Sprintf("extra-%d", i), []byte("v"), nil)
		})
	}

	row, ok := old.Get("c", "k")
	if !ok || !bytes.Equal(row.Object, []byte("old")) {
		t.Errorf("Long-lived snapshot must keep its version, got %s", row.Object)
	}
	if n := old.Count("c"); n != 1 {
		t.Errorf("Expected old snapshot count 1, got %d", n)
	}
	if keys := scanKeys(old, "c"); !slices.Equal(keys, []string{"k"}) {
		t.Errorf("Expected old snapshot keys [k], got %v", keys)
	}

	// an open write transaction is invisible to snapshots
	txn, err := database.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	put(t, txn, "c", "pending", []byte("v"), nil)
	snap := database.Snapshot()
	if _, ok := snap.Get("c", "pending"); ok {
		t.Errorf("Uncommitted write is visible to a snapshot")
	}
	snap.Release()
	txn.Rollback()
}

func testVersions(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite)

	start := database.Snapshot()
	v0 := start.Version()
	start.Release()

	info := write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "c", "a", []byte("v"), nil)
	})
	if info.Version != v0+1 {
		t.Errorf("Expected commit version %d, got %d", v0+1, info.Version)
	}
	if info.Puts != 1 {
		t.Errorf("Expected 1 put, got %d", info.Puts)
	}

	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "c", "b", []byte("v"), nil)
	})

	snap := database.Snapshot()
	defer snap.Release()
	if snap.Version() != v0+2 {
		t.Errorf("Expected version %d, got %d", v0+2, snap.Version())
	}
	a, _ := snap.Get("c", "a")
	b, _ := snap.Get("c", "b")
	if a.Version != v0+1 || b.Version != v0+2 {
		t.Errorf("Expected row versions %d/%d, got %d/%d", v0+1, v0+2, a.Version, b.Version)
	}

	// empty commits still advance the version
	info = write(t, database, func(txn db.WriteTxn) {})
	if info.Version != v0+3 {
		t.Errorf("Expected empty commit version %d, got %d", v0+3, info.Version)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	defer database.Close()

	requireFeature(t, database, db.FeatureSave|db.FeatureLoad|db.FeatureWrite|db.FeatureScan)

	write(t, database, func(txn db.WriteTxn) {
		for i := 0; i < 100; i++ {
			var meta []byte
			if i%2 == 0 {
				meta = []byte(fmt.Sprintf("meta-%d", i))
			}
			put(t, txn, fmt.Sprintf("col-%d", i%3), fmt.Sprintf("key-%03d", i), []byte(fmt.Sprintf("value-%d", i)), meta)
		}
		put(t, txn, "empty-meta", "k", []byte("v"), []byte{})
	})

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := factory()
	defer restored.Close()
	if err := restored.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	orig := database.Snapshot()
	defer orig.Release()
	snap := restored.Snapshot()
	defer snap.Release()

	if snap.Version() != orig.Version() {
		t.Errorf("Expected restored version %d, got %d", orig.Version(), snap.Version())
	}
	if !slices.Equal(snap.Collections(), orig.Collections()) {
		t.Errorf("Collections differ: %v != %v", snap.Collections(), orig.Collections())
	}
	for _, collection := range orig.Collections() {
		for row := range orig.Scan(collection) {
			got, ok := snap.Get(collection, row.Key)
			if !ok {
				t.Errorf("Row %s/%s missing after load", collection, row.Key)
				continue
			}
			if !bytes.Equal(got.Object, row.Object) || got.RowID != row.RowID || got.Version != row.Version {
				t.Errorf("Row %s/%s differs after load", collection, row.Key)
			}
			if (got.Metadata == nil) != (row.Metadata == nil) || !bytes.Equal(got.Metadata, row.Metadata) {
				t.Errorf("Metadata of %s/%s differs after load: %v != %v", collection, row.Key, got.Metadata, row.Metadata)
			}
		}
	}

	// new rowids continue after the restored ones
	var maxRowID int64
	for _, collection := range snap.Collections() {
		for row := range snap.Scan(collection) {
			maxRowID = max(maxRowID, row.RowID)
		}
	}
	write(t, restored, func(txn db.WriteTxn) {
		if rowid := put(t, txn, "fresh", "k", []byte("v"), nil); rowid <= maxRowID {
			t.Errorf("Expected rowid > %d after load, got %d", maxRowID, rowid)
		}
	})

	if err := restored.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Expected Load of invalid data to fail")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite)

	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "", "", []byte("empty names"), nil)
		put(t, txn, "c", "nil-object", nil, nil)
		put(t, txn, "c", "unicode-ключ-🔑", []byte("v"), nil)
	})

	snap := database.Snapshot()
	defer snap.Release()

	if row, ok := snap.Get("", ""); !ok || !bytes.Equal(row.Object, []byte("empty names")) {
		t.Errorf("Empty collection and key not handled, got %v %v", row, ok)
	}
	if row, ok := snap.Get("c", "nil-object"); !ok || len(row.Object) != 0 {
		t.Errorf("Nil object resulted in %v %v", row.Object, ok)
	}
	if _, ok := snap.Get("c", "unicode-ключ-🔑"); !ok {
		t.Errorf("Unicode key not found")
	}

	txn, err := database.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	if _, _, err := txn.Put("c", "with\x00zero", []byte("v"), nil); err == nil {
		t.Errorf("Expected keys with a zero byte to be rejected")
	}
	txn.Rollback()

	if _, err := txn.Commit(); err == nil {
		t.Errorf("Expected Commit after Rollback to fail")
	}

	snap.Release()
	snap.Release() // no-op
}

func testConcurrentReaders(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSnapshots|db.FeatureWrite|db.FeatureScan)

	const (
		numWriters = 50
		numReaders = 8
	)

	write(t, database, func(txn db.WriteTxn) {
		put(t, txn, "counter", "a", []byte("0"), nil)
		put(t, txn, "counter", "b", []byte("0"), nil)
	})

	var (
		stop       atomic.Bool
		errorCount atomic.Int32
		wg         sync.WaitGroup
	)
	wg.Add(numReaders)

	// each commit writes the same value to a and b, readers must never see them differ
	for r := 0; r < numReaders; r++ {
		go func() {
			defer wg.Done()
			for !stop.Load() {
				snap := database.Snapshot()
				a, _ := snap.Get("counter", "a")
				b, _ := snap.Get("counter", "b")
				if !bytes.Equal(a.Object, b.Object) || len(scanKeys(snap, "counter")) != 2 {
					errorCount.Add(1)
				}
				snap.Release()
			}
		}()
	}

	for i := 1; i <= numWriters; i++ {
		v := []byte(fmt.Sprintf("%d", i))
		write(t, database, func(txn db.WriteTxn) {
			put(t, txn, "counter", "a", v, nil)
			put(t, txn, "counter", "b", v, nil)
		})
	}
	stop.Store(true)
	wg.Wait()

	if n := errorCount.Load(); n > 0 {
		t.Fatalf("Readers observed %d torn snapshots", n)
	}
}
