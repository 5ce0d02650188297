package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/eKV/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory())
	})

	b.Run("PutBatch", func(b *testing.B) {
		benchmarkPutBatch(b, factory())
	})

	b.Run("PutLargeValue", func(b *testing.B) {
		benchmarkPutLargeValue(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, factory())
	})

	b.Run("Snapshot", func(b *testing.B) {
		benchmarkSnapshot(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// fill writes n rows with small values into one collection
func fill(b *testing.B, database db.KVDB, collection string, n int) {
	const batch = 1000
	for start := 0; start < n; start += batch {
		write(b, database, func(txn db.WriteTxn) {
			for i := start; i < min(start+batch, n); i++ {
				put(b, txn, collection, fmt.Sprintf("key-%08d", i), []byte(fmt.Sprintf("value-%d", i)), nil)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for single row commits
func benchmarkPut(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureWrite)

	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		write(b, database, func(txn db.WriteTxn) {
			put(b, txn, "bench", fmt.Sprintf("key-%d", i), value, nil)
		})
	}
}

// Benchmark for many rows per commit
func benchmarkPutBatch(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureWrite)

	value := []byte("benchmark-value")
	const batch = 100

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		write(b, database, func(txn db.WriteTxn) {
			for j := 0; j < batch; j++ {
				put(b, txn, "bench", fmt.Sprintf("key-%d-%d", i, j), value, nil)
			}
		})
	}
}

// Benchmark for commits of large values
func benchmarkPutLargeValue(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureWrite)

	largeValue := make([]byte, 1024*1024) // 1MB
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		write(b, database, func(txn db.WriteTxn) {
			put(b, txn, "bench", fmt.Sprintf("key-%d", i%100), largeValue, nil)
		})
	}
}

// Benchmark for point reads from parallel snapshots
func benchmarkGet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSnapshots|db.FeatureWrite)

	const rows = 10_000
	fill(b, database, "bench", rows)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		snap := database.Snapshot()
		defer snap.Release()
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			snap.Get("bench", fmt.Sprintf("key-%08d", r.Intn(rows)))
		}
	})
}

// Benchmark for full collection scans
func benchmarkScan(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSnapshots|db.FeatureWrite|db.FeatureScan)

	fill(b, database, "bench", 10_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap := database.Snapshot()
		n := 0
		for range snap.Scan("bench") {
			n++
		}
		snap.Release()
	}
}

// Benchmark for pinning and releasing snapshots
func benchmarkSnapshot(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSnapshots)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			database.Snapshot().Release()
		}
	})
}

// Benchmark for Save and Load operations
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSave|db.FeatureLoad|db.FeatureWrite)

	fill(b, database, "bench", 100_000)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		b.Fatalf("Save failed: %v", err)
	}
	saved := buf.Bytes()

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var out bytes.Buffer
			if err := database.Save(&out); err != nil {
				b.Fatalf("Save failed: %v", err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			restored := factory()
			if err := restored.Load(bytes.NewReader(saved)); err != nil {
				b.Fatalf("Load failed: %v", err)
			}
			restored.Close()
		}
	})
}

// Benchmark with readers running against a writer
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSnapshots|db.FeatureWrite)

	const rows = 1000
	fill(b, database, "bench", rows)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%08d", r.Intn(rows))
			// 1 in 10 operations is a write
			if r.Intn(10) == 0 {
				write(b, database, func(txn db.WriteTxn) {
					put(b, txn, "bench", key, []byte("updated"), nil)
				})
				continue
			}
			snap := database.Snapshot()
			snap.Get("bench", key)
			snap.Release()
		}
	})
}
