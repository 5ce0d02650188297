package maple

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/eKV/lib/db"
)

func commit(t *testing.T, database db.KVDB, key string) {
	t.Helper()
	txn, err := database.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	if _, _, err := txn.Put("c", key, []byte(key), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestRetention(t *testing.T) {
	maple := NewMapleDB(nil).(*mapleImpl)

	commit(t, maple, "a")
	pinned := maple.Snapshot()

	for i := 0; i < 10; i++ {
		commit(t, maple, fmt.Sprintf("k%d", i))
	}

	if n, oldest := maple.retainedVersions(); n != 2 || oldest != pinned.Version() {
		t.Errorf("Expected 2 retained versions (oldest %d), got %d (oldest %d)", pinned.Version(), n, oldest)
	}

	pinned.Release()
	if n, oldest := maple.retainedVersions(); n != 1 || oldest != 11 {
		t.Errorf("Expected only the current version 11 to be retained, got %d (oldest %d)", n, oldest)
	}
}

func TestRetentionConcurrent(t *testing.T) {
	maple := NewMapleDB(nil).(*mapleImpl)

	var wg sync.WaitGroup
	wg.Add(4)
	for r := 0; r < 4; r++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				maple.Snapshot().Release()
			}
		}()
	}
	for i := 0; i < 200; i++ {
		commit(t, maple, fmt.Sprintf("k%d", i))
	}
	wg.Wait()

	if n, oldest := maple.retainedVersions(); n != 1 || oldest != 200 {
		t.Errorf("Expected only the current version to be retained, got %d (oldest %d)", n, oldest)
	}
}

func TestInitialVersion(t *testing.T) {
	maple := NewMapleDB(&DBOptions{InitialVersion: 41})
	commit(t, maple, "a")

	snap := maple.Snapshot()
	defer snap.Release()
	if snap.Version() != 42 {
		t.Errorf("Expected version 42, got %d", snap.Version())
	}
}

func TestGetInfo(t *testing.T) {
	maple := NewMapleDB(nil)
	for i := 0; i < 10; i++ {
		commit(t, maple, fmt.Sprintf("k%d", i))
	}

	info := maple.GetInfo()
	if info.Rows != 10 || info.Version != 10 || info.DbType != db.ImplMaple {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("Expected a positive size estimate, got %d", info.SizeBytes)
	}
	if maple.SupportsFeature(db.FeaturePersistence) {
		t.Errorf("Maple is not persistent")
	}
}

func TestClose(t *testing.T) {
	maple := NewMapleDB(nil)
	commit(t, maple, "a")
	snap := maple.Snapshot()

	if err := maple.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := maple.BeginWrite(); err == nil {
		t.Errorf("Expected BeginWrite to fail after Close")
	}
	if _, ok := snap.Get("c", "a"); !ok {
		t.Errorf("Open snapshots must stay readable after Close")
	}
	snap.Release()
}
