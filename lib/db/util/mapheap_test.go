package util

import (
	"math/rand"
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, _, ok := mh.Peek(); ok {
		t.Errorf("Peek() on an empty heap should return ok=false")
	}
	if _, _, ok := mh.PopMin(); ok {
		t.Errorf("PopMin() on an empty heap should return ok=false")
	}
}

// TestAdd tests adding items to the heap
func TestAdd(t *testing.T) {
	mh := NewMapHeap()

	mh.Add(1, 100)
	mh.Add(2, 200)
	mh.Add(3, 50)

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}

	priority, key, ok := mh.Peek()
	if !ok {
		t.Fatal("Peek() should return an item")
	}
	if key != 3 || priority != 50 {
		t.Errorf("Expected min item to be (3,50), got (%d,%d)", key, priority)
	}
}

// TestUpdate tests updating existing items
func TestUpdate(t *testing.T) {
	mh := NewMapHeap()

	mh.Add(1, 100)
	mh.Add(2, 200)
	mh.Add(1, 300)

	if priority, ok := mh.Get(1); !ok || priority != 300 {
		t.Errorf("Expected priority 300 for key 1, got %d (ok=%v)", priority, ok)
	}
	if mh.Len() != 2 {
		t.Errorf("Update must not add an entry, got length %d", mh.Len())
	}
	if _, key, _ := mh.Peek(); key != 2 {
		t.Errorf("Expected key 2 to be the minimum after update, got %d", key)
	}
}

// TestRemove tests removing items by key
func TestRemove(t *testing.T) {
	mh := NewMapHeap()

	mh.Add(1, 10)
	mh.Add(2, 20)
	mh.Add(3, 30)

	priority, ok := mh.Remove(1)
	if !ok || priority != 10 {
		t.Errorf("Expected to remove key 1 with priority 10, got %d (ok=%v)", priority, ok)
	}
	if _, ok := mh.Remove(1); ok {
		t.Errorf("Removing a missing key should return ok=false")
	}
	if _, key, _ := mh.Peek(); key != 2 {
		t.Errorf("Expected key 2 to be the minimum, got %d", key)
	}
}

// TestTieBreak tests that equal priorities are ordered by key
func TestTieBreak(t *testing.T) {
	mh := NewMapHeap()

	mh.Add(7, 5)
	mh.Add(3, 5)
	mh.Add(9, 5)

	if _, key, _ := mh.Peek(); key != 3 {
		t.Errorf("Expected the smallest key on equal priorities, got %d", key)
	}
}

// TestPopOrder tests that random input is returned in priority order
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap()
	r := rand.New(rand.NewSource(1))

	priorities := make([]uint64, 500)
	for i := range priorities {
		priorities[i] = uint64(r.Intn(1000))
		mh.Add(uint64(i), priorities[i])
	}

	// remove some keys in between
	for i := 0; i < len(priorities); i += 7 {
		mh.Remove(uint64(i))
		priorities[i] = 1 << 62
	}

	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	for _, expected := range priorities {
		if expected == 1<<62 {
			break
		}
		priority, _, ok := mh.PopMin()
		if !ok || priority != expected {
			t.Fatalf("Expected priority %d, got %d (ok=%v)", expected, priority, ok)
		}
	}
	if mh.Len() != 0 {
		t.Errorf("Expected empty heap, got %d entries", mh.Len())
	}
}
