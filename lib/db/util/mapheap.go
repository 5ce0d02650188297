// Package util
//
// This file provides a min-heap with key-based access.
//
// The store uses it to track open read transactions: the key is the transaction id
// and the priority is the version the transaction is pinned to, so Peek returns
// the oldest version that is still being read.
//
// Time Complexity:
//   - O(log n) for Add, Remove and priority updates
//   - O(1) for key-based lookups and Peek
//
// Concurrency Considerations:
//   - This implementation is not thread-safe
//   - For concurrent use, external synchronization should be applied
//
// Example usage:
//
//	open := NewMapHeap()
//	open.Add(txnID, version)
//	oldest, _, ok := open.Peek()
//	open.Remove(txnID)
package util

import (
	"container/heap"
	"strconv"
)

// item represents one entry of the heap
type item struct {
	Key      uint64 // Unique identifier for the item
	Priority uint64 // Priority used for ordering in the heap
	index    int    // Index in the heap, maintained by heap package
}

func (i *item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// entries is the heap.Interface implementation behind MapHeap
type entries struct {
	items    []*item
	itemsMap map[uint64]*item
}

func (e *entries) Len() int { return len(e.items) }

// ties are broken by key to keep Peek deterministic
func (e *entries) Less(i, j int) bool {
	if e.items[i].Priority != e.items[j].Priority {
		return e.items[i].Priority < e.items[j].Priority
	}
	return e.items[i].Key < e.items[j].Key
}

func (e *entries) Swap(i, j int) {
	e.items[i], e.items[j] = e.items[j], e.items[i]
	e.items[i].index = i
	e.items[j].index = j
}

func (e *entries) Push(x any) {
	it := x.(*item)
	it.index = len(e.items)
	e.items = append(e.items, it)
	e.itemsMap[it.Key] = it
}

func (e *entries) Pop() any {
	old := e.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	e.items = old[:n-1]
	delete(e.itemsMap, it.Key)
	return it
}

// MapHeap is a min-heap of (key, priority) pairs with O(1) access by key
type MapHeap struct {
	e entries
}

// NewMapHeap creates an empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{e: entries{itemsMap: make(map[uint64]*item)}}
}

// Len returns the number of entries
func (mh *MapHeap) Len() int { return mh.e.Len() }

// Add inserts a key or updates the priority of an existing one
func (mh *MapHeap) Add(key, priority uint64) {
	if it, exists := mh.e.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(&mh.e, it.index)
		return
	}
	heap.Push(&mh.e, &item{Key: key, Priority: priority})
}

// Remove deletes a key and returns its priority
func (mh *MapHeap) Remove(key uint64) (priority uint64, ok bool) {
	it, exists := mh.e.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(&mh.e, it.index)
	return it.Priority, true
}

// Peek returns the entry with the lowest priority without removing it
func (mh *MapHeap) Peek() (priority, key uint64, ok bool) {
	if len(mh.e.items) == 0 {
		return 0, 0, false
	}
	it := mh.e.items[0]
	return it.Priority, it.Key, true
}

// PopMin removes and returns the entry with the lowest priority
func (mh *MapHeap) PopMin() (priority, key uint64, ok bool) {
	if len(mh.e.items) == 0 {
		return 0, 0, false
	}
	it := heap.Pop(&mh.e).(*item)
	return it.Priority, it.Key, true
}

// Get returns the priority of a key
func (mh *MapHeap) Get(key uint64) (priority uint64, ok bool) {
	it, exists := mh.e.itemsMap[key]
	if !exists {
		return 0, false
	}
	return it.Priority, true
}
