// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) mailbox.
//
// Features and Guarantees:
//
//   - Lock-Free: producers only use atomic operations, a slow consumer never blocks Push
//   - Unbounded Size: the queue can grow to any size as needed, limited only by available memory
//   - Single Consumer: one goroutine per mailbox calls the handler, one value at a time
//   - FIFO per producer: values pushed by the same goroutine are handled in push order.
//     Under concurrent Push() operations the order between producers is determined by
//     which producer completes its operation first.
//   - Drain on close: CloseAndWait returns after every value pushed before the call
//     has been handled.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue with a dedicated
// consumer goroutine that passes every value to a handler.
// Implementation uses a linked list of nodes with atomic operations
// for concurrent push operations without locks
type LockFreeMPSC[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	handler  func(*T)
	consumer sync.WaitGroup
	closed   atomic.Bool
	pending  atomic.Int64

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new mailbox and starts its consumer goroutine.
// The handler is called from that goroutine only.
func NewLockFreeMPSC[T any](handler func(*T)) *LockFreeMPSC[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{handler: handler}
	q.cond = sync.NewCond(&q.mu)

	// Set the initial head and tail to the sentinel node
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	q.pending.Add(1)

	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS may fail if another producer already moved the tail, which is fine
				q.tail.CompareAndSwap(tailNode, newNode)
				q.signal()
				return true
			}
		} else {
			// help update the tail pointer if another producer has already appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin first, yield under higher contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

func (q *LockFreeMPSC[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume hands items from the linked list to the handler and frees memory
func (q *LockFreeMPSC[T]) consume() {
	defer q.consumer.Done()

	for {
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}

			value := next.value

			// move head pointer (free up memory)
			q.head.Store(next)
			next.value = nil

			q.handler(value)
			q.pending.Add(-1)
		}

		q.mu.Lock()
		// Double-check condition after acquiring lock
		if q.head.Load().next.Load() == nil {
			if q.closed.Load() && q.pending.Load() == 0 {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Close prevents further writes. Values already in the queue are still handled,
// a Push racing with Close may be dropped.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// CloseAndWait closes the queue and blocks until the consumer has handled every
// queued value and exited. It must not be called from the handler.
func (q *LockFreeMPSC[T]) CloseAndWait() {
	q.Close()
	q.consumer.Wait()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of values pushed but not handled yet.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.pending.Load())
}
