// Package util provides utility components for the engines and the store layer.
//
// The package contains:
//   - statistics: summary statistics and a SizeHistogram used by GetInfo implementations
//   - mapheap: a min-heap with key-based access, used to track the oldest open read transaction
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer mailbox with its own consumer
//     goroutine, used to deliver change notifications to subscribers in commit order
package util
