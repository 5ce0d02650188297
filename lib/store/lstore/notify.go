package lstore

import (
	"sync"

	"github.com/ValentinKolb/eKV/lib/db/util"
	"github.com/ValentinKolb/eKV/lib/store"
)

// --------------------------------------------------------------------------
// Subscribers
// --------------------------------------------------------------------------

type subscriber struct {
	box *util.LockFreeMPSC[store.ChangeSet]
}

func (s *storeImpl) Subscribe(fn func(cs *store.ChangeSet)) (cancel func()) {
	id := s.nextSub.Add(1)
	sub := &subscriber{
		box: util.NewLockFreeMPSC(func(cs *store.ChangeSet) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("subscriber %d panicked on version %d: %v", id, cs.Version, r)
				}
			}()
			fn(cs)
		}),
	}
	s.subs.Store(id, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subs.Delete(id)
			sub.box.Close()
		})
	}
}

func (s *storeImpl) notificationBacklog() int {
	n := 0
	s.subs.Range(func(_ uint64, sub *subscriber) bool {
		n += sub.box.Len()
		return true
	})
	return n
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

type connection struct {
	s  *storeImpl
	id uint64

	mu      sync.Mutex
	pending []*store.ChangeSet
	current store.ReadTxn
	last    uint64 // version of the previous long-lived transaction
	started bool
	closed  bool
}

var _ store.Connection = (*connection)(nil)

func (s *storeImpl) NewConnection() store.Connection {
	c := &connection{s: s, id: s.nextSub.Add(1)}
	s.conns.Store(c.id, c)
	return c
}

// push is called by the committing writer before the version is published
func (c *connection) push(cs *store.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.pending = append(c.pending, cs)
	}
}

func (c *connection) BeginLongLivedReadTransaction() (store.ReadTxn, []*store.ChangeSet) {
	c.EndLongLivedReadTransaction()

	txn := c.s.BeginRead()
	v := txn.Version()

	c.mu.Lock()
	defer c.mu.Unlock()

	// everything up to v was pushed before v was published, newer
	// Change-Sets stay for the next transaction
	var changes []*store.ChangeSet
	keep := c.pending[:0]
	for _, cs := range c.pending {
		switch {
		case cs.Version > v:
			keep = append(keep, cs)
		case c.started && cs.Version > c.last:
			changes = append(changes, cs)
		}
	}
	clear(c.pending[len(keep):])
	c.pending = keep

	c.current = txn
	c.last = v
	c.started = true
	return txn, changes
}

func (c *connection) EndLongLivedReadTransaction() {
	c.mu.Lock()
	txn := c.current
	c.current = nil
	c.mu.Unlock()
	if txn != nil {
		txn.Close()
	}
}

func (c *connection) Close() {
	c.EndLongLivedReadTransaction()
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
	c.s.conns.Delete(c.id)
}
