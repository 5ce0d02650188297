package lstore

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
)

// deliver hands the undelivered changes to every writer, round after round, until
// the hooks stop issuing mutations. Every cascade hop takes one round, so once
// MaxCascadeRounds is reached the limit grows by the number of rows that can
// still be deleted.
func (t *writeTxn) deliver() error {
	limit, extended := t.s.opts.MaxCascadeRounds, false
	for round := 0; t.delivered < len(t.changes); round++ {
		if round >= limit && !extended {
			limit, extended = round+t.liveRows()+1, true
		}
		if round >= limit {
			return store.NewError(store.RetCExtensionMaintenance,
				"changes did not settle after %d delivery rounds", limit)
		}
		start, end := t.delivered, len(t.changes)
		tail := t.changes[start:end:end]
		t.delivered = end

		for _, w := range t.writers {
			if err := t.s.process(w.entry.info.Name, w.w, tail); err != nil {
				return err
			}
		}
	}
	return nil
}

// liveRows counts the rows visible to the transaction
func (t *writeTxn) liveRows() int {
	n := 0
	for _, c := range t.wtx.Collections() {
		n += t.wtx.Count(c)
	}
	return n
}

// process runs one ProcessChanges call, turning errors and panics into
// ExtensionMaintenance errors.
func (s *storeImpl) process(name string, w store.ExtensionWriter, changes []store.Change) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = store.WrapError(panicError(r), store.RetCExtensionMaintenance, "hook panicked").WithExtension(name)
		}
		s.metrics.observeHook(name, time.Since(start), err != nil)
	}()
	if err := w.ProcessChanges(changes); err != nil {
		return maintenanceError(name, err)
	}
	return nil
}

// finish calls Finish of one writer
func finish(name string, w store.ExtensionWriter) (state store.ExtensionState, notification any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = store.WrapError(panicError(r), store.RetCExtensionMaintenance, "finish panicked").WithExtension(name)
		}
	}()
	state, notification, err = w.Finish()
	if err != nil {
		return nil, nil, maintenanceError(name, err)
	}
	return state, notification, nil
}

func maintenanceError(name string, err error) error {
	var e *store.Error
	if errors.As(err, &e) && e.Code == store.RetCExtensionMaintenance && e.Extension != "" {
		return err
	}
	return store.WrapError(err, store.RetCExtensionMaintenance, "hook failed").WithExtension(name)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Newf("%v", r)
}

// commit runs the hooks, commits the engine transaction and publishes the new
// state. The writer lock is released in every case.
func (s *storeImpl) commit(t *writeTxn) (*store.ChangeSet, error) {
	start := time.Now()
	t.startWriters()
	if err := t.deliver(); err != nil {
		t.abort()
		return nil, err
	}

	states := make(map[string]store.ExtensionState, len(t.writers))
	notifications := map[string]any{}
	for _, w := range t.writers {
		name := w.entry.info.Name
		st, n, err := finish(name, w.w)
		if err != nil {
			t.abort()
			return nil, err
		}
		states[name] = st
		if n != nil {
			notifications[name] = n
		}
	}

	if len(t.changes) == 0 && len(notifications) == 0 {
		// nothing happened, the version does not advance
		t.wtx.Rollback()
		t.done = true
		s.metrics.emptyCommits.Inc()
		s.release()
		return nil, nil
	}

	info, err := t.wtx.Commit()
	if err != nil {
		t.done = true
		s.metrics.rollbacks.Inc()
		s.release()
		return nil, store.WrapError(err, store.RetCInternalError, "commit")
	}
	t.done = true

	cs := &store.ChangeSet{
		DatabaseID:  s.id,
		Version:     info.Version,
		PrevVersion: t.base.version,
		Generation:  t.base.generation,
		Changes:     t.changes,
	}
	if len(notifications) > 0 {
		cs.Extensions = notifications
	}
	s.publish(t.base.next(info.Version, states), cs)
	s.release()

	s.metrics.commits.Inc()
	s.metrics.changes.Add(len(t.changes))
	s.metrics.commitDuration.UpdateDuration(start)
	log.Debugf("committed version %d (%d changes, %d puts, %d deletes)", info.Version, len(cs.Changes), info.Puts, info.Deletes)
	return cs, nil
}

// publish makes a committed state visible. Connections receive the Change-Set before
// readers can see the version, subscribers after. Must be called with the writer lock held.
func (s *storeImpl) publish(state *dbState, cs *store.ChangeSet) {
	s.conns.Range(func(_ uint64, c *connection) bool {
		c.push(cs)
		return true
	})
	s.state.Store(state)
	s.subs.Range(func(_ uint64, sub *subscriber) bool {
		sub.box.Push(cs)
		return true
	})
}

func (s *storeImpl) String() string {
	st := s.state.Load()
	return fmt.Sprintf("lstore(%s@%d, %d extensions)", s.id, st.version, len(st.exts))
}
