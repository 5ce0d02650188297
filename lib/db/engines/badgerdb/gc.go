package badgerdb

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

// gcRunner runs periodic value log garbage collection on a BadgerDB instance.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64) (*gcRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}

	r := &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// stop signals the GC goroutine and waits for it. Safe to call more than once.
func (r *gcRunner) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	// rewrite as many value log files as qualify
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			log.Debugf("value log GC rewrote a file")
			continue
		}
		// ErrNoRewrite means no GC was needed, not an error
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			log.Warningf("value log GC error: %v", err)
		}
		return
	}
}
