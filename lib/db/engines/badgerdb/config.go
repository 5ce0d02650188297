package badgerdb

import (
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LogBadger)

// Config holds configuration for a BadgerDB backed KVDB.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns sensible defaults for production use: synchronous
// writes and value log GC every 5 minutes at a 50% discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing: no disk I/O and GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// ConfigFromStore maps the store configuration to a badger configuration.
func ConfigFromStore(cfg common.StoreConfig) Config {
	c := DefaultConfig()
	c.Path = cfg.DataDir
	c.InMemory = cfg.InMemory
	c.SyncWrites = cfg.SyncWrites
	if cfg.GCInterval > 0 {
		c.GCInterval = cfg.GCInterval
	}
	if cfg.GCDiscardRatio > 0 {
		c.GCDiscardRatio = cfg.GCDiscardRatio
	}
	return c
}

// openBadger creates and opens a BadgerDB instance with the given configuration.
//
// Old row versions are kept by badger itself as long as a read transaction with an
// older read timestamp is open, so a single version per key is retained otherwise.
func openBadger(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		// dragonboat's ILogger has the method set badger expects
		WithLogger(log)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return bdb, nil
}
