package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/ValentinKolb/eKV/lib/db/engines/badgerdb"
	"github.com/ValentinKolb/eKV/lib/db/engines/maple"
	"github.com/ValentinKolb/eKV/lib/ext/docs"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/ValentinKolb/eKV/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var log = logger.GetLogger(common.LogCLI)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the flags describing the local store to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "engine"
	cmd.PersistentFlags().String(key, string(common.EngineMaple), WrapString("Snapshot store to use (maple, badger)"))

	key = "snapshot-file"
	cmd.PersistentFlags().String(key, "ekv.snapshot", WrapString("(maple) File the database is loaded from on start and saved to after writes. Empty keeps the data in memory only"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("(badger) Directory of the database files"))

	key = "in-memory"
	cmd.PersistentFlags().Bool(key, false, WrapString("(badger) Keep the database in memory"))

	key = "sync-writes"
	cmd.PersistentFlags().Bool(key, true, WrapString("(badger) Sync every commit to disk"))

	key = "gc-interval"
	cmd.PersistentFlags().Duration(key, 0, WrapString("(badger) Interval of the value log garbage collection, 0 uses the default"))

	key = "gc-discard-ratio"
	cmd.PersistentFlags().Float64(key, 0, WrapString("(badger) Minimum discardable ratio of a value log file, 0 uses the default"))

	key = "cache-size"
	cmd.PersistentFlags().Int(key, 4096, WrapString("Number of decoded objects kept in memory (0 disables the cache)"))

	key = "extensions"
	cmd.PersistentFlags().String(key, "", WrapString("YAML file declaring views, relationships and indexes to register on start"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Level at which logs will be output (debug, info, warn, error)"))

	key = "config"
	cmd.PersistentFlags().String(key, "", WrapString("Optional config file (YAML) with values for any of these flags"))
}

// InitConfig initializes configuration from environment variables and env files
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ekv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper and reads the config file if
// one is given
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading config file %s", file)
		}
	}
	return nil
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() *common.StoreConfig {
	return &common.StoreConfig{
		Engine:          common.EngineType(viper.GetString("engine")),
		SnapshotFile:    viper.GetString("snapshot-file"),
		DataDir:         viper.GetString("data-dir"),
		InMemory:        viper.GetBool("in-memory"),
		SyncWrites:      viper.GetBool("sync-writes"),
		GCInterval:      viper.GetDuration("gc-interval"),
		GCDiscardRatio:  viper.GetFloat64("gc-discard-ratio"),
		ObjectCacheSize: viper.GetInt("cache-size"),
		ExtensionsFile:  viper.GetString("extensions"),
		LogLevel:        viper.GetString("log-level"),
	}
}

// --------------------------------------------------------------------------
// Store session
// --------------------------------------------------------------------------

// Session is a store opened for one command.
type Session struct {
	Store  store.IStore
	Config *common.StoreConfig

	kvdb db.KVDB
}

// OpenStore opens the configured engine, wraps it in a local store and registers
// the declared extensions.
func OpenStore(ctx context.Context, cfg *common.StoreConfig) (*Session, error) {
	if err := common.InitLoggers(cfg.LogLevel); err != nil {
		return nil, err
	}
	sess := &Session{Config: cfg}

	var factory store.DBFactory
	switch cfg.Engine {
	case common.EngineMaple:
		factory = func() (db.KVDB, error) {
			kvdb := maple.NewMapleDB(maple.DefaultOptions())
			if err := loadSnapshot(kvdb, cfg.SnapshotFile); err != nil {
				_ = kvdb.Close()
				return nil, err
			}
			sess.kvdb = kvdb
			return kvdb, nil
		}
	case common.EngineBadger:
		factory = func() (db.KVDB, error) {
			return badgerdb.NewBadgerDB(badgerdb.ConfigFromStore(*cfg))
		}
	default:
		return nil, fmt.Errorf("invalid engine %q", cfg.Engine)
	}

	opts := lstore.DefaultOptions(factory)
	opts.ObjectCacheSize = cfg.ObjectCacheSize
	s, err := lstore.Open(opts)
	if err != nil {
		return nil, err
	}
	sess.Store = s

	if cfg.ExtensionsFile != "" {
		extCfg, err := docs.Load(cfg.ExtensionsFile)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		exts, err := docs.Build(extCfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if err := s.RegisterAll(ctx, exts); err != nil {
			_ = s.Close()
			return nil, err
		}
		log.Debugf("registered %d extensions from %s", len(exts), cfg.ExtensionsFile)
	}
	return sess, nil
}

func loadSnapshot(kvdb db.KVDB, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "opening snapshot %s", path)
	}
	defer f.Close()
	return errors.Wrapf(kvdb.Load(f), "loading snapshot %s", path)
}

// Save writes the maple snapshot file. The file is replaced atomically.
func (s *Session) Save() error {
	if s.kvdb == nil || s.Config.SnapshotFile == "" {
		return nil
	}
	path := s.Config.SnapshotFile
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "creating snapshot")
	}
	if err := s.kvdb.Save(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "saving snapshot")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "saving snapshot")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "saving snapshot")
}

// Close closes the store.
func (s *Session) Close() error {
	return s.Store.Close()
}

// RunFunc is a command body operating on an open store.
type RunFunc func(cmd *cobra.Command, args []string, s store.IStore) error

// WithStore opens the configured store around fn. Writable commands save the
// maple snapshot afterwards.
func WithStore(writes bool, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := BindCommandFlags(cmd); err != nil {
			return err
		}
		sess, err := OpenStore(cmd.Context(), GetStoreConfig())
		if err != nil {
			return err
		}
		defer func() {
			err = errors.CombineErrors(err, sess.Close())
		}()
		if err := fn(cmd, args, sess.Store); err != nil {
			return err
		}
		if writes {
			return sess.Save()
		}
		return nil
	}
}

// --------------------------------------------------------------------------
// Argument parsing
// --------------------------------------------------------------------------

// ParseValue decodes a JSON argument. Anything that is not valid JSON is taken as
// a plain string.
func ParseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// ParseCK splits "collection/key". The key may contain further slashes.
func ParseCK(arg string) (store.CollectionKey, error) {
	collection, key, ok := strings.Cut(arg, "/")
	if !ok || collection == "" || key == "" {
		return store.CollectionKey{}, fmt.Errorf("expected collection/key, got %q", arg)
	}
	return store.CK(collection, key), nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
