package lstore

import (
	"context"
	"reflect"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

func (s *storeImpl) Register(ctx context.Context, name string, ext store.Extension) error {
	return s.RegisterAll(ctx, []store.NamedExtension{{Name: name, Extension: ext}})
}

func (s *storeImpl) RegisterAll(ctx context.Context, exts []store.NamedExtension) error {
	if len(exts) == 0 {
		return nil
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	base := s.state.Load()
	if err := validateRegistrations(base, exts); err != nil {
		return err
	}

	generation := base.generation + 1
	entries := make([]*extEntry, len(exts))
	for i, ne := range exts {
		entries[i] = &extEntry{
			info: store.ExtensionInfo{Name: ne.Name, Generation: generation, DatabaseID: s.id},
			ext:  ne.Extension,
		}
	}

	// every population reads its own snapshot, all of them at base.version as the
	// writer lock is held
	states := make([]store.ExtensionState, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		g.Go(func() error {
			st, err := s.populate(gctx, e, base.version)
			states[i] = st
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	st := base.next(base.version, nil)
	st.generation = generation
	st.exts = append(append([]*extEntry(nil), base.exts...), entries...)
	for i, e := range entries {
		st.states[e.info.Name] = states[i]
	}
	if err := s.publishRegistry(base, st); err != nil {
		return err
	}
	for _, e := range entries {
		log.Infof("registered extension %q (generation %d)", e.info.Name, generation)
	}
	return nil
}

func validateRegistrations(base *dbState, exts []store.NamedExtension) error {
	seen := map[string]bool{}
	for _, ne := range exts {
		if ne.Name == "" {
			return store.NewError(store.RetCInvalidOperation, "extension name must not be empty")
		}
		if ne.Extension == nil {
			return store.NewError(store.RetCInvalidOperation, "extension %q is nil", ne.Name)
		}
		if _, ok := base.lookup(ne.Name); ok || seen[ne.Name] {
			return store.NewError(store.RetCDuplicateName, "extension %q is already registered", ne.Name).WithExtension(ne.Name)
		}
		seen[ne.Name] = true
		if !reflect.TypeOf(ne.Extension).Comparable() {
			continue
		}
		for _, e := range base.exts {
			if reflect.TypeOf(e.ext) == reflect.TypeOf(ne.Extension) && e.ext == ne.Extension {
				return store.NewError(store.RetCInvalidOperation, "extension instance is already registered as %q", e.info.Name).WithExtension(ne.Name)
			}
		}
		for _, other := range exts {
			if other.Name != ne.Name && reflect.TypeOf(other.Extension) == reflect.TypeOf(ne.Extension) && other.Extension == ne.Extension {
				return store.NewError(store.RetCInvalidOperation, "extension instance is registered twice (%q and %q)", ne.Name, other.Name).WithExtension(ne.Name)
			}
		}
	}
	return nil
}

// populate attaches an extension and feeds it every existing row as an insert
func (s *storeImpl) populate(ctx context.Context, e *extEntry, version uint64) (store.ExtensionState, error) {
	name := e.info.Name
	state, err := e.ext.Attach(e.info)
	if err != nil {
		return nil, maintenanceError(name, err)
	}

	snap := s.db.Snapshot()
	defer snap.Release()
	if snap.Version() != version {
		return nil, store.NewError(store.RetCInternalError, "population snapshot at version %d, expected %d", snap.Version(), version)
	}
	reader := &rowReader{s: s, snap: snap, base: version, codecs: newCodecCache(s.codecs)}
	w := e.ext.BeginWrite(state, &hookCtx{Reader: reader, origin: name})

	size := s.opts.PopulateBatchSize
	batch := make([]store.Change, 0, size)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "populating extension %q", name)
		}
		err := s.process(name, w, batch)
		batch = make([]store.Change, 0, size)
		return err
	}

	rows := 0
	for _, c := range reader.Collections() {
		for row := range reader.Rows(c) {
			batch = append(batch, store.Change{
				Kind:       store.ChangeInsert,
				Collection: row.Collection,
				Key:        row.Key,
				RowID:      row.RowID,
				Changes:    store.ChangedObject | store.ChangedMetadata,
				Object:     row.Object,
				Metadata:   row.Metadata,
			})
			rows++
			if len(batch) >= size {
				if err = flush(); err != nil {
					break
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	state, _, err = finish(name, w)
	if err != nil {
		return nil, err
	}
	log.Debugf("populated extension %q from %d rows", name, rows)
	return state, nil
}

func (s *storeImpl) Unregister(ctx context.Context, name string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	base := s.state.Load()
	if _, ok := base.lookup(name); !ok {
		return store.NewError(store.RetCInvalidOperation, "extension %q is not registered", name).WithExtension(name)
	}

	st := base.next(base.version, nil)
	st.generation = base.generation + 1
	st.exts = make([]*extEntry, 0, len(base.exts)-1)
	for _, e := range base.exts {
		if e.info.Name != name {
			st.exts = append(st.exts, e)
		}
	}
	delete(st.states, name)
	if err := s.publishRegistry(base, st); err != nil {
		return err
	}
	s.metrics.dropHooks(name)
	log.Infof("unregistered extension %q (generation %d)", name, st.generation)
	return nil
}

// publishRegistry advances the version with an empty engine commit and publishes
// st with a registry Change-Set. Must be called with the writer lock held.
func (s *storeImpl) publishRegistry(base, st *dbState) error {
	wtx, err := s.db.BeginWrite()
	if err != nil {
		return store.WrapError(err, store.RetCInternalError, "begin registry commit")
	}
	info, err := wtx.Commit()
	if err != nil {
		return store.WrapError(err, store.RetCInternalError, "registry commit")
	}
	st.version = info.Version
	s.publish(st, &store.ChangeSet{
		DatabaseID:      s.id,
		Version:         info.Version,
		PrevVersion:     base.version,
		Generation:      st.generation,
		RegistryChanged: true,
	})
	return nil
}

func (s *storeImpl) Extensions() []store.ExtensionInfo {
	return s.state.Load().infos()
}

func (s *storeImpl) ExtensionStats(name string) (store.ExtensionStats, bool) {
	if _, ok := s.state.Load().lookup(name); !ok {
		return store.ExtensionStats{}, false
	}
	return s.metrics.hookStats(name), true
}
