package lstore

import (
	"github.com/ValentinKolb/eKV/lib/store"
)

type extEntry struct {
	info store.ExtensionInfo
	ext  store.Extension
}

// dbState is the published database state: the version readers must pair their
// engine snapshot with, and the derived state of every extension at that version.
// A dbState is never modified once published.
type dbState struct {
	version    uint64
	generation uint64
	exts       []*extEntry // registration order
	states     map[string]store.ExtensionState
}

func (s *dbState) lookup(name string) (*extEntry, bool) {
	for _, e := range s.exts {
		if e.info.Name == name {
			return e, true
		}
	}
	return nil, false
}

// next returns a copy bound to a new version. states replaces the extension
// states it names.
func (s *dbState) next(version uint64, states map[string]store.ExtensionState) *dbState {
	merged := make(map[string]store.ExtensionState, len(s.states))
	for name, st := range s.states {
		merged[name] = st
	}
	for name, st := range states {
		merged[name] = st
	}
	return &dbState{
		version:    version,
		generation: s.generation,
		exts:       s.exts,
		states:     merged,
	}
}

func (s *dbState) infos() []store.ExtensionInfo {
	infos := make([]store.ExtensionInfo, len(s.exts))
	for i, e := range s.exts {
		infos[i] = e.info
	}
	return infos
}
