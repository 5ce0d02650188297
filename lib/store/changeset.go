package store

import (
	"strings"

	"github.com/google/uuid"
)

// CollectionKey identifies a row. It is totally ordered by collection, then key.
type CollectionKey struct {
	Collection string
	Key        string
}

// CK is shorthand for CollectionKey{collection, key}.
func CK(collection, key string) CollectionKey {
	return CollectionKey{Collection: collection, Key: key}
}

// Compare returns -1, 0 or +1.
func (ck CollectionKey) Compare(o CollectionKey) int {
	if c := strings.Compare(ck.Collection, o.Collection); c != 0 {
		return c
	}
	return strings.Compare(ck.Key, o.Key)
}

func (ck CollectionKey) Less(o CollectionKey) bool {
	return ck.Compare(o) < 0
}

func (ck CollectionKey) IsZero() bool {
	return ck.Collection == "" && ck.Key == ""
}

func (ck CollectionKey) String() string {
	return ck.Collection + "/" + ck.Key
}

// Row is a decoded row. Object or Metadata is nil when absent or when decoding failed.
type Row struct {
	Collection string
	Key        string
	RowID      int64
	Version    uint64 // commit version that last wrote the row
	Object     any
	Metadata   any
}

func (r Row) CK() CollectionKey {
	return CollectionKey{Collection: r.Collection, Key: r.Key}
}

// --------------------------------------------------------------------------
// Changes
// --------------------------------------------------------------------------

type ChangeKind uint8

const (
	ChangeInsert ChangeKind = iota + 1
	ChangeUpdate
	ChangeDelete
	ChangeDeleteAllInCollection
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	case ChangeDeleteAllInCollection:
		return "delete-all"
	default:
		return "unknown"
	}
}

// ChangeMask tells which parts of a row an update touched. An update with an empty
// mask is a touch.
type ChangeMask uint8

const (
	ChangedObject   ChangeMask = 1 << iota
	ChangedMetadata            // metadata was replaced
	// ChangedDependency is only used in view diffs: the row did not change but
	// depends on a neighbor that did.
	ChangedDependency
)

func (m ChangeMask) String() string {
	if m == 0 {
		return "touch"
	}
	var parts []string
	if m&ChangedObject != 0 {
		parts = append(parts, "object")
	}
	if m&ChangedMetadata != 0 {
		parts = append(parts, "metadata")
	}
	if m&ChangedDependency != 0 {
		parts = append(parts, "dependency")
	}
	return strings.Join(parts, "|")
}

// Change is one mutation of a write transaction.
//
// For inserts and updates Object and Metadata hold the row's values after the
// mutation, for deletes they are nil. A DeleteAllInCollection change lists the
// removed rows in Keys and RowIDs and leaves Key empty.
type Change struct {
	Kind       ChangeKind
	Collection string
	Key        string
	RowID      int64
	Changes    ChangeMask
	Keys       []string
	RowIDs     []int64
	Origin     string // extension that issued the mutation, "" for user writes
	Object     any
	Metadata   any
}

func (c Change) CK() CollectionKey {
	return CollectionKey{Collection: c.Collection, Key: c.Key}
}

// ChangeSet is produced exactly once per committed write transaction and once per
// register/unregister. It is immutable once published.
type ChangeSet struct {
	DatabaseID      uuid.UUID
	Version         uint64
	PrevVersion     uint64
	Generation      uint64
	RegistryChanged bool
	Changes         []Change
	Extensions      map[string]any // notification payload per extension
}

// Ext returns the notification payload of an extension.
func (cs *ChangeSet) Ext(name string) (any, bool) {
	if cs == nil || cs.Extensions == nil {
		return nil, false
	}
	n, ok := cs.Extensions[name]
	return n, ok
}

// Touches reports whether the change set modified a row of the collection.
func (cs *ChangeSet) Touches(collection string) bool {
	if cs == nil {
		return false
	}
	for _, c := range cs.Changes {
		if c.Collection == collection {
			return true
		}
	}
	return false
}
