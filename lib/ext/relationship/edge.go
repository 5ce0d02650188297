package relationship

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LogRelationship)

// DeleteRule tells which endpoint of an edge is deleted together with the other one.
type DeleteRule uint8

const (
	// DeleteSourceIfDestinationDeleted deletes the source when the destination is deleted.
	DeleteSourceIfDestinationDeleted DeleteRule = 1 << iota
	// DeleteDestinationIfSourceDeleted deletes the destination when the source is deleted.
	DeleteDestinationIfSourceDeleted
	// DeleteSourceIfAllDestinationsDeleted deletes the source once no edge of the same
	// name leaves it anymore.
	DeleteSourceIfAllDestinationsDeleted
	// DeleteDestinationIfAllSourcesDeleted deletes the destination once no edge of the
	// same name points to it anymore.
	DeleteDestinationIfAllSourcesDeleted
)

var deleteRuleNames = []struct {
	bit  DeleteRule
	name string
}{
	{DeleteSourceIfDestinationDeleted, "source-if-destination"},
	{DeleteDestinationIfSourceDeleted, "destination-if-source"},
	{DeleteSourceIfAllDestinationsDeleted, "source-if-all-destinations"},
	{DeleteDestinationIfAllSourcesDeleted, "destination-if-all-sources"},
}

func (r DeleteRule) String() string {
	var parts []string
	for _, n := range deleteRuleNames {
		if r&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseDeleteRule parses the names used in extension configs.
func ParseDeleteRule(s string) (DeleteRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "source-if-destination", "delete-source-if-destination-deleted":
		return DeleteSourceIfDestinationDeleted, nil
	case "destination-if-source", "delete-destination-if-source-deleted":
		return DeleteDestinationIfSourceDeleted, nil
	case "source-if-all-destinations", "delete-source-if-all-destinations-deleted":
		return DeleteSourceIfAllDestinationsDeleted, nil
	case "destination-if-all-sources", "delete-destination-if-all-sources-deleted":
		return DeleteDestinationIfAllSourcesDeleted, nil
	default:
		return 0, errors.Newf("unknown delete rule %q", s)
	}
}

// NotifyRule tells which endpoint of an edge is told about the deletion of the other one.
type NotifyRule uint8

const (
	// NotifyIfSourceDeleted notifies the destination when the source is deleted.
	NotifyIfSourceDeleted NotifyRule = 1 << iota
	// NotifyIfDestinationDeleted notifies the source when the destination is deleted.
	NotifyIfDestinationDeleted
)

// ParseNotifyRule parses the names used in extension configs.
func ParseNotifyRule(s string) (NotifyRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "if-source-deleted", "notify-if-source-deleted":
		return NotifyIfSourceDeleted, nil
	case "if-destination-deleted", "notify-if-destination-deleted":
		return NotifyIfDestinationDeleted, nil
	default:
		return 0, errors.Newf("unknown notify rule %q", s)
	}
}

// NotifyReason is passed to NotifiedNode.EdgeDeleted and to WriteHandle.RemoveEdge.
type NotifyReason uint8

const (
	SourceNodeDeleted NotifyReason = iota + 1
	DestinationNodeDeleted
	EdgeDeleted
)

func (r NotifyReason) String() string {
	switch r {
	case SourceNodeDeleted:
		return "source-deleted"
	case DestinationNodeDeleted:
		return "destination-deleted"
	case EdgeDeleted:
		return "edge-deleted"
	default:
		return "unknown"
	}
}

// Edge is a named, directed relationship between two rows. Name, Source and
// Destination identify it; Manual edges (added through WriteHandle.AddEdge) and
// edges declared by nodes are kept apart.
type Edge struct {
	Name        string
	Source      store.CollectionKey
	Destination store.CollectionKey
	DeleteRules DeleteRule
	NotifyRules NotifyRule
	Manual      bool
}

func (e Edge) String() string {
	kind := ""
	if e.Manual {
		kind = " (manual)"
	}
	return fmt.Sprintf("%s: %s -> %s%s", e.Name, e.Source, e.Destination, kind)
}

// Node is implemented by objects that declare their outgoing edges. Edges with a
// zero Source get the node as source.
type Node interface {
	Edges() []Edge
}

// NotifiedNode is implemented by objects that want to hear about deleted edges
// (see NotifyRule). A non-nil result replaces the object of the row, its
// metadata is kept.
type NotifiedNode interface {
	EdgeDeleted(edge Edge, reason NotifyReason) (replacement any)
}

// EdgeFunc declares the edges of a row. It replaces the Node interface when set.
type EdgeFunc func(collection, key string, object, metadata any) []Edge

// Options configure a relationship extension.
type Options struct {
	EdgeFunc EdgeFunc
	// Collections limits edge declarations to rows of these collections. Deletions of
	// any row are processed. Empty means all.
	Collections []string
}
