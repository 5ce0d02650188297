package relationship

import (
	"github.com/ValentinKolb/eKV/lib/store"
)

type config struct {
	edgeFunc EdgeFunc
	allowed  map[string]bool
}

func (c *config) accepts(collection string) bool {
	return len(c.allowed) == 0 || c.allowed[collection]
}

// declare returns the edges a row declares, with the row as source
func (c *config) declare(collection, key string, object, metadata any) []Edge {
	var edges []Edge
	if c.edgeFunc != nil {
		edges = c.edgeFunc(collection, key, object, metadata)
	} else if n, ok := object.(Node); ok {
		edges = n.Edges()
	}
	if len(edges) == 0 {
		return nil
	}
	src := store.CK(collection, key)
	out := edges[:0:0]
	for _, e := range edges {
		if e.Source.IsZero() {
			e.Source = src
		}
		if e.Source != src || e.Name == "" || e.Destination.IsZero() {
			log.Debugf("ignoring edge %s declared by %s", e, src)
			continue
		}
		e.Manual = false
		out = append(out, e)
	}
	return out
}

// Relationship is the extension. Register one instance per graph:
//
//	r := relationship.New(relationship.Options{})
//	err := s.Register(ctx, "graph", r)
type Relationship struct {
	cfg *config
}

var _ store.Extension = (*Relationship)(nil)

func New(opts Options) *Relationship {
	cfg := &config{edgeFunc: opts.EdgeFunc}
	if len(opts.Collections) > 0 {
		cfg.allowed = make(map[string]bool, len(opts.Collections))
		for _, c := range opts.Collections {
			cfg.allowed[c] = true
		}
	}
	return &Relationship{cfg: cfg}
}

func (r *Relationship) Attach(info store.ExtensionInfo) (store.ExtensionState, error) {
	return newState(info, r.cfg), nil
}

func (r *Relationship) BeginWrite(st store.ExtensionState, ctx store.HookContext) store.ExtensionWriter {
	return newWriter(st.(*state), ctx)
}

func (r *Relationship) NewReader(st store.ExtensionState, tx store.ReadTxn) any {
	return &Reader{st: st.(*state), nodes: tx}
}
