package view

import (
	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LogView)

// GroupingFunc places a row in a group. ok=false keeps the row out of the view.
// It must be pure.
type GroupingFunc func(collection, key string, object, metadata any) (group string, ok bool)

// SortingFunc orders two rows of a group (strict weak ordering, -1/0/+1).
// It must be pure.
type SortingFunc func(group string, a, b store.Row) int

// FilteringFunc keeps a row of a group in a filtered view. It must be pure.
type FilteringFunc func(group, collection, key string, object, metadata any) bool

// Uses tells the view which parts of a row the grouping or sorting reads.
type Uses uint8

const (
	UsesKey Uses = 1 << iota
	UsesObject
	UsesMetadata

	UsesAll = UsesKey | UsesObject | UsesMetadata
)

// affectedBy reports whether an update with the given mask can change the result
// of a function with these uses. Keys never change on update.
func (u Uses) affectedBy(mask store.ChangeMask) bool {
	return (mask&store.ChangedObject != 0 && u&UsesObject != 0) ||
		(mask&store.ChangedMetadata != 0 && u&UsesMetadata != 0)
}

// Options configure a view.
type Options struct {
	Grouping GroupingFunc
	Sorting  SortingFunc
	// GroupingUses and SortingUses default to UsesAll.
	GroupingUses Uses
	SortingUses  Uses
	// Collections limits the view to rows of these collections. Empty means all.
	Collections []string
}

// config is the part of the options a write transaction can replace
type config struct {
	grouping GroupingFunc
	sorting  SortingFunc
	uses     Uses
	allowed  map[string]bool

	// filtered views only. inherited holds the filters of the parent views.
	filter        FilteringFunc
	filterUses    Uses
	inherited     FilteringFunc
	inheritedUses Uses
}

func (c *config) accepts(collection string) bool {
	return len(c.allowed) == 0 || c.allowed[collection]
}

func (c *config) affectedBy(mask store.ChangeMask) bool {
	return (c.uses | c.filterUses | c.inheritedUses).affectedBy(mask)
}

// place returns the group of a row, ok=false keeps the row out of the view
func (c *config) place(collection, key string, object, metadata any) (string, bool) {
	group, ok := c.grouping(collection, key, object, metadata)
	if !ok {
		return "", false
	}
	return group, c.keeps(group, collection, key, object, metadata)
}

func (c *config) keeps(group, collection, key string, object, metadata any) bool {
	return (c.inherited == nil || c.inherited(group, collection, key, object, metadata)) &&
		(c.filter == nil || c.filter(group, collection, key, object, metadata))
}

// withOrder returns a copy using grouping and sorting of o
func (c *config) withOrder(o *config) *config {
	n := *c
	n.grouping, n.sorting, n.uses = o.grouping, o.sorting, o.uses
	return &n
}

// withFilter returns a copy using filter instead of the own filter
func (c *config) withFilter(filter FilteringFunc, uses Uses) *config {
	n := *c
	n.filter, n.filterUses = filter, uses
	return &n
}

// View is the extension. Register one instance per view:
//
//	v, _ := view.New(view.Options{Grouping: byCollection, Sorting: byTitle})
//	err := s.Register(ctx, "todos", v)
type View struct {
	cfg *config
}

var _ store.Extension = (*View)(nil)

// New validates the options and returns the extension.
func New(opts Options) (*View, error) {
	cfg, err := newConfig(opts.Grouping, opts.Sorting, opts.GroupingUses, opts.SortingUses)
	if err != nil {
		return nil, err
	}
	if len(opts.Collections) > 0 {
		cfg.allowed = make(map[string]bool, len(opts.Collections))
		for _, c := range opts.Collections {
			cfg.allowed[c] = true
		}
	}
	return &View{cfg: cfg}, nil
}

// Filtered returns a view of the rows of parent accepted by filter, grouped and
// sorted like parent. The parent's grouping, sorting, collections and filters are
// copied, so parent does not have to be registered. filterUses defaults to UsesAll.
//
//	all, _ := view.New(view.Options{Grouping: byCollection, Sorting: byTitle})
//	open, _ := view.Filtered(all, isOpen, view.UsesObject)
//	err := s.Register(ctx, "open-todos", open)
func Filtered(parent *View, filter FilteringFunc, filterUses Uses) (*View, error) {
	if parent == nil || filter == nil {
		return nil, store.NewError(store.RetCInvalidOperation, "filtered view needs a parent view and a filter")
	}
	if filterUses == 0 {
		filterUses = UsesAll
	}
	p := parent.cfg
	cfg := &config{
		grouping:   p.grouping,
		sorting:    p.sorting,
		uses:       p.uses,
		allowed:    p.allowed,
		filter:     filter,
		filterUses: filterUses,
	}
	if p.filter != nil {
		cfg.inherited = p.keeps
		cfg.inheritedUses = p.filterUses | p.inheritedUses
	}
	return &View{cfg: cfg}, nil
}

func newConfig(grouping GroupingFunc, sorting SortingFunc, groupingUses, sortingUses Uses) (*config, error) {
	if grouping == nil || sorting == nil {
		return nil, store.NewError(store.RetCInvalidOperation, "view needs a grouping and a sorting function")
	}
	if groupingUses == 0 {
		groupingUses = UsesAll
	}
	if sortingUses == 0 {
		sortingUses = UsesAll
	}
	return &config{grouping: grouping, sorting: sorting, uses: groupingUses | sortingUses}, nil
}

func (v *View) Attach(info store.ExtensionInfo) (store.ExtensionState, error) {
	return newState(info, v.cfg), nil
}

func (v *View) BeginWrite(st store.ExtensionState, ctx store.HookContext) store.ExtensionWriter {
	return newWriter(st.(*state), ctx)
}

func (v *View) NewReader(st store.ExtensionState, tx store.ReadTxn) any {
	return &Reader{st: st.(*state)}
}
