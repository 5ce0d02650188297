package docs

import (
	"os"

	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/ValentinKolb/eKV/lib/ext/relationship"
	"github.com/ValentinKolb/eKV/lib/ext/secondaryindex"
	"github.com/ValentinKolb/eKV/lib/ext/view"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var log = logger.GetLogger(common.LogStore)

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

// Load reads an extensions file (YAML, JSON or TOML, by extension) with viper.
func Load(path string) (*common.ExtensionsConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading extensions file %s", path)
	}
	var cfg common.ExtensionsConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding extensions file %s", path)
	}
	return &cfg, nil
}

// Parse decodes an extensions document in YAML.
func Parse(data []byte) (*common.ExtensionsConfig, error) {
	var cfg common.ExtensionsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding extensions")
	}
	return &cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *common.ExtensionsConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encoding extensions")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %s", path)
}

// --------------------------------------------------------------------------
// Building
// --------------------------------------------------------------------------

// Build creates the declared extensions in registration order: views, then
// relationships, then indexes.
func Build(cfg *common.ExtensionsConfig) ([]store.NamedExtension, error) {
	var (
		exts []store.NamedExtension
		errs error
	)
	add := func(name string, ext store.Extension, err error) {
		if err == nil && name == "" {
			err = errors.New("extension without a name")
		}
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "extension %q", name))
			return
		}
		exts = append(exts, store.NamedExtension{Name: name, Extension: ext})
	}
	for _, c := range cfg.Views {
		v, err := View(c)
		add(c.Name, v, err)
	}
	for _, c := range cfg.Relationships {
		r, err := Relationship(c)
		add(c.Name, r, err)
	}
	for _, c := range cfg.Indexes {
		i, err := Index(c)
		add(c.Name, i, err)
	}
	if errs != nil {
		return nil, errs
	}
	log.Debugf("built %d declared extensions", len(exts))
	return exts, nil
}

// View groups documents by the GroupBy field and sorts each group by the SortBy
// fields, then by key. Documents without the group field are not in the view.
func View(cfg common.ViewConfig) (*view.View, error) {
	if cfg.GroupBy == "" {
		return nil, errors.New("view needs group_by")
	}
	groupBy, sortBy, desc := cfg.GroupBy, cfg.SortBy, cfg.Descending

	grouping := func(collection, key string, object, _ any) (string, bool) {
		v, ok := Lookup(collection, key, object, groupBy)
		if !ok {
			return "", false
		}
		return text(v), true
	}
	sorting := func(_ string, a, b store.Row) int {
		c := 0
		for _, path := range sortBy {
			va, _ := Lookup(a.Collection, a.Key, a.Object, path)
			vb, _ := Lookup(b.Collection, b.Key, b.Object, path)
			if c = Compare(va, vb); c != 0 {
				break
			}
		}
		if c == 0 {
			c = a.CK().Compare(b.CK())
		}
		if desc {
			return -c
		}
		return c
	}

	opts := view.Options{
		Grouping:     grouping,
		Sorting:      sorting,
		GroupingUses: view.UsesKey | view.UsesObject,
		SortingUses:  view.UsesKey | view.UsesObject,
		Collections:  cfg.Collections,
	}
	if usesOnlyKey(groupBy) {
		opts.GroupingUses = view.UsesKey
	}
	if usesOnlyKey(sortBy...) {
		opts.SortingUses = view.UsesKey
	}
	return view.New(opts)
}

// Relationship derives edges from document fields holding destination keys. A
// field holds one key or a list of keys.
func Relationship(cfg common.RelationshipConfig) (*relationship.Relationship, error) {
	type edgeKind struct {
		name, field, dst string
		del              relationship.DeleteRule
		notify           relationship.NotifyRule
	}
	kinds := make([]edgeKind, 0, len(cfg.Edges))
	for _, e := range cfg.Edges {
		if e.Name == "" || e.Field == "" {
			return nil, errors.Newf("edge %q needs a name and a field", e.Name)
		}
		k := edgeKind{name: e.Name, field: e.Field, dst: e.DestinationCollection}
		for _, s := range e.DeleteRules {
			r, err := relationship.ParseDeleteRule(s)
			if err != nil {
				return nil, errors.Wrapf(err, "edge %q", e.Name)
			}
			k.del |= r
		}
		for _, s := range e.NotifyRules {
			r, err := relationship.ParseNotifyRule(s)
			if err != nil {
				return nil, errors.Wrapf(err, "edge %q", e.Name)
			}
			k.notify |= r
		}
		kinds = append(kinds, k)
	}

	edgeFunc := func(collection, key string, object, _ any) []relationship.Edge {
		var edges []relationship.Edge
		for _, k := range kinds {
			v, ok := Lookup(collection, key, object, k.field)
			if !ok {
				continue
			}
			dst := k.dst
			if dst == "" {
				dst = collection
			}
			for _, target := range keysOf(v) {
				edges = append(edges, relationship.Edge{
					Name:        k.name,
					Destination: store.CK(dst, target),
					DeleteRules: k.del,
					NotifyRules: k.notify,
				})
			}
		}
		return edges
	}
	return relationship.New(relationship.Options{EdgeFunc: edgeFunc, Collections: cfg.Collections}), nil
}

func keysOf(v any) []string {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return x
	}
	return nil
}

// Index maps document fields to typed columns.
func Index(cfg common.IndexConfig) (*secondaryindex.SecondaryIndex, error) {
	setup := secondaryindex.NewSetup()
	uses := secondaryindex.UsesKey
	for _, c := range cfg.Columns {
		typ, err := secondaryindex.ParseColumnType(c.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", c.Name)
		}
		path := c.Field
		if path == "" {
			path = c.Name
		}
		if !usesOnlyKey(path) {
			uses |= secondaryindex.UsesObject
		}
		setup.AddColumn(c.Name, typ, func(collection, key string, object, _ any) (any, bool) {
			return Lookup(collection, key, object, path)
		})
	}
	return secondaryindex.New(secondaryindex.Options{Setup: setup, Uses: uses, Collections: cfg.Collections})
}
