package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Store configuration struct
// --------------------------------------------------------------------------

type EngineType string

const (
	EngineMaple  EngineType = "maple"
	EngineBadger EngineType = "badger"
)

// StoreConfig holds everything needed to open a local store from the CLI.
type StoreConfig struct {
	// Engine selects the snapshot store implementation
	Engine EngineType

	// maple: optional snapshot file that is loaded on open and written on close
	SnapshotFile string

	// badger parameters
	DataDir        string
	InMemory       bool
	SyncWrites     bool
	GCInterval     time.Duration
	GCDiscardRatio float64

	// number of decoded objects kept in the object cache (0 disables it)
	ObjectCacheSize int

	// path of an optional YAML file declaring extensions
	ExtensionsFile string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *StoreConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Engine")
	addField("Type", string(c.Engine))
	switch c.Engine {
	case EngineMaple:
		addField("Snapshot File", c.SnapshotFile)
	case EngineBadger:
		addField("Data Directory", c.DataDir)
		addField("In Memory", fmt.Sprintf("%t", c.InMemory))
		addField("Sync Writes", fmt.Sprintf("%t", c.SyncWrites))
		addField("GC Interval", c.GCInterval.String())
		addField("GC Discard Ratio", fmt.Sprintf("%.2f", c.GCDiscardRatio))
	}

	addSection("Store")
	addField("Object Cache Size", fmt.Sprintf("%d", c.ObjectCacheSize))
	addField("Extensions File", c.ExtensionsFile)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Declarative extensions (loaded from YAML, see lib/ext/docs)
// --------------------------------------------------------------------------

// ExtensionsConfig lists the extensions to register, in registration order:
// views first, then relationships, then indexes.
type ExtensionsConfig struct {
	Views         []ViewConfig         `mapstructure:"views" yaml:"views,omitempty"`
	Relationships []RelationshipConfig `mapstructure:"relationships" yaml:"relationships,omitempty"`
	Indexes       []IndexConfig        `mapstructure:"indexes" yaml:"indexes,omitempty"`
}

// ViewConfig groups documents by a field and sorts them by one or more fields.
type ViewConfig struct {
	Name        string   `mapstructure:"name" yaml:"name"`
	GroupBy     string   `mapstructure:"group_by" yaml:"group_by,omitempty"`
	SortBy      []string `mapstructure:"sort_by" yaml:"sort_by,omitempty"`
	Descending  bool     `mapstructure:"descending" yaml:"descending,omitempty"`
	Collections []string `mapstructure:"collections" yaml:"collections,omitempty"`
}

// RelationshipConfig derives edges from fields holding destination keys.
type RelationshipConfig struct {
	Name        string       `mapstructure:"name" yaml:"name"`
	Collections []string     `mapstructure:"collections" yaml:"collections,omitempty"`
	Edges       []EdgeConfig `mapstructure:"edges" yaml:"edges,omitempty"`
}

// EdgeConfig declares one edge kind. Field may hold a string or a list of strings.
type EdgeConfig struct {
	Name                  string   `mapstructure:"name" yaml:"name"`
	Field                 string   `mapstructure:"field" yaml:"field,omitempty"`
	DestinationCollection string   `mapstructure:"destination_collection" yaml:"destination_collection,omitempty"`
	DeleteRules           []string `mapstructure:"delete_rules" yaml:"delete_rules,omitempty"`
	NotifyRules           []string `mapstructure:"notify_rules" yaml:"notify_rules,omitempty"`
}

// IndexConfig declares a secondary index over document fields.
type IndexConfig struct {
	Name        string         `mapstructure:"name" yaml:"name"`
	Collections []string       `mapstructure:"collections" yaml:"collections,omitempty"`
	Columns     []ColumnConfig `mapstructure:"columns" yaml:"columns,omitempty"`
}

// ColumnConfig maps a document field to an indexed column.
type ColumnConfig struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Type  string `mapstructure:"type" yaml:"type,omitempty"`
	Field string `mapstructure:"field" yaml:"field,omitempty"`
}

// String returns a short summary of the declared extensions
func (c *ExtensionsConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nEXTENSIONS\n")
	for _, v := range c.Views {
		sb.WriteString(fmt.Sprintf("  %-22s: view (group by %s, sort by %s)\n", v.Name, v.GroupBy, strings.Join(v.SortBy, ",")))
	}
	for _, r := range c.Relationships {
		sb.WriteString(fmt.Sprintf("  %-22s: relationship (%d edge kinds)\n", r.Name, len(r.Edges)))
	}
	for _, i := range c.Indexes {
		sb.WriteString(fmt.Sprintf("  %-22s: secondary index (%d columns)\n", i.Name, len(i.Columns)))
	}
	return sb.String()
}
