package secondaryindex

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LogSecondaryIndex)

// --------------------------------------------------------------------------
// Column Types
// --------------------------------------------------------------------------

// ColumnType is the type of an indexed column. Values are normalized to int64,
// float64 or string so that the query engine can compare them.
type ColumnType uint8

const (
	Integer ColumnType = iota + 1
	Real
	Text
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// ParseColumnType accepts the names returned by String, case-insensitive.
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(s) {
	case "integer", "int":
		return Integer, nil
	case "real", "float":
		return Real, nil
	case "text", "string":
		return Text, nil
	}
	return 0, errors.Newf("unknown column type %q", s)
}

func (t ColumnType) numeric() bool {
	return t == Integer || t == Real
}

// normalize converts v to the column's representation. ok=false means the value
// cannot be stored in the column and is indexed as NULL.
func (t ColumnType) normalize(v any) (any, bool) {
	switch t {
	case Integer:
		switch x := number(v).(type) {
		case int64:
			return x, true
		case float64:
			// float64(math.MaxInt64) rounds up to 2^63, which is out of range
			if x == math.Trunc(x) && x >= math.MinInt64 && x < 1<<63 {
				return int64(x), true
			}
		}
	case Real:
		switch x := number(v).(type) {
		case int64:
			return float64(x), true
		case float64:
			if !math.IsNaN(x) {
				return x, true
			}
		}
	case Text:
		switch x := v.(type) {
		case string:
			return x, true
		case []byte:
			return string(x), true
		}
	}
	return nil, false
}

// number converts the Go numeric kinds to int64 or float64, anything else to nil
func number(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return unsigned(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return unsigned(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
	}
	return nil
}

func unsigned(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// --------------------------------------------------------------------------
// Setup
// --------------------------------------------------------------------------

// Extractor returns the value of a column for a row. ok=false or a nil value
// stores NULL.
type Extractor func(collection, key string, object, metadata any) (value any, ok bool)

// Column is an indexed column.
type Column struct {
	Name    string
	Type    ColumnType
	Extract Extractor
}

// Setup lists the columns of an index. Errors of AddColumn are collected and
// reported by New.
type Setup struct {
	columns []Column
	errs    error
}

func NewSetup() *Setup {
	return &Setup{}
}

// AddColumn adds a column and returns the setup for chaining:
//
//	setup := secondaryindex.NewSetup().
//		AddColumn("age", secondaryindex.Integer, ageOf).
//		AddColumn("name", secondaryindex.Text, nameOf)
func (s *Setup) AddColumn(name string, typ ColumnType, extract Extractor) *Setup {
	switch {
	case !validIdent(name):
		s.errs = errors.CombineErrors(s.errs, errors.Newf("invalid column name %q", name))
	case keywords[strings.ToUpper(name)]:
		s.errs = errors.CombineErrors(s.errs, errors.Newf("column name %q is a keyword", name))
	case s.index(name) >= 0:
		s.errs = errors.CombineErrors(s.errs, errors.Newf("duplicate column %q", name))
	case typ < Integer || typ > Text:
		s.errs = errors.CombineErrors(s.errs, errors.Newf("column %q has an unknown type", name))
	case extract == nil:
		s.errs = errors.CombineErrors(s.errs, errors.Newf("column %q has no extractor", name))
	default:
		s.columns = append(s.columns, Column{Name: name, Type: typ, Extract: extract})
	}
	return s
}

// Columns returns the columns in the order they were added.
func (s *Setup) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

func (s *Setup) index(name string) int {
	for i, c := range s.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Uses tells the index which parts of a row the extractors read.
type Uses uint8

const (
	UsesKey Uses = 1 << iota
	UsesObject
	UsesMetadata

	UsesAll = UsesKey | UsesObject | UsesMetadata
)

func (u Uses) affectedBy(mask store.ChangeMask) bool {
	return (mask&store.ChangedObject != 0 && u&UsesObject != 0) ||
		(mask&store.ChangedMetadata != 0 && u&UsesMetadata != 0)
}

const defaultQueryCacheSize = 64

// Options configure an index.
type Options struct {
	Setup *Setup
	// Uses defaults to UsesAll.
	Uses Uses
	// Collections limits the index to rows of these collections. Empty means all.
	Collections []string
	// QueryCacheSize is the number of parsed queries kept per index, default 64.
	QueryCacheSize int
}
