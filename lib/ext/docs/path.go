package docs

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Pseudo fields resolved from the row instead of the document.
const (
	FieldCollection = "$collection"
	FieldKey        = "$key"
)

// Lookup resolves a dotted path in a JSON document. Path segments index maps by
// key and lists by position:
//
//	Lookup("todos", "t1", doc, "owner.name")
//	Lookup("todos", "t1", doc, "tags.0")
func Lookup(collection, key string, object any, path string) (any, bool) {
	switch path {
	case FieldCollection:
		return collection, true
	case FieldKey:
		return key, true
	case "", ".":
		return object, object != nil
	}
	v := object
	for _, seg := range strings.Split(path, ".") {
		switch x := v.(type) {
		case map[string]any:
			var ok bool
			if v, ok = x[seg]; !ok {
				return nil, false
			}
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(x) {
				return nil, false
			}
			v = x[i]
		default:
			return nil, false
		}
	}
	return v, v != nil
}

// usesOnlyKey reports whether all paths are pseudo fields
func usesOnlyKey(paths ...string) bool {
	for _, p := range paths {
		if p != FieldCollection && p != FieldKey {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Ordering of JSON values
// --------------------------------------------------------------------------

// rank orders values of different kinds: missing, booleans, numbers, text, others
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	return 4
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// Compare orders two JSON values. Values of different kinds are ordered by kind,
// missing values first.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 0:
		return 0
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmp.Compare(fa, fb)
	case 3:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// text renders a value as a group name
func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
