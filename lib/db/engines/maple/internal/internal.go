package internal

import (
	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/google/btree"
)

// btreeDegree is the degree of all row trees. 32 keeps nodes around a cache line
// multiple for typical key sizes and makes copy-on-write clones cheap.
const btreeDegree = 32

// --------------------------------------------------------------------------
// Row items
// --------------------------------------------------------------------------

// RowItem is the btree item holding one row, ordered by (collection, key).
type RowItem struct {
	db.Row
}

// Less implements the btree.Item interface.
func (r *RowItem) Less(than btree.Item) bool {
	o := than.(*RowItem)
	if r.Collection != o.Collection {
		return r.Collection < o.Collection
	}
	return r.Key < o.Key
}

// Pivot returns an item usable for lookups and range starts.
func Pivot(collection, key string) *RowItem {
	return &RowItem{Row: db.Row{Collection: collection, Key: key}}
}

// --------------------------------------------------------------------------
// Versions
// --------------------------------------------------------------------------

// Version is one committed state of the database. A published Version is never
// modified again, with the exception of Refs, which is only touched inside the
// retention table's Compute callbacks.
type Version struct {
	Seq       uint64
	Tree      *btree.BTree
	Counts    map[string]int // rows per collection, entries with 0 are removed
	NextRowID int64
	Refs      int
}

// NewEmptyVersion returns version 0 of an empty database.
func NewEmptyVersion() *Version {
	return &Version{
		Seq:       0,
		Tree:      btree.New(btreeDegree),
		Counts:    map[string]int{},
		NextRowID: 1,
	}
}

// NewTree returns an empty tree with the engine's degree.
func NewTree() *btree.BTree {
	return btree.New(btreeDegree)
}

// Get looks up a row in a tree.
func Get(tree *btree.BTree, collection, key string) (db.Row, bool) {
	item := tree.Get(Pivot(collection, key))
	if item == nil {
		return db.Row{}, false
	}
	return item.(*RowItem).Row, true
}

// Scan yields the rows of one collection in key order until fn returns false.
func Scan(tree *btree.BTree, collection string, fn func(row db.Row) bool) {
	tree.AscendGreaterOrEqual(Pivot(collection, ""), func(i btree.Item) bool {
		row := i.(*RowItem).Row
		if row.Collection != collection {
			return false
		}
		return fn(row)
	})
}
