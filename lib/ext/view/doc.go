// Package view implements the view extension: rows grouped by a grouping function
// and kept sorted within each group by a sorting function, maintained incrementally
// with every write transaction.
//
// Key Features:
//   - Groups are sorted slices, updated by binary search on insert and move
//   - Updates that cannot affect grouping or sorting (see Uses) never move a row
//   - Readers see the groups of their snapshot, write handles see the changes
//     delivered so far
//   - Filtered views show the rows of a parent view accepted by a filter; replacing
//     the filter reports only the rows that left or entered the view
//   - Mappings project groups into the sections and rows of a list UI, with
//     dynamic sections, fixed ranges, reversal and drawing dependencies
//   - GetChanges turns the Change-Sets since a mappings update into section and row
//     changes safe to apply one after the other
//
// Implementation Details:
//
//   - State: a view state holds the group slices and a google/btree index from
//     CollectionKey to group. A write transaction clones the index lazily and copies a
//     group slice the first time it modifies it, so states handed to readers stay
//     immutable.
//
//   - Notifications: every commit that changes the view adds a *Notification to the
//     Change-Set. It lists the operations in the order they were applied and carries
//     the resulting state. GetChanges compares the mappings' layout of the last state
//     it saw with the layout of the newest state and uses the operations to tell moved
//     and updated rows from untouched ones.
//
// Usage:
//
//	v, _ := view.New(view.Options{
//		Grouping: func(collection, key string, object, metadata any) (string, bool) {
//			return collection, true
//		},
//		Sorting: byTitle,
//	})
//	_ = s.Register(ctx, "lists", v)
//
//	m := view.NewMappings("lists", "todos", "done")
//	tx, css := conn.BeginLongLivedReadTransaction()
//	changes, err := view.GetChanges("lists", css, m)
package view
