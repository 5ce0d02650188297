/*
Package secondaryindex implements the secondary index extension: typed columns
extracted from rows, queryable with a small SQL-like WHERE / ORDER BY language.

# Columns

A Setup lists the columns. Each column has a name, a type (Integer, Real or Text)
and an extractor that reads its value from a row. Values are normalized to int64,
float64 or string; a value that does not fit the column is stored as NULL. A row
whose columns are all NULL is not part of the index.

# Queries

	r := secondaryindex.Read(tx, "people")
	keys, err := r.Keys(secondaryindex.NewQuery("WHERE age >= ? AND city IN (?) ORDER BY age DESC", 18, []string{"Berlin", "Paris"}))
	if err != nil {
		return err
	}
	for ck := range keys {
		...
	}

Queries are parsed once per index and cached. Binding a query checks the column
names, the number of parameters and the parameter types, so every error is returned
before iteration starts. Comparisons with NULL are false.

# Implementation Details

The index keeps a B-tree of rows (by collection and key) and one B-tree per
column ordered by value and row. The first range comparison (= < <= > >= or IN)
of the top-level AND chain is answered by a range scan over its column tree;
without one every row is scanned. Candidates are filtered by the whole predicate.
Results come in the order of the scanned tree unless ORDER BY names another
column, in which case they are collected and sorted (NULLs first).

Write transactions work on lazy clones of the trees, readers keep the trees of
their snapshot.
*/
package secondaryindex
