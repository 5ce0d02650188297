// Package relationship implements the relationship extension: a graph of named,
// directed edges between rows that is kept consistent with deletions.
//
// Edges come from two places. Objects implementing Node (or an EdgeFunc given in
// the options) declare the outgoing edges of their row; they are recomputed
// whenever the row is inserted or its object changes. Manual edges are added and
// removed through the WriteHandle and are never touched by a recomputation.
//
// When a row is deleted, every edge it is part of is removed and the edge's rules
// run:
//   - a DeleteRule may delete the other endpoint, immediately or once the last edge
//     of the same name is gone
//   - a NotifyRule calls EdgeDeleted on the other endpoint's object if it implements
//     NotifiedNode; a returned replacement overwrites the object and keeps the
//     metadata
//
// Deletions issued by the rules are regular mutations of the write transaction.
// They come back in the next delivery round of the commit and cascade from there.
// Every node is processed at most once per transaction, so cycles terminate.
// Replacements issued by notifications do not recompute the edges of their row;
// views and indexes treat them as ordinary object updates.
//
// An edge whose source or destination does not exist when the transaction
// finishes is dropped without running its rules.
package relationship
