// Package docs builds view, relationship and secondary index extensions from a
// declarative configuration over JSON documents (map[string]any objects, as
// decoded by codec.JSON[any]).
//
// Fields are addressed by dotted paths ("owner.name", "tags.0"); the pseudo fields
// $collection and $key resolve to the row's collection and key. See
// common.ExtensionsConfig for the file format.
package docs
