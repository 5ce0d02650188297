// Package codec implements the object boundary of the store: the per-collection
// Registry and the codecs it hands out.
//
// Codecs: JSON[T], GOB[T], YAML[T], Binary[T, PT] (encoding.BinaryMarshaler types),
// Raw (byte slices as they are) and Compressed, which wraps any codec with snappy or
// zstd compression.
//
// A decode failure is not an error for readers: the store logs it and surfaces the
// row with a nil object.
package codec
