package codec

import (
	"fmt"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

type Compression uint8

const (
	Snappy Compression = iota + 1
	Zstd
)

func (c Compression) String() string {
	switch c {
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression accepts "snappy" and "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, errors.Newf("unknown compression %q", s)
	}
}

// EncodeAll and DecodeAll are safe for concurrent use, one pair serves every codec
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

type compressed struct {
	inner store.Codec
	algo  Compression
}

// Compressed compresses the output of inner with snappy (block format) or zstd.
func Compressed(inner store.Codec, algo Compression) store.Codec {
	return &compressed{inner: inner, algo: algo}
}

func (c *compressed) Encode(collection, key string, v any) ([]byte, error) {
	b, err := c.inner.Encode(collection, key, v)
	if err != nil {
		return nil, err
	}
	switch c.algo {
	case Snappy:
		return snappy.Encode(nil, b), nil
	case Zstd:
		return zstdEncoder.EncodeAll(b, nil), nil
	default:
		return nil, errors.Newf("unknown compression %s", c.algo)
	}
}

func (c *compressed) Decode(collection, key string, b []byte) (any, error) {
	var (
		raw []byte
		err error
	)
	switch c.algo {
	case Snappy:
		raw, err = snappy.Decode(nil, b)
	case Zstd:
		raw, err = zstdDecoder.DecodeAll(b, nil)
	default:
		err = errors.Newf("unknown compression %s", c.algo)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: decompress %s/%s", c.algo, collection, key)
	}
	return c.inner.Decode(collection, key, raw)
}
