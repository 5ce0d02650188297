package codec

import (
	"bytes"
	"encoding"
	"encoding/gob"
	"encoding/json"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// funcCodec adapts a pair of functions to store.Codec
type funcCodec struct {
	name   string
	encode func(v any) ([]byte, error)
	decode func(b []byte) (any, error)
}

func (c *funcCodec) Encode(collection, key string, v any) ([]byte, error) {
	b, err := c.encode(v)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: encode %s/%s", c.name, collection, key)
	}
	return b, nil
}

func (c *funcCodec) Decode(collection, key string, b []byte) (any, error) {
	v, err := c.decode(b)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: decode %s/%s", c.name, collection, key)
	}
	return v, nil
}

func (c *funcCodec) String() string {
	return c.name
}

// JSON encodes values with encoding/json and decodes them into a T.
// JSON[any] decodes into the generic map[string]any / []any / float64 representation.
func JSON[T any]() store.Codec {
	return &funcCodec{
		name:   "json",
		encode: json.Marshal,
		decode: func(b []byte) (any, error) {
			var v T
			if err := json.Unmarshal(b, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// GOB encodes values with encoding/gob and decodes them into a T. T must be a concrete
// type (or every dynamic type must be registered with gob.Register).
func GOB[T any]() store.Codec {
	return &funcCodec{
		name: "gob",
		encode: func(v any) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		decode: func(b []byte) (any, error) {
			var v T
			if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// YAML encodes values with gopkg.in/yaml.v3 and decodes them into a T.
func YAML[T any]() store.Codec {
	return &funcCodec{
		name:   "yaml",
		encode: func(v any) ([]byte, error) { return yaml.Marshal(v) },
		decode: func(b []byte) (any, error) {
			var v T
			if err := yaml.Unmarshal(b, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// Binary uses the encoding.BinaryMarshaler/BinaryUnmarshaler methods of a type.
// Decode returns a *T.
func Binary[T any, PT interface {
	*T
	encoding.BinaryUnmarshaler
}]() store.Codec {
	return &funcCodec{
		name: "binary",
		encode: func(v any) ([]byte, error) {
			m, ok := v.(encoding.BinaryMarshaler)
			if !ok {
				return nil, errors.Newf("%T does not implement encoding.BinaryMarshaler", v)
			}
			return m.MarshalBinary()
		},
		decode: func(b []byte) (any, error) {
			p := PT(new(T))
			if err := p.UnmarshalBinary(b); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

// Raw stores []byte (or string) values as they are. Decode returns a []byte copy.
func Raw() store.Codec {
	return &funcCodec{
		name: "raw",
		encode: func(v any) ([]byte, error) {
			switch t := v.(type) {
			case []byte:
				return t, nil
			case string:
				return []byte(t), nil
			case nil:
				return nil, nil
			default:
				return nil, errors.Newf("raw codec cannot encode %T", v)
			}
		},
		decode: func(b []byte) (any, error) {
			return bytes.Clone(b), nil
		},
	}
}
