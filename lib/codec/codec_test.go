package codec

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type todo struct {
	Title string
	Done  bool
	Tags  []string
}

// point implements encoding.BinaryMarshaler / BinaryUnmarshaler
type point struct{ X, Y int32 }

func (p *point) MarshalBinary() ([]byte, error) {
	b := binary.LittleEndian.AppendUint32(nil, uint32(p.X))
	return binary.LittleEndian.AppendUint32(b, uint32(p.Y)), nil
}

func (p *point) UnmarshalBinary(b []byte) error {
	if len(b) != 8 {
		return errors.New("point: need 8 bytes")
	}
	p.X = int32(binary.LittleEndian.Uint32(b))
	p.Y = int32(binary.LittleEndian.Uint32(b[4:]))
	return nil
}

func TestRoundTrip(t *testing.T) {
	value := todo{Title: "Groceries", Tags: []string{"home", "weekly"}}
	long := todo{Title: strings.Repeat("compressible ", 200)}

	cases := []struct {
		name  string
		codec store.Codec
		in    any
		want  any
	}{
		{"json", JSON[todo](), value, value},
		{"json any", JSON[any](), map[string]any{"title": "x", "n": 1.5}, map[string]any{"title": "x", "n": 1.5}},
		{"gob", GOB[todo](), value, value},
		{"yaml", YAML[todo](), value, value},
		{"binary", Binary[point](), &point{X: -3, Y: 7}, &point{X: -3, Y: 7}},
		{"raw", Raw(), []byte("bytes"), []byte("bytes")},
		{"raw string", Raw(), "text", []byte("text")},
		{"snappy", Compressed(JSON[todo](), Snappy), long, long},
		{"zstd", Compressed(GOB[todo](), Zstd), long, long},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.codec.Encode("c", "k", tc.in)
			require.NoError(t, err)

			got, err := tc.codec.Decode("c", "k", b)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompressionShrinks(t *testing.T) {
	long := todo{Title: strings.Repeat("compressible ", 200)}
	plain, err := JSON[todo]().Encode("c", "k", long)
	require.NoError(t, err)

	for _, algo := range []Compression{Snappy, Zstd} {
		b, err := Compressed(JSON[todo](), algo).Encode("c", "k", long)
		require.NoError(t, err)
		require.Less(t, len(b), len(plain), algo.String())
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := JSON[todo]().Decode("lists", "u1", []byte("{not json"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "lists/u1")

	_, err = Compressed(Raw(), Snappy).Decode("c", "k", []byte("not snappy"))
	require.Error(t, err)

	_, err = Raw().Encode("c", "k", 42)
	require.Error(t, err)

	_, err = Binary[point]().Encode("c", "k", todo{})
	require.Error(t, err)

	_, err = ParseCompression("lz4")
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	// unregistered collections use JSON[any]
	b, err := r.Lookup("anything").Object.Encode("anything", "k", map[string]any{"a": 1.0})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(b))

	require.NoError(t, r.Register("todos", store.CodecPair{Object: GOB[todo]()}))
	err = r.Register("todos", store.CodecPair{Object: JSON[todo]()})
	require.ErrorIs(t, err, store.ErrDuplicateName)

	pair := r.Lookup("todos")
	require.NotNil(t, pair.Metadata, "missing metadata codec falls back to the default")

	// replacing the default pair
	require.NoError(t, r.Register("", store.CodecPair{Object: Raw()}))
	out, err := r.Lookup("other").Object.Decode("other", "k", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), out)
	require.ErrorIs(t, r.Register("", store.CodecPair{Object: Raw()}), store.ErrDuplicateName)
}
