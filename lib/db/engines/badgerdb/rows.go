package badgerdb

import (
	"encoding/binary"
	"strings"

	"github.com/cockroachdb/errors"
)

// Key layout:
//
//	r<collection>\x00<key>  row
//	c<collection>           row count of a collection (absent when 0)
//	m/version               last committed version
//	m/rowid                 next rowid
const (
	prefixRow   = 'r'
	prefixCount = 'c'
)

var (
	keyVersion = []byte("m/version")
	keyRowID   = []byte("m/rowid")
)

func rowKey(collection, key string) []byte {
	b := make([]byte, 0, len(collection)+len(key)+2)
	b = append(b, prefixRow)
	b = append(b, collection...)
	b = append(b, 0)
	return append(b, key...)
}

func rowPrefix(collection string) []byte {
	b := make([]byte, 0, len(collection)+2)
	b = append(b, prefixRow)
	b = append(b, collection...)
	return append(b, 0)
}

func countKey(collection string) []byte {
	return append([]byte{prefixCount}, collection...)
}

// splitRowKey returns collection and key of a row key
func splitRowKey(k []byte) (string, string, bool) {
	if len(k) == 0 || k[0] != prefixRow {
		return "", "", false
	}
	collection, key, ok := strings.Cut(string(k[1:]), "\x00")
	return collection, key, ok
}

// Row value layout:
//
//	flags u8 | rowid varint | version uvarint | len(object) uvarint | object | metadata
//
// flags bit 0 is set when the row has metadata, which then fills the rest of the value.
const flagMetadata = 1

var errCorruptRow = errors.New("badgerdb: corrupt row value")

func encodeRow(rowid int64, version uint64, object, metadata []byte) []byte {
	b := make([]byte, 1, 1+3*binary.MaxVarintLen64+len(object)+len(metadata))
	if metadata != nil {
		b[0] |= flagMetadata
	}
	b = binary.AppendVarint(b, rowid)
	b = binary.AppendUvarint(b, version)
	b = binary.AppendUvarint(b, uint64(len(object)))
	b = append(b, object...)
	return append(b, metadata...)
}

// decodeRow parses a row value. The returned slices are copies.
func decodeRow(v []byte) (rowid int64, version uint64, object, metadata []byte, err error) {
	if len(v) < 1 {
		return 0, 0, nil, nil, errCorruptRow
	}
	flags, rest := v[0], v[1:]

	var n int
	if rowid, n = binary.Varint(rest); n <= 0 {
		return 0, 0, nil, nil, errCorruptRow
	}
	rest = rest[n:]
	if version, n = binary.Uvarint(rest); n <= 0 {
		return 0, 0, nil, nil, errCorruptRow
	}
	rest = rest[n:]
	objLen, n := binary.Uvarint(rest)
	if n <= 0 || uint64(len(rest)-n) < objLen {
		return 0, 0, nil, nil, errCorruptRow
	}
	rest = rest[n:]

	if objLen > 0 {
		object = append([]byte(nil), rest[:objLen]...)
	}
	if flags&flagMetadata != 0 {
		metadata = append([]byte{}, rest[objLen:]...)
	}
	return rowid, version, object, metadata, nil
}

func encodeUint(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
