package lstore

import (
	"github.com/ValentinKolb/eKV/lib/store"
	lru "github.com/hashicorp/golang-lru"
	"github.com/puzpuzpuz/xsync/v3"
)

// objectKey identifies one immutable row version
type objectKey struct {
	collection string
	key        string
	version    uint64
}

type decoded struct {
	object   any
	metadata any
}

// objectCache keeps decoded objects of committed row versions. A nil cache
// (size 0) caches nothing.
type objectCache struct {
	lru *lru.Cache
}

func newObjectCache(size int) (*objectCache, error) {
	if size <= 0 {
		return &objectCache{}, nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &objectCache{lru: c}, nil
}

func (c *objectCache) get(k objectKey) (decoded, bool) {
	if c.lru == nil {
		return decoded{}, false
	}
	v, ok := c.lru.Get(k)
	if !ok {
		return decoded{}, false
	}
	return v.(decoded), true
}

func (c *objectCache) add(k objectKey, d decoded) {
	if c.lru != nil {
		c.lru.Add(k, d)
	}
}

func (c *objectCache) len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// codecCache resolves the codecs of each collection once per transaction. It is
// shared by the goroutines populating extensions, hence the concurrent map.
type codecCache struct {
	registry store.CodecRegistry
	pairs    *xsync.MapOf[string, store.CodecPair]
}

func newCodecCache(registry store.CodecRegistry) *codecCache {
	return &codecCache{registry: registry, pairs: xsync.NewMapOf[string, store.CodecPair]()}
}

func (c *codecCache) lookup(collection string) store.CodecPair {
	pair, _ := c.pairs.LoadOrCompute(collection, func() store.CodecPair {
		return c.registry.Lookup(collection)
	})
	return pair
}
