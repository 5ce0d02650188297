package codec

import (
	"sync"

	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LogCodec)

// Registry maps collections to codec pairs. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	pairs    map[string]store.CodecPair
	fallback store.CodecPair
}

var _ store.CodecRegistry = (*Registry)(nil)

// NewRegistry returns a registry whose default pair is JSON[any] for objects and metadata.
func NewRegistry() *Registry {
	return &Registry{
		pairs:    map[string]store.CodecPair{},
		fallback: store.CodecPair{Object: JSON[any](), Metadata: JSON[any]()},
	}
}

// Register sets the codecs of a collection. Collection "" replaces the default pair.
// A nil codec in the pair falls back to the default one. Registering a collection
// twice fails with store.ErrDuplicateName.
func (r *Registry) Register(collection string, pair store.CodecPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairs[collection]; exists {
		return store.NewError(store.RetCDuplicateName, "codecs already registered for collection %q", collection)
	}
	if collection == "" {
		if pair.Object == nil {
			pair.Object = r.fallback.Object
		}
		if pair.Metadata == nil {
			pair.Metadata = r.fallback.Metadata
		}
		r.fallback = pair
	}
	r.pairs[collection] = pair
	log.Debugf("registered codecs for collection %q", collection)
	return nil
}

// Lookup returns the codecs of a collection, the default pair if it has none.
func (r *Registry) Lookup(collection string) store.CodecPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pair, ok := r.pairs[collection]
	if !ok {
		return r.fallback
	}
	if pair.Object == nil {
		pair.Object = r.fallback.Object
	}
	if pair.Metadata == nil {
		pair.Metadata = r.fallback.Metadata
	}
	return pair
}
