package datfile

import (
	"context"
	"fmt"

	"github.com/coocood/freecache"

	"github.com/janelia-flyem/emtile/emtile"
	"github.com/janelia-flyem/emtile/storage"
)

// minCacheBytes keeps a header prefix under freecache's 1/1024 entry size limit.
const minCacheBytes = 4 * emtile.Mega

// Source reads tiles from a store.  Header-only reads fetch just the fixed prefix,
// and recently read header prefixes are kept in a byte-bounded cache so boundary
// tiles read by more than one pass are not fetched twice.
type Source struct {
	store *storage.Store
	cache *freecache.Cache
}

// NewSource returns a tile source over store.  A cacheBytes of zero disables
// header caching.
func NewSource(store *storage.Store, cacheBytes int) *Source {
	s := &Source{store: store}
	if cacheBytes > 0 {
		if cacheBytes < minCacheBytes {
			cacheBytes = minCacheBytes
		}
		s.cache = freecache.NewCache(cacheBytes)
		emtile.Debugf("Header cache of %s for tiles in %s\n", emtile.ByteSize(int64(cacheBytes)), store)
	}
	return s
}

// Store returns the underlying store.
func (s *Source) Store() *storage.Store {
	return s.store
}

// Header reads and decodes only the header region of key.
func (s *Source) Header(ctx context.Context, key string) (*Header, error) {
	if s.cache != nil {
		raw, err := s.cache.Get([]byte(key))
		if err == nil {
			return DecodeHeader(key, raw)
		}
		if err != freecache.ErrNotFound {
			return nil, fmt.Errorf("header cache lookup of %q: %w", key, err)
		}
	}
	raw, err := s.store.ReadRange(ctx, key, 0, HeaderSize)
	if err != nil {
		return nil, err
	}
	h, err := DecodeHeader(key, raw)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set([]byte(key), raw, 0); err != nil {
			emtile.Debugf("Unable to cache header of %q: %v\n", key, err)
		}
	}
	return h, nil
}

// Tile reads and decodes the complete file at key.
func (s *Source) Tile(ctx context.Context, key string) (*Tile, error) {
	data, err := s.store.ReadAll(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeTile(key, data)
}

// Raw returns the complete file at key without decoding it.
func (s *Source) Raw(ctx context.Context, key string) ([]byte, error) {
	return s.store.ReadAll(ctx, key)
}

// CacheStats returns header cache hit and miss counts.
func (s *Source) CacheStats() (hits, misses int64) {
	if s.cache == nil {
		return 0, 0
	}
	return s.cache.HitCount(), s.cache.MissCount()
}
