package vecengine

import (
	"bytes"
	"context"
	"io"

	"github.com/nanovec/vecengine/blobstore"
	"github.com/nanovec/vecengine/cache"
)

// cachedStore wraps a blobstore.Store so that reads of a segment's data
// files flow through the engine's bounded block cache instead of hitting
// the underlying store on every access. Writes, deletes, and listing pass
// straight through and do not touch the cache: the engine evicts a
// segment's cached files with invalidateSegment after an index build
// rewrites them, and reads the mutable blacklist from the underlying
// store directly.
type cachedStore struct {
	blobstore.Store
	blocks *cache.BlockCache
}

func newCachedStore(store blobstore.Store, blocks *cache.BlockCache) blobstore.Store {
	return &cachedStore{Store: store, blocks: blocks}
}

func (s *cachedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	h, err := s.blocks.Get(ctx, key, cache.ReaderLoader(s.Store.Get))
	if err != nil {
		return nil, err
	}
	return &pinnedReader{Reader: bytes.NewReader(h.Data()), h: h}, nil
}

// pinnedReader hands back a cached block's bytes and releases its pin on
// Close, the point at which the caller is done reading it.
type pinnedReader struct {
	*bytes.Reader
	h *cache.Handle
}

func (r *pinnedReader) Close() error {
	r.h.Release()
	return nil
}
