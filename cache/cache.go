// Package cache implements the block cache segments' raw vectors, IDs, and
// built indexes are read through: a bounded LRU keyed by blob key, with
// pinning so a block being actively scanned by a query is never evicted
// out from under it.
package cache

import (
	"container/list"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrExhausted is returned by Get when the cache is at capacity and every
// resident block is pinned, so nothing can be evicted to make room.
var ErrExhausted = errors.New("cache: exhausted, all blocks pinned")

// Loader fetches the bytes for key on a cache miss.
type Loader func(ctx context.Context, key string) ([]byte, error)

type entry struct {
	key     string
	data    []byte
	pins    int
	element *list.Element
}

// BlockCache is an LRU cache of opaque byte blocks, bounded by total bytes
// rather than entry count. Callers pin a block for the duration of a read
// and unpin it when done; eviction only ever considers unpinned blocks.
type BlockCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	ll       *list.List // back = most recently used
	items    map[string]*entry
}

// New returns an empty BlockCache bounded at capacityBytes.
func New(capacityBytes int64) *BlockCache {
	return &BlockCache{
		capacity: capacityBytes,
		ll:       list.New(),
		items:    make(map[string]*entry),
	}
}

// Handle is a pinned reference to a cached block. The caller must call
// Release exactly once when done reading Data.
type Handle struct {
	c    *BlockCache
	e    *entry
}

// Data returns the block's bytes. Valid until Release.
func (h *Handle) Data() []byte { return h.e.data }

// Release unpins the block, making it eligible for eviction again.
func (h *Handle) Release() {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.e.pins--
}

// Get returns a pinned Handle for key, loading it via load on a miss and
// evicting unpinned LRU entries as needed to stay within capacity.
func (c *BlockCache) Get(ctx context.Context, key string, load Loader) (*Handle, error) {
	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		c.ll.MoveToBack(e.element)
		e.pins++
		c.mu.Unlock()
		return &Handle{c: c, e: e}, nil
	}
	c.mu.Unlock()

	data, err := load(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		// Lost the race to a concurrent loader; keep the winner's copy.
		c.ll.MoveToBack(e.element)
		e.pins++
		return &Handle{c: c, e: e}, nil
	}

	if err := c.evictToFitLocked(int64(len(data))); err != nil {
		return nil, err
	}

	e := &entry{key: key, data: data, pins: 1}
	e.element = c.ll.PushBack(e)
	c.items[key] = e
	c.size += int64(len(data))
	return &Handle{c: c, e: e}, nil
}

// Invalidate removes key from the cache if present and unpinned. It is a
// no-op if key is pinned or absent. The engine calls it whenever a
// segment's files are rewritten (index build) or are about to be removed.
func (c *BlockCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || e.pins > 0 {
		return
	}
	c.removeLocked(e)
}

func (c *BlockCache) evictToFitLocked(need int64) error {
	for c.size+need > c.capacity {
		victim := c.lruUnpinnedLocked()
		if victim == nil {
			return ErrExhausted
		}
		c.removeLocked(victim)
	}
	return nil
}

func (c *BlockCache) lruUnpinnedLocked() *entry {
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.pins == 0 {
			return e
		}
	}
	return nil
}

func (c *BlockCache) removeLocked(e *entry) {
	c.ll.Remove(e.element)
	delete(c.items, e.key)
	c.size -= int64(len(e.data))
}

// Size returns the cache's current occupied bytes.
func (c *BlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the cache's configured byte budget.
func (c *BlockCache) Capacity() int64 {
	return c.capacity
}

// SetCapacity adjusts the byte budget, evicting unpinned entries
// immediately if the new capacity is smaller than the current size.
func (c *BlockCache) SetCapacity(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = n
	for c.size > c.capacity {
		victim := c.lruUnpinnedLocked()
		if victim == nil {
			return
		}
		c.removeLocked(victim)
	}
}

// ReaderLoader adapts an io.Reader-returning fetch function (typically a
// blobstore.Store.Get) into a Loader.
func ReaderLoader(open func(ctx context.Context, key string) (io.ReadCloser, error)) Loader {
	return func(ctx context.Context, key string) ([]byte, error) {
		r, err := open(ctx, key)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
}
