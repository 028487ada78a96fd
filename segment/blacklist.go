package segment

import (
	"io"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nanovec/vecengine/core"
)

// Blacklist is a mutex-guarded, roaring-bitmap-backed tombstone set. Add
// mutates the bitmap in place and Contains reads it under a read lock;
// Snapshot returns an independent copy, for callers that need a stable view
// across multiple Contains calls against a mutating Blacklist.
type Blacklist struct {
	mu  sync.RWMutex
	bmp *roaring.Bitmap
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{bmp: roaring.New()}
}

// Contains reports whether id has been soft-deleted.
func (b *Blacklist) Contains(id core.UserID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bmp.Contains(toRoaringKey(id))
}

// Add marks id as deleted. Safe for concurrent use with Contains and
// Snapshot.
func (b *Blacklist) Add(id core.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bmp.Add(toRoaringKey(id))
}

// AddMany marks every id in ids as deleted in a single pass.
func (b *Blacklist) AddMany(ids []core.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.bmp.Add(toRoaringKey(id))
	}
}

// Len returns the number of tombstoned IDs.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int(b.bmp.GetCardinality())
}

// Snapshot returns an immutable, independently-readable copy of the
// current bitmap state, suitable for installing into an in-memory index
// via Index.SetBlacklist without holding Blacklist's lock during search.
func (b *Blacklist) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &Snapshot{bmp: b.bmp.Clone()}
}

// WriteTo persists the blacklist in roaring's portable binary format.
func (b *Blacklist) WriteTo(w io.Writer) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bmp.WriteTo(w)
}

// LoadBlacklist reads a blacklist previously written by WriteTo.
func LoadBlacklist(r io.Reader) (*Blacklist, error) {
	bmp := roaring.New()
	if _, err := bmp.ReadFrom(r); err != nil {
		return nil, err
	}
	return &Blacklist{bmp: bmp}, nil
}

// Snapshot is a frozen, thread-safe view of a Blacklist's contents at a
// point in time. It implements index.Blacklist.
type Snapshot struct {
	bmp *roaring.Bitmap
}

// Contains reports whether id was deleted as of the snapshot's creation.
func (s *Snapshot) Contains(id core.UserID) bool {
	if s == nil || s.bmp == nil {
		return false
	}
	return s.bmp.Contains(toRoaringKey(id))
}

// roaring.Bitmap stores uint32 keys; UserID is a caller-supplied int64, so
// negative or >2^32 IDs fold via a stable hash rather than silently
// truncating, keeping Contains consistent with Add for the full range.
func toRoaringKey(id core.UserID) uint32 {
	u := uint64(id)
	return uint32(u) ^ uint32(u>>32)
}
