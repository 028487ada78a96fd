// Package buffer implements the insert buffer: vectors land here
// immediately after their WAL record is durable, and stay here until the
// scheduler's flush task seals them into an immutable segment. One Buffer
// exists per (table, partition).
package buffer

import (
	"sync"

	"github.com/nanovec/vecengine/core"
)

// Key identifies which buffer a row belongs to.
type Key struct {
	Table string
	Tag   string
}

// Buffer holds the not-yet-sealed rows of one (table, partition). A delete
// against a row still in the buffer simply removes it.
type Buffer struct {
	mu      sync.Mutex
	rows    []core.VectorRow
	deleted map[core.UserID]struct{}
}

func newBuffer() *Buffer {
	return &Buffer{deleted: make(map[core.UserID]struct{})}
}

// Insert appends rows to the buffer.
func (b *Buffer) Insert(rows []core.VectorRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, rows...)
}

// Delete removes every buffered row whose id is in ids and returns the ids
// that matched at least one buffered row. Ids not found here are not
// recorded anywhere by the buffer.
func (b *Buffer) Delete(ids []core.UserID) (stillBuffered []core.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	toDelete := make(map[core.UserID]struct{}, len(ids))
	for _, id := range ids {
		toDelete[id] = struct{}{}
	}
	found := make(map[core.UserID]struct{})
	kept := b.rows[:0]
	for _, row := range b.rows {
		if _, del := toDelete[row.ID]; del {
			if _, seen := found[row.ID]; !seen {
				found[row.ID] = struct{}{}
				stillBuffered = append(stillBuffered, row.ID)
			}
			continue
		}
		kept = append(kept, row)
	}
	b.rows = kept
	return stillBuffered
}

// Snapshot returns a copy of every row currently buffered, without
// draining them.
func (b *Buffer) Snapshot() []core.VectorRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.VectorRow, len(b.rows))
	copy(out, b.rows)
	return out
}

// Len returns the number of rows currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// Drain atomically removes and returns every buffered row, for the flush
// task to seal into a new segment. An empty buffer drains to nil.
func (b *Buffer) Drain() []core.VectorRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rows) == 0 {
		return nil
	}
	out := b.rows
	b.rows = nil
	return out
}

// Manager owns one Buffer per (table, partition), created lazily on first
// use.
type Manager struct {
	mu      sync.RWMutex
	buffers map[Key]*Buffer
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{buffers: make(map[Key]*Buffer)}
}

// Get returns the Buffer for key, creating it if this is the first insert
// or delete seen for that (table, partition).
func (m *Manager) Get(key Key) *Buffer {
	m.mu.RLock()
	b, ok := m.buffers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buffers[key]; ok {
		return b
	}
	b = newBuffer()
	m.buffers[key] = b
	return b
}

// Keys returns every (table, partition) with a live buffer, for the
// scheduler's flush task to scan.
func (m *Manager) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Key, 0, len(m.buffers))
	for k := range m.buffers {
		out = append(out, k)
	}
	return out
}

// Drop removes a buffer entirely, called when its partition is dropped.
func (m *Manager) Drop(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, key)
}
