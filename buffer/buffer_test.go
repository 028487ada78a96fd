package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanovec/vecengine/core"
)

func TestBufferInsertAndSnapshot(t *testing.T) {
	m := NewManager()
	b := m.Get(Key{Table: "t", Tag: "a"})

	b.Insert([]core.VectorRow{{ID: 1, Vector: []float32{1, 2}}})
	b.Insert([]core.VectorRow{{ID: 2, Vector: []float32{3, 4}}})

	assert.Equal(t, 2, b.Len())
	assert.ElementsMatch(t, []core.UserID{1, 2}, idsOf(b.Snapshot()))
}

func TestBufferDeleteRemovesBufferedRow(t *testing.T) {
	b := newBuffer()
	b.Insert([]core.VectorRow{{ID: 1}, {ID: 2}, {ID: 3}})

	b.Delete([]core.UserID{2})

	assert.Equal(t, 2, b.Len())
	assert.ElementsMatch(t, []core.UserID{1, 3}, idsOf(b.Snapshot()))
}

func TestBufferDrainEmptiesAndReturnsNilAfter(t *testing.T) {
	b := newBuffer()
	b.Insert([]core.VectorRow{{ID: 1}})

	rows := b.Drain()
	assert.Len(t, rows, 1)
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Drain())
}

func TestManagerGetIsLazyAndStable(t *testing.T) {
	m := NewManager()
	k := Key{Table: "t", Tag: "a"}

	b1 := m.Get(k)
	b2 := m.Get(k)
	assert.Same(t, b1, b2)
	assert.Len(t, m.Keys(), 1)
}

func TestManagerDrop(t *testing.T) {
	m := NewManager()
	k := Key{Table: "t", Tag: "a"}
	m.Get(k)
	m.Drop(k)
	assert.Len(t, m.Keys(), 0)
}

func idsOf(rows []core.VectorRow) []core.UserID {
	out := make([]core.UserID, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}
