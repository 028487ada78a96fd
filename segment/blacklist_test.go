package segment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/core"
)

func TestBlacklistAddAndContains(t *testing.T) {
	bl := NewBlacklist()
	assert.False(t, bl.Contains(core.UserID(7)))

	bl.Add(core.UserID(7))
	assert.True(t, bl.Contains(core.UserID(7)))
	assert.Equal(t, 1, bl.Len())
}

func TestBlacklistAddMany(t *testing.T) {
	bl := NewBlacklist()
	bl.AddMany([]core.UserID{1, 2, 3})
	assert.Equal(t, 3, bl.Len())
	for _, id := range []core.UserID{1, 2, 3} {
		assert.True(t, bl.Contains(id))
	}
	assert.False(t, bl.Contains(core.UserID(4)))
}

func TestBlacklistSnapshotIsIndependent(t *testing.T) {
	bl := NewBlacklist()
	bl.Add(core.UserID(1))
	snap := bl.Snapshot()

	bl.Add(core.UserID(2))
	assert.True(t, snap.Contains(core.UserID(1)))
	assert.False(t, snap.Contains(core.UserID(2)), "snapshot must not see mutations after it was taken")
}

func TestBlacklistNilSnapshotContainsNothing(t *testing.T) {
	var s *Snapshot
	assert.False(t, s.Contains(core.UserID(1)))
}

func TestBlacklistWriteToAndLoad(t *testing.T) {
	bl := NewBlacklist()
	bl.AddMany([]core.UserID{1, 2, -5, 100000})

	var buf bytes.Buffer
	_, err := bl.WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := LoadBlacklist(&buf)
	require.NoError(t, err)
	assert.Equal(t, bl.Len(), loaded.Len())
	assert.True(t, loaded.Contains(core.UserID(1)))
	assert.True(t, loaded.Contains(core.UserID(-5)))
	assert.True(t, loaded.Contains(core.UserID(100000)))
	assert.False(t, loaded.Contains(core.UserID(42)))
}

func TestBlacklistNegativeIDRoundtrip(t *testing.T) {
	bl := NewBlacklist()
	bl.Add(core.UserID(-1))
	assert.True(t, bl.Contains(core.UserID(-1)))
	assert.False(t, bl.Contains(core.UserID(1)))
}
