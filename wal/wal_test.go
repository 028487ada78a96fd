package wal

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/core"
)

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	w, err := Open(t.TempDir(), Sync)
	require.NoError(t, err)
	defer w.Close()

	r1, err := w.Append(context.Background(), Record{Op: OpFlushMark, Table: "t", FlushSegmentID: 1})
	require.NoError(t, err)
	r2, err := w.Append(context.Background(), Record{Op: OpFlushMark, Table: "t", FlushSegmentID: 2})
	require.NoError(t, err)

	assert.Less(t, uint64(r1.LSN), uint64(r2.LSN))
	assert.Equal(t, uint64(r2.LSN), w.LastLSN())
}

func TestRotateLockedStartsNewSegmentFile(t *testing.T) {
	w, err := Open(t.TempDir(), Sync)
	require.NoError(t, err)
	defer w.Close()

	require.Equal(t, 0, w.CurrentIndex())
	w.rotateBytes = 1 // force every Append past writeLocked to rotate

	_, err = w.Append(context.Background(), Record{Op: OpFlushMark, Table: "t", FlushSegmentID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, w.CurrentIndex())

	idxs, err := w.Segments()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, idxs)
}

func TestTruncateBeforeRemovesOlderSegmentsOnly(t *testing.T) {
	w, err := Open(t.TempDir(), Sync)
	require.NoError(t, err)
	defer w.Close()

	w.rotateBytes = 1
	for i := 0; i < 3; i++ {
		_, err := w.Append(context.Background(), Record{Op: OpFlushMark, Table: "t", FlushSegmentID: core.SegmentID(i)})
		require.NoError(t, err)
	}
	idxs, err := w.Segments()
	require.NoError(t, err)
	require.Len(t, idxs, 4) // 0,1,2 rotated plus the active 3rd file

	require.NoError(t, w.TruncateBefore(2))

	idxs, err = w.Segments()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, idxs)
}

func TestTruncateBeforeToleratesAlreadyRemovedSegment(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, Sync)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.Remove(segmentPath(dir, 0)))
	assert.NoError(t, w.TruncateBefore(5))
}
