package vecengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func TestCreateTableAndInsertQuery(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 3, core.MetricL2)
	require.NoError(t, err)

	rows := []core.VectorRow{
		{ID: 1, Vector: []float32{0, 0, 0}},
		{ID: 2, Vector: []float32{1, 0, 0}},
		{ID: 3, Vector: []float32{9, 9, 9}},
	}
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", rows))
	require.NoError(t, e.Flush(ctx, "vecs"))

	results, err := e.Query(ctx, "vecs", nil, [][]float32{{0, 0, 0}}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 2)
	assert.Equal(t, core.UserID(1), results[0][0].ID)
	assert.Equal(t, core.UserID(2), results[0][1].ID)
}

func TestInsertNotQueryableBeforeFlush(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", []core.VectorRow{{ID: 1, Vector: []float32{0, 0}}}))

	results, err := e.Query(ctx, "vecs", nil, [][]float32{{0, 0}}, 5)
	require.NoError(t, err)
	assert.Empty(t, results[0], "unflushed rows must not be visible to Query")
}

func TestDeleteVectorsSoftDeletesAfterFlush(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", []core.VectorRow{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{1, 1}},
	}))
	require.NoError(t, e.Flush(ctx, "vecs"))

	require.NoError(t, e.DeleteVectors(ctx, "vecs", []core.UserID{1}))

	_, err = e.GetVectorByID(ctx, "vecs", 1)
	assert.Error(t, err)

	results, err := e.Query(ctx, "vecs", nil, [][]float32{{0, 0}}, 5)
	require.NoError(t, err)
	for _, hit := range results[0] {
		assert.NotEqual(t, core.UserID(1), hit.ID)
	}
}

func TestGetVectorByIDFindsUnflushedRow(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", []core.VectorRow{{ID: 1, Vector: []float32{7, 8}}}))

	v, err := e.GetVectorByID(ctx, "vecs", 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 8}, v)
}

func TestCreateIndexAndQueryStillWorks(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", []core.VectorRow{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{1, 1}},
	}))
	require.NoError(t, e.Flush(ctx, "vecs"))

	require.NoError(t, e.CreateIndex(ctx, "vecs", index.Spec{Kind: core.IndexFlat}))

	results, err := e.Query(ctx, "vecs", nil, [][]float32{{0, 0}}, 1)
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, core.UserID(1), results[0][0].ID)
}

func TestQueryByFileIDNoSegmentsToSearch(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", []core.VectorRow{{ID: 1, Vector: []float32{0, 0}}}))
	require.NoError(t, e.Flush(ctx, "vecs"))

	_, err = e.QueryByFileID(ctx, "vecs", []core.SegmentID{999999}, []float32{0, 0}, 5)
	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, CodeNoSegmentsToSearch, coded.Code)
}

func TestQueryByFileIDMatchesKnownSegment(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", []core.VectorRow{{ID: 1, Vector: []float32{0, 0}}}))
	require.NoError(t, e.Flush(ctx, "vecs"))

	info, err := e.GetTableInfo(ctx, "vecs")
	require.NoError(t, err)
	require.Equal(t, 1, info.Segments)

	parts, err := e.ShowPartitions(ctx, "vecs")
	require.NoError(t, err)
	segs, err := e.cat.ListSegments(ctx, parts[0].ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)

	hits, err := e.QueryByFileID(ctx, "vecs", []core.SegmentID{segs[0].ID}, []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.UserID(1), hits[0].ID)
}

func TestPreloadTableWarmsCache(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", []core.VectorRow{{ID: 1, Vector: []float32{1, 1}}}))
	require.NoError(t, e.Flush(ctx, "vecs"))

	require.NoError(t, e.PreloadTable(ctx, "vecs"))
	assert.Greater(t, e.blocks.Size(), int64(0))
}

func TestDropTableRemovesIt(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.DropTable(ctx, "vecs"))

	has, err := e.HasTable(ctx, "vecs")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDimensionMismatchRejectedOnInsert(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateTable(ctx, "vecs", 3, core.MetricL2)
	require.NoError(t, err)

	err = e.InsertVectors(ctx, "vecs", "", []core.VectorRow{{ID: 1, Vector: []float32{1, 2}}})
	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, CodeDimensionMismatch, coded.Code)
}

func TestCloseThenOpenRecoversFlushedData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e, err := Open(ctx, dir)
	require.NoError(t, err)
	_, err = e.CreateTable(ctx, "vecs", 2, core.MetricL2)
	require.NoError(t, err)
	require.NoError(t, e.InsertVectors(ctx, "vecs", "", []core.VectorRow{{ID: 1, Vector: []float32{2, 2}}}))
	require.NoError(t, e.Flush(ctx, "vecs"))
	require.NoError(t, e.Close(ctx))

	e2, err := Open(ctx, dir)
	require.NoError(t, err)
	defer e2.Close(ctx)

	v, err := e2.GetVectorByID(ctx, "vecs", 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2}, v)
}
