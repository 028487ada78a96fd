package ivfsq8

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
)

func trainedIndex(t *testing.T, heuristic bool) *Index {
	t.Helper()
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2, NumLists: 2, NumProbes: 2}, heuristic)
	require.NoError(t, ix.Train([][]float32{{0, 0}, {0, 1}, {10, 10}, {10, 11}}))
	require.NoError(t, ix.Add([]core.VectorRow{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{0, 1}},
		{ID: 3, Vector: []float32{10, 10}},
	}))
	return ix
}

func TestAddBeforeTrainReturnsNotTrained(t *testing.T) {
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2}, false)
	err := ix.Add([]core.VectorRow{{ID: 1, Vector: []float32{0, 0}}})
	assert.ErrorIs(t, err, index.ErrNotTrained)
}

func TestSearchOrdersByApproxDistance(t *testing.T) {
	ix := trainedIndex(t, false)
	hits, err := ix.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, core.UserID(1), hits[0].ID)
}

func TestSearchDimensionMismatch(t *testing.T) {
	ix := trainedIndex(t, false)
	_, err := ix.Search([]float32{1, 2, 3}, 1)
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestHeuristicRefinePassAlsoRanksNearestFirst(t *testing.T) {
	ix := trainedIndex(t, true)
	hits, err := ix.Search([]float32{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.UserID(1), hits[0].ID)
}

func TestGetVectorByIDReconstructsWithinQuantizationError(t *testing.T) {
	ix := trainedIndex(t, false)
	v, err := ix.GetVectorByID(3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{10, 10}, v, 0.5)

	_, err = ix.GetVectorByID(99)
	assert.ErrorIs(t, err, index.ErrIDNotFound)
}

func TestBlacklistExcludesFromSearchAndGet(t *testing.T) {
	ix := trainedIndex(t, false)
	ix.SetBlacklist(stubBlacklist{1: true})

	_, err := ix.GetVectorByID(1)
	assert.ErrorIs(t, err, index.ErrIDNotFound)

	hits, err := ix.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, core.UserID(1), h.ID)
	}
}

func TestSerializeLoadRoundtrip(t *testing.T) {
	ix := trainedIndex(t, true)

	var buf bytes.Buffer
	require.NoError(t, ix.Serialize(&buf))

	loaded, err := Load(&buf, index.Spec{Dimension: 2, Metric: core.MetricL2})
	require.NoError(t, err)
	assert.Equal(t, ix.Count(), loaded.Count())

	v, err := loaded.GetVectorByID(3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{10, 10}, v, 0.5)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte{1, 2, 3, 4}), index.Spec{Dimension: 2})
	assert.ErrorIs(t, err, index.ErrCorrupt)
}

type stubBlacklist map[core.UserID]bool

func (s stubBlacklist) Contains(id core.UserID) bool { return s[id] }
