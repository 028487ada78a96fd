package flat

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
)

func sampleRows() []core.VectorRow {
	return []core.VectorRow{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{1, 0}},
		{ID: 3, Vector: []float32{5, 5}},
	}
}

func TestSearchOrdersByDistance(t *testing.T) {
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2})
	require.NoError(t, ix.Add(sampleRows()))

	hits, err := ix.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, core.UserID(1), hits[0].ID)
	assert.Equal(t, core.UserID(2), hits[1].ID)
	assert.Equal(t, core.UserID(3), hits[2].ID)
}

func TestSearchRespectsTopK(t *testing.T) {
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2})
	require.NoError(t, ix.Add(sampleRows()))

	hits, err := ix.Search([]float32{0, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Equal(t, core.UserID(1), hits[0].ID)
}

func TestSearchDimensionMismatch(t *testing.T) {
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2})
	_, err := ix.Search([]float32{1, 2, 3}, 1)
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestAddDimensionMismatch(t *testing.T) {
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2})
	err := ix.Add([]core.VectorRow{{ID: 1, Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestGetVectorByIDNotFound(t *testing.T) {
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2})
	_, err := ix.GetVectorByID(99)
	assert.ErrorIs(t, err, index.ErrIDNotFound)
}

func TestBlacklistExcludesFromSearchAndGet(t *testing.T) {
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2})
	require.NoError(t, ix.Add(sampleRows()))
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
	ix := New(index.Spec{Dimension: 2, Metric: core.MetricL2})
	require.NoError(t, ix.Add(sampleRows()))

	var buf bytes.Buffer
	require.NoError(t, ix.Serialize(&buf))

	loaded, err := Load(&buf, index.Spec{Dimension: 2, Metric: core.MetricL2})
	require.NoError(t, err)
	assert.Equal(t, ix.Count(), loaded.(*Index).Count())

	hits, err := loaded.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, core.UserID(1), hits[0].ID)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte{0, 0, 0, 0}), index.Spec{Dimension: 2})
	assert.ErrorIs(t, err, index.ErrCorrupt)
}

type stubBlacklist map[core.UserID]bool

func (s stubBlacklist) Contains(id core.UserID) bool { return s[id] }
