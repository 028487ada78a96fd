package ivf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/core"
)

func clusteredVectors() [][]float32 {
	var out [][]float32
	for i := 0; i < 10; i++ {
		out = append(out, []float32{0, 0})
	}
	for i := 0; i < 10; i++ {
		out = append(out, []float32{10, 10})
	}
	return out
}

func TestTrainKMeansProducesRequestedNumLists(t *testing.T) {
	q := TrainKMeans(clusteredVectors(), 2, 5, core.MetricL2)
	assert.Equal(t, 2, q.NumLists())
}

func TestTrainKMeansClampsNumListsToSampleSize(t *testing.T) {
	q := TrainKMeans(clusteredVectors()[:3], 10, 5, core.MetricL2)
	assert.Equal(t, 3, q.NumLists())
}

func TestTrainKMeansSeparatesDistinctClusters(t *testing.T) {
	q := TrainKMeans(clusteredVectors(), 2, 10, core.MetricL2)

	a := q.Assign([]float32{0, 0})
	b := q.Assign([]float32{10, 10})
	assert.NotEqual(t, a, b)
}

func TestAssignPicksNearestCentroid(t *testing.T) {
	q := NewQuantizer([][]float32{{0, 0}, {100, 100}}, core.MetricL2)
	assert.Equal(t, 0, q.Assign([]float32{1, 1}))
	assert.Equal(t, 1, q.Assign([]float32{99, 99}))
}

func TestProbeReturnsClosestListsFirst(t *testing.T) {
	q := NewQuantizer([][]float32{{0, 0}, {5, 5}, {100, 100}}, core.MetricL2)

	probed := q.Probe([]float32{1, 1}, 2)
	require.Len(t, probed, 2)
	assert.Equal(t, 0, probed[0])
	assert.Equal(t, 1, probed[1])
}

func TestProbeClampsToNumLists(t *testing.T) {
	q := NewQuantizer([][]float32{{0, 0}, {5, 5}}, core.MetricL2)
	probed := q.Probe([]float32{0, 0}, 99)
	assert.Len(t, probed, 2)
}
