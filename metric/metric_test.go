package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/core"
)

func TestL2Identical(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	assert.Equal(t, float32(0), L2(a, a))
}

func TestL2Orthogonal(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	assert.Equal(t, float32(2), L2(a, b))
}

func TestInnerProductOrdering(t *testing.T) {
	q := []float32{1, 0}
	closer := []float32{1, 0}
	farther := []float32{0, 1}
	assert.Less(t, InnerProduct(q, closer), InnerProduct(q, farther))
}

func TestForDispatch(t *testing.T) {
	require.NotNil(t, For(core.MetricL2))
	require.NotNil(t, For(core.MetricIP))

	a := []float32{1, 2}
	b := []float32{3, 4}
	assert.Equal(t, L2(a, b), For(core.MetricL2)(a, b))
	assert.Equal(t, InnerProduct(a, b), For(core.MetricIP)(a, b))
}

func TestNorm(t *testing.T) {
	assert.Equal(t, float32(5), Norm([]float32{3, 4}))
}

func TestAddAndScale(t *testing.T) {
	a := []float32{1, 2, 3}
	Add(a, []float32{10, 10, 10})
	assert.Equal(t, []float32{11, 12, 13}, a)

	Scale(a, 2)
	assert.Equal(t, []float32{22, 24, 26}, a)
}
