// Package metric implements the distance functions used by every index
// family to train, quantize, and score vectors.
package metric

import (
	"math"

	"github.com/nanovec/vecengine/core"
)

// Func computes a distance (or similarity, for IP) between two equal-length
// vectors. Callers never mix Funcs from different Metrics when comparing
// scores.
type Func func(a, b []float32) float32

// For returns the Func for the given metric.
func For(m core.Metric) Func {
	switch m {
	case core.MetricIP:
		return InnerProduct
	default:
		return L2
	}
}

// L2 returns the squared Euclidean distance. The square root is omitted
// deliberately: it is monotonic and every caller only compares distances
// within a single query, never against an absolute threshold.
func L2(a, b []float32) float32 {
	var sum float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		sum += d0*d0 + d1*d1 + d2*d2 + d3*d3
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// InnerProduct returns the negated dot product, so that smaller is always
// "closer" regardless of metric, matching L2's ordering convention for
// min-heaps in the query path.
func InnerProduct(a, b []float32) float32 {
	var sum float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		sum += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return -sum
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return float32(math.Sqrt(float64(sum)))
}

// Add accumulates b into a in place.
func Add(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}

// Scale multiplies every element of v by s in place.
func Scale(v []float32, s float32) {
	for i := range v {
		v[i] *= s
	}
}
