// Package ivf provides the inverted-file scaffold shared by the IVF_FLAT,
// IVF_SQ8, IVF_SQ8H, and IVF_PQ families: a k-means coarse quantizer that
// partitions the vector space into NumLists cells, plus the list-probing
// walk every IVF search performs.
package ivf

import (
	"math"

	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/metric"
)

// Quantizer is a trained coarse quantizer: a fixed set of centroids used to
// assign each vector to its nearest list.
type Quantizer struct {
	Centroids [][]float32
	dist      metric.Func
}

// NewQuantizer wraps a set of previously trained centroids (e.g. loaded
// from a serialized index) with the distance function needed to assign and
// probe against them.
func NewQuantizer(centroids [][]float32, m core.Metric) *Quantizer {
	return &Quantizer{Centroids: centroids, dist: metric.For(m)}
}

// TrainKMeans runs Lloyd's algorithm for iters iterations over vectors and
// returns a Quantizer with numLists centroids. Centroids are seeded by
// taking an evenly spaced sample of the training set (a cheap stand-in for
// k-means++ that is deterministic given a fixed training sample).
func TrainKMeans(vectors [][]float32, numLists, iters int, m core.Metric) *Quantizer {
	if numLists > len(vectors) {
		numLists = len(vectors)
	}
	if numLists < 1 {
		numLists = 1
	}
	dim := len(vectors[0])
	centroids := make([][]float32, numLists)
	stride := len(vectors) / numLists
	for i := 0; i < numLists; i++ {
		src := vectors[i*stride]
		c := make([]float32, dim)
		copy(c, src)
		centroids[i] = c
	}

	dist := metric.For(m)
	for iter := 0; iter < iters; iter++ {
		sums := make([][]float32, numLists)
		counts := make([]int, numLists)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for _, v := range vectors {
			best := nearest(centroids, v, dist)
			metric.Add(sums[best], v)
			counts[best]++
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			metric.Scale(sums[i], 1.0/float32(counts[i]))
			centroids[i] = sums[i]
		}
	}
	return &Quantizer{Centroids: centroids, dist: dist}
}

func nearest(centroids [][]float32, v []float32, dist metric.Func) int {
	best := 0
	bestScore := float32(math.MaxFloat32)
	for i, c := range centroids {
		s := dist(v, c)
		if s < bestScore {
			bestScore = s
			best = i
		}
	}
	return best
}

// Assign returns the index of the list v is assigned to.
func (q *Quantizer) Assign(v []float32) int {
	return nearest(q.Centroids, v, q.dist)
}

// Probe returns the indices of the nProbes lists closest to v, best first.
func (q *Quantizer) Probe(v []float32, nProbes int) []int {
	type cd struct {
		idx  int
		dist float32
	}
	scored := make([]cd, len(q.Centroids))
	for i, c := range q.Centroids {
		scored[i] = cd{i, q.dist(v, c)}
	}
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].dist < scored[j-1].dist; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if nProbes > len(scored) || nProbes <= 0 {
		nProbes = len(scored)
	}
	out := make([]int, nProbes)
	for i := 0; i < nProbes; i++ {
		out[i] = scored[i].idx
	}
	return out
}

// NumLists returns the number of trained centroids.
func (q *Quantizer) NumLists() int { return len(q.Centroids) }
