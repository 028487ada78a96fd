// Package query implements the fan-out query executor: resolving a
// table/partition pattern to a set of segments, searching each segment's
// index concurrently, and merging the per-segment results into a single
// top-k ranking.
package query

import (
	"container/heap"

	"github.com/nanovec/vecengine/core"
)

// maxHeap is a bounded max-heap over core.ScoredID ordered by Score, used
// to keep only the current best K candidates while merging many segments'
// results: a candidate worse than the heap's current worst (the root) is
// dropped without ever growing the heap past K. Ties break on UserID so
// merge order across segments never changes the result for equal scores.
type maxHeap []core.ScoredID

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score
	}
	return h[i].ID > h[j].ID
}
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)   { *h = append(*h, x.(core.ScoredID)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopKMerger accumulates ScoredID candidates from multiple segment
// searches and returns the best K overall, best-first.
type TopKMerger struct {
	k int
	h maxHeap
}

// NewTopKMerger returns a merger that keeps the best k candidates.
func NewTopKMerger(k int) *TopKMerger {
	return &TopKMerger{k: k}
}

// Offer considers a batch of candidates (already sorted or not — order
// does not matter) from one segment's search result.
func (m *TopKMerger) Offer(hits []core.ScoredID) {
	for _, h := range hits {
		m.offerOne(h)
	}
}

func (m *TopKMerger) offerOne(h core.ScoredID) {
	if m.h.Len() < m.k {
		heap.Push(&m.h, h)
		return
	}
	if m.h.Len() == 0 {
		return
	}
	worst := m.h[0]
	if h.Score < worst.Score || (h.Score == worst.Score && h.ID < worst.ID) {
		heap.Pop(&m.h)
		heap.Push(&m.h, h)
	}
}

// Result drains the merger into a best-first slice. The merger is
// unusable afterward.
func (m *TopKMerger) Result() []core.ScoredID {
	n := m.h.Len()
	out := make([]core.ScoredID, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(&m.h).(core.ScoredID)
	}
	return out
}
