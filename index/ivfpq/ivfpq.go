// Package ivfpq implements the IVF_PQ family: an IVF coarse quantizer over
// residual vectors, followed by product quantization of each residual into
// M subvector codes. Search answers via asymmetric distance computation
// (ADC) against a per-query, per-subvector distance table, avoiding any
// decode of the stored codes.
package ivfpq

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
	"github.com/nanovec/vecengine/index/ivf"
	"github.com/nanovec/vecengine/metric"
)

const magic uint32 = 0x49_56_50_51 // "IVPQ"

const (
	defaultKMeansIters  = 25
	defaultPQIters      = 15
	maxCentroidsPerSub  = 256
)

// codebook holds the trained centroids for one PQ subvector.
type codebook struct {
	centroids [][]float32 // len <= maxCentroidsPerSub, each of length subDim
}

type entry struct {
	id    core.UserID
	codes []uint8 // one byte per subquantizer
}

// Index is an IVF_PQ index.
type Index struct {
	mu          sync.RWMutex
	dimension   int
	numLists    int
	numProbes   int
	numSub      int
	subDim      int
	numCentroids int
	metricKind  core.Metric
	dist        metric.Func
	quantizer   *ivf.Quantizer
	codebooks   []codebook // len == numSub, shared across all lists
	lists       [][]entry
	positions   map[core.UserID]struct{ list, pos int }
	blacklist   index.Blacklist
}

// New constructs an untrained IVF_PQ index for the given spec.
func New(spec index.Spec) *Index {
	numLists := spec.NumLists
	if numLists <= 0 {
		numLists = 100
	}
	numProbes := spec.NumProbes
	if numProbes <= 0 {
		numProbes = 8
	}
	numSub := spec.NumSubquantizers
	if numSub <= 0 {
		numSub = 8
	}
	for spec.Dimension%numSub != 0 && numSub > 1 {
		numSub--
	}
	return &Index{
		dimension:    spec.Dimension,
		numLists:     numLists,
		numProbes:    numProbes,
		numSub:       numSub,
		subDim:       spec.Dimension / numSub,
		numCentroids: maxCentroidsPerSub,
		metricKind:   spec.Metric,
		dist:         metric.For(spec.Metric),
		positions:    make(map[core.UserID]struct{ list, pos int }),
		blacklist:    noneBlacklisted{},
	}
}

func (ix *Index) subvector(v []float32, sub int) []float32 {
	return v[sub*ix.subDim : (sub+1)*ix.subDim]
}

// Train fits the coarse quantizer on the raw vectors, then fits one PQ
// codebook per subvector on the residuals (vector minus assigned centroid)
// of the same training set.
func (ix *Index) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	q := ivf.TrainKMeans(vectors, ix.numLists, defaultKMeansIters, ix.metricKind)
	ix.quantizer = q
	ix.lists = make([][]entry, q.NumLists())

	residuals := make([][]float32, len(vectors))
	for i, v := range vectors {
		residuals[i] = residual(v, q.Centroids[q.Assign(v)])
	}

	numCentroids := ix.numCentroids
	if numCentroids > len(vectors) {
		numCentroids = len(vectors)
	}
	ix.codebooks = make([]codebook, ix.numSub)
	for s := 0; s < ix.numSub; s++ {
		sample := make([][]float32, len(residuals))
		for i, r := range residuals {
			sample[i] = ix.subvector(r, s)
		}
		ix.codebooks[s] = trainSubCodebook(sample, numCentroids, defaultPQIters, ix.metricKind)
	}
	return nil
}

func residual(v, centroid []float32) []float32 {
	r := make([]float32, len(v))
	for i := range v {
		r[i] = v[i] - centroid[i]
	}
	return r
}

func trainSubCodebook(sample [][]float32, k, iters int, m core.Metric) codebook {
	q := ivf.TrainKMeans(sample, k, iters, m)
	return codebook{centroids: q.Centroids}
}

func nearestCentroid(centroids [][]float32, v []float32, dist metric.Func) (int, float32) {
	best := 0
	bestScore := float32(math.MaxFloat32)
	for i, c := range centroids {
		s := dist(v, c)
		if s < bestScore {
			bestScore = s
			best = i
		}
	}
	return best, bestScore
}

func (ix *Index) encode(resid []float32) []uint8 {
	codes := make([]uint8, ix.numSub)
	for s := 0; s < ix.numSub; s++ {
		sub := ix.subvector(resid, s)
		c, _ := nearestCentroid(ix.codebooks[s].centroids, sub, ix.dist)
		codes[s] = uint8(c)
	}
	return codes
}

func (ix *Index) decode(codes []uint8) []float32 {
	out := make([]float32, ix.dimension)
	for s, c := range codes {
		copy(out[s*ix.subDim:(s+1)*ix.subDim], ix.codebooks[s].centroids[c])
	}
	return out
}

func (ix *Index) Add(rows []core.VectorRow) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.quantizer == nil {
		return index.ErrNotTrained
	}
	for _, row := range rows {
		if len(row.Vector) != ix.dimension {
			return index.ErrDimensionMismatch
		}
		li := ix.quantizer.Assign(row.Vector)
		resid := residual(row.Vector, ix.quantizer.Centroids[li])
		codes := ix.encode(resid)
		pos := len(ix.lists[li])
		ix.lists[li] = append(ix.lists[li], entry{id: row.ID, codes: codes})
		ix.positions[row.ID] = struct{ list, pos int }{li, pos}
	}
	return nil
}

// distanceTable precomputes, for one probed list's residualized query, the
// distance from each subvector of the query to every centroid in that
// subquantizer's codebook — the ADC lookup table.
func (ix *Index) distanceTable(qResid []float32) [][]float32 {
	table := make([][]float32, ix.numSub)
	for s := 0; s < ix.numSub; s++ {
		sub := ix.subvector(qResid, s)
		cb := ix.codebooks[s].centroids
		row := make([]float32, len(cb))
		for c, centroid := range cb {
			row[c] = ix.dist(sub, centroid)
		}
		table[s] = row
	}
	return table
}

func (ix *Index) adcScore(table [][]float32, codes []uint8) float32 {
	var sum float32
	for s, c := range codes {
		sum += table[s][c]
	}
	return sum
}

func (ix *Index) Search(query []float32, topK int) ([]core.ScoredID, error) {
	if len(query) != ix.dimension {
		return nil, index.ErrDimensionMismatch
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.quantizer == nil {
		return nil, index.ErrNotTrained
	}

	bl := ix.blacklist
	var hits []core.ScoredID
	for _, li := range ix.quantizer.Probe(query, ix.numProbes) {
		qResid := residual(query, ix.quantizer.Centroids[li])
		table := ix.distanceTable(qResid)
		for _, e := range ix.lists[li] {
			if bl != nil && bl.Contains(e.id) {
				continue
			}
			hits = append(hits, core.ScoredID{ID: e.id, Score: ix.adcScore(table, e.codes)})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (ix *Index) SearchByID(id core.UserID, topK int) ([]core.ScoredID, error) {
	vec, err := ix.GetVectorByID(id)
	if err != nil {
		return nil, err
	}
	return ix.Search(vec, topK)
}

func (ix *Index) GetVectorByID(id core.UserID) ([]float32, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.blacklist != nil && ix.blacklist.Contains(id) {
		return nil, index.ErrIDNotFound
	}
	loc, ok := ix.positions[id]
	if !ok {
		return nil, index.ErrIDNotFound
	}
	e := ix.lists[loc.list][loc.pos]
	resid := ix.decode(e.codes)
	centroid := ix.quantizer.Centroids[loc.list]
	out := make([]float32, ix.dimension)
	for i := range out {
		out[i] = resid[i] + centroid[i]
	}
	return out, nil
}

func (ix *Index) SetBlacklist(bl index.Blacklist) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.blacklist = bl
}

func (ix *Index) GetBlacklist() index.Blacklist {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.blacklist
}

func (ix *Index) Dimension() int { return ix.dimension }

func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.positions)
}

func (ix *Index) CopyToGPU(deviceID int) error { return index.ErrGPUUnsupported }
func (ix *Index) CopyToCPU() error             { return index.ErrGPUUnsupported }

func (ix *Index) Serialize(w io.Writer) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(ix.dimension)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(ix.lists))); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(ix.numProbes)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(ix.numSub)); err != nil {
		return err
	}
	for _, c := range ix.quantizer.Centroids {
		if err := writeFloats(bw, c); err != nil {
			return err
		}
	}
	for _, cb := range ix.codebooks {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(cb.centroids))); err != nil {
			return err
		}
		for _, c := range cb.centroids {
			if err := writeFloats(bw, c); err != nil {
				return err
			}
		}
	}
	for _, l := range ix.lists {
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(l))); err != nil {
			return err
		}
		for _, e := range l {
			if err := binary.Write(bw, binary.LittleEndian, int64(e.id)); err != nil {
				return err
			}
			if _, err := bw.Write(e.codes); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func writeFloats(w io.Writer, fs []float32) error {
	for _, f := range fs {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readFloats(r io.Reader, n int) ([]float32, error) {
	out := make([]float32, n)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Load reconstructs an index previously written by Serialize.
func Load(r io.Reader, spec index.Spec) (index.Index, error) {
	br := bufio.NewReader(r)
	var got, dim, numLists, numProbes, numSub uint32
	if err := binary.Read(br, binary.LittleEndian, &got); err != nil {
		return nil, err
	}
	if got != magic {
		return nil, index.ErrCorrupt
	}
	if err := binary.Read(br, binary.LittleEndian, &dim); err != nil {
		return nil, err
	}
	if err := binary.Read(br, binary.LittleEndian, &numLists); err != nil {
		return nil, err
	}
	if err := binary.Read(br, binary.LittleEndian, &numProbes); err != nil {
		return nil, err
	}
	if err := binary.Read(br, binary.LittleEndian, &numSub); err != nil {
		return nil, err
	}

	ix := New(spec)
	ix.dimension = int(dim)
	ix.numLists = int(numLists)
	ix.numProbes = int(numProbes)
	ix.numSub = int(numSub)
	ix.subDim = int(dim) / int(numSub)

	centroids := make([][]float32, numLists)
	for i := range centroids {
		c, err := readFloats(br, int(dim))
		if err != nil {
			return nil, err
		}
		centroids[i] = c
	}
	ix.quantizer = ivf.NewQuantizer(centroids, ix.metricKind)

	ix.codebooks = make([]codebook, numSub)
	for s := range ix.codebooks {
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		cents := make([][]float32, n)
		for i := range cents {
			c, err := readFloats(br, ix.subDim)
			if err != nil {
				return nil, err
			}
			cents[i] = c
		}
		ix.codebooks[s] = codebook{centroids: cents}
	}

	ix.lists = make([][]entry, numLists)
	for li := range ix.lists {
		var n uint64
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		list := make([]entry, n)
		for i := range list {
			var rawID int64
			if err := binary.Read(br, binary.LittleEndian, &rawID); err != nil {
				return nil, err
			}
			codes := make([]uint8, numSub)
			if _, err := io.ReadFull(br, codes); err != nil {
				return nil, err
			}
			list[i] = entry{id: core.UserID(rawID), codes: codes}
			ix.positions[list[i].id] = struct{ list, pos int }{li, i}
		}
		ix.lists[li] = list
	}
	return ix, nil
}

type noneBlacklisted struct{}

func (noneBlacklisted) Contains(core.UserID) bool { return false }
