// Package ivfsq8 implements both the IVF_SQ8 and IVF_SQ8H families: an IVF
// coarse quantizer over residual vectors that are then compressed with
// per-dimension uniform 8-bit scalar quantization. IVF_SQ8H additionally
// takes the top refine-factor*k candidates and sorts them a second time by
// the same quantized distance; only the codes are stored, so no exact
// residual is available and its ranking is the same as IVF_SQ8's apart
// from the order of ties.
package ivfsq8

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

const magic uint32 = 0x53_51_38_48 // "SQ8H"

const (
	defaultKMeansIters = 25
	defaultRefineFactor = 4
)

type entry struct {
	id    core.UserID
	codes []uint8
}

type list struct {
	min, scale []float32 // per-dimension dequantization parameters for this list's residuals
	entries    []entry
}

// Index is an IVF_SQ8 (heap-refine variant IVF_SQ8H when heuristic is set)
// index.
type Index struct {
	mu         sync.RWMutex
	dimension  int
	numLists   int
	numProbes  int
	heuristic  bool
	metricKind core.Metric
	dist       metric.Func
	quantizer  *ivf.Quantizer
	lists      []*list
	positions  map[core.UserID]struct{ list, pos int }
	blacklist  index.Blacklist
}

// New constructs an untrained index. heuristic selects IVF_SQ8H's
// heap-refine search strategy; false gives plain IVF_SQ8.
func New(spec index.Spec, heuristic bool) *Index {
	numLists := spec.NumLists
	if numLists <= 0 {
		numLists = 100
	}
	numProbes := spec.NumProbes
	if numProbes <= 0 {
		numProbes = 8
	}
	return &Index{
		dimension:  spec.Dimension,
		numLists:   numLists,
		numProbes:  numProbes,
		heuristic:  heuristic,
		metricKind: spec.Metric,
		dist:       metric.For(spec.Metric),
		positions:  make(map[core.UserID]struct{ list, pos int }),
		blacklist:  noneBlacklisted{},
	}
}

func (ix *Index) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	q := ivf.TrainKMeans(vectors, ix.numLists, defaultKMeansIters, ix.metricKind)
	ix.quantizer = q
	ix.lists = make([]*list, q.NumLists())
	for i := range ix.lists {
		ix.lists[i] = &list{min: make([]float32, ix.dimension), scale: make([]float32, ix.dimension)}
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

func encode(r []float32, min, scale []float32) []uint8 {
	codes := make([]uint8, len(r))
	for i, x := range r {
		if scale[i] == 0 {
			codes[i] = 0
			continue
		}
		q := (x - min[i]) / scale[i] * 255.0
		if q < 0 {
			q = 0
		}
		if q > 255 {
			q = 255
		}
		codes[i] = uint8(q)
	}
	return codes
}

func decode(codes []uint8, min, scale []float32) []float32 {
	out := make([]float32, len(codes))
	for i, c := range codes {
		out[i] = min[i] + float32(c)/255.0*scale[i]
	}
	return out
}

// Add appends rows, quantizing each vector's residual against its assigned
// list. Per-list min/scale are refit from scratch over that list's
// residuals whenever new rows are added, since SQ8's codebook is just the
// list's observed residual range rather than a separately trained model.
func (ix *Index) Add(rows []core.VectorRow) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.quantizer == nil {
		return index.ErrNotTrained
	}
	byList := make(map[int][]core.VectorRow)
	for _, row := range rows {
		if len(row.Vector) != ix.dimension {
			return index.ErrDimensionMismatch
		}
		li := ix.quantizer.Assign(row.Vector)
		byList[li] = append(byList[li], row)
	}
	for li, newRows := range byList {
		l := ix.lists[li]
		centroid := ix.quantizer.Centroids[li]

		residuals := make([][]float32, 0, len(l.entries)+len(newRows))
		for _, e := range l.entries {
			residuals = append(residuals, decode(e.codes, l.min, l.scale))
		}
		for _, row := range newRows {
			residuals = append(residuals, residual(row.Vector, centroid))
		}

		min := make([]float32, ix.dimension)
		max := make([]float32, ix.dimension)
		for d := 0; d < ix.dimension; d++ {
			min[d] = float32(math.MaxFloat32)
			max[d] = -float32(math.MaxFloat32)
		}
		for _, r := range residuals {
			for d, x := range r {
				if x < min[d] {
					min[d] = x
				}
				if x > max[d] {
					max[d] = x
				}
			}
		}
		scale := make([]float32, ix.dimension)
		for d := range scale {
			scale[d] = max[d] - min[d]
		}
		l.min, l.scale = min, scale

		newEntries := make([]entry, len(residuals))
		for i, r := range residuals {
			newEntries[i] = entry{codes: encode(r, min, scale)}
		}
		for i := range l.entries {
			newEntries[i].id = l.entries[i].id
		}
		for i, row := range newRows {
			idx := len(l.entries) + i
			newEntries[idx].id = row.ID
			ix.positions[row.ID] = struct{ list, pos int }{li, idx}
		}
		l.entries = newEntries
	}
	return nil
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
	type cand struct {
		id      core.UserID
		approx  float32
		residQ  []float32
		resid   []float32
	}
	var cands []cand
	for _, li := range ix.quantizer.Probe(query, ix.numProbes) {
		l := ix.lists[li]
		centroid := ix.quantizer.Centroids[li]
		qResidual := residual(query, centroid)
		for _, e := range l.entries {
			if bl != nil && bl.Contains(e.id) {
				continue
			}
			approxResid := decode(e.codes, l.min, l.scale)
			score := ix.dist(qResidual, approxResid)
			cands = append(cands, cand{id: e.id, approx: score, resid: qResidual, residQ: approxResid})
		}
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].approx < cands[j].approx })

	if !ix.heuristic || len(cands) <= topK {
		hits := make([]core.ScoredID, 0, topK)
		for i := 0; i < len(cands) && i < topK; i++ {
			hits = append(hits, core.ScoredID{ID: cands[i].id, Score: cands[i].approx})
		}
		return hits, nil
	}

	// IVF_SQ8H: re-sort only the top refine-factor*k approximate candidates
	// by the distance between the query residual and their decoded residual,
	// which is the same value as their approximate score.
	refineN := topK * defaultRefineFactor
	if refineN > len(cands) {
		refineN = len(cands)
	}
	top := cands[:refineN]
	sort.Slice(top, func(i, j int) bool {
		return ix.dist(top[i].resid, top[i].residQ) < ix.dist(top[j].resid, top[j].residQ)
	})
	hits := make([]core.ScoredID, 0, topK)
	for i := 0; i < len(top) && i < topK; i++ {
		hits = append(hits, core.ScoredID{ID: top[i].id, Score: ix.dist(top[i].resid, top[i].residQ)})
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
	l := ix.lists[loc.list]
	e := l.entries[loc.pos]
	resid := decode(e.codes, l.min, l.scale)
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
	heuristicByte := uint8(0)
	if ix.heuristic {
		heuristicByte = 1
	}
	if err := binary.Write(bw, binary.LittleEndian, heuristicByte); err != nil {
		return err
	}
	for _, c := range ix.quantizer.Centroids {
		if err := writeFloats(bw, c); err != nil {
			return err
		}
	}
	for _, l := range ix.lists {
		if err := writeFloats(bw, l.min); err != nil {
			return err
		}
		if err := writeFloats(bw, l.scale); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(l.entries))); err != nil {
			return err
		}
		for _, e := range l.entries {
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
	var got, dim, numLists, numProbes uint32
	var heuristicByte uint8
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
	if err := binary.Read(br, binary.LittleEndian, &heuristicByte); err != nil {
		return nil, err
	}

	ix := New(spec, heuristicByte == 1)
	ix.dimension = int(dim)
	ix.numLists = int(numLists)
	ix.numProbes = int(numProbes)

	centroids := make([][]float32, numLists)
	for i := range centroids {
		c, err := readFloats(br, int(dim))
		if err != nil {
			return nil, err
		}
		centroids[i] = c
	}
	ix.quantizer = ivf.NewQuantizer(centroids, ix.metricKind)
	ix.lists = make([]*list, numLists)

	for li := range ix.lists {
		min, err := readFloats(br, int(dim))
		if err != nil {
			return nil, err
		}
		scale, err := readFloats(br, int(dim))
		if err != nil {
			return nil, err
		}
		var n uint64
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		entries := make([]entry, n)
		for i := range entries {
			var rawID int64
			if err := binary.Read(br, binary.LittleEndian, &rawID); err != nil {
				return nil, err
			}
			codes := make([]uint8, dim)
			if _, err := io.ReadFull(br, codes); err != nil {
				return nil, err
			}
			entries[i] = entry{id: core.UserID(rawID), codes: codes}
			ix.positions[entries[i].id] = struct{ list, pos int }{li, i}
		}
		ix.lists[li] = &list{min: min, scale: scale, entries: entries}
	}
	return ix, nil
}

type noneBlacklisted struct{}

func (noneBlacklisted) Contains(core.UserID) bool { return false }
