// Package ivfflat implements the IVF_FLAT family: vectors are partitioned
// into inverted lists by a trained coarse quantizer, and each list is
// scanned exhaustively at search time.
package ivfflat

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
	"github.com/nanovec/vecengine/index/ivf"
	"github.com/nanovec/vecengine/metric"
)

const magic uint32 = 0x49_56_46_4c // "IVFL"

const defaultKMeansIters = 25

type listEntry struct {
	id  core.UserID
	vec []float32
}

// Index is an IVF_FLAT index.
type Index struct {
	mu        sync.RWMutex
	dimension  int
	numLists   int
	numProbes  int
	metricKind core.Metric
	dist       metric.Func
	quantizer  *ivf.Quantizer
	lists     [][]listEntry
	positions map[core.UserID]struct{ list, pos int }
	blacklist index.Blacklist
}

// New constructs an untrained IVF_FLAT index for the given spec.
func New(spec index.Spec) *Index {
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
	ix.lists = make([][]listEntry, q.NumLists())
	return nil
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
		list := ix.quantizer.Assign(row.Vector)
		pos := len(ix.lists[list])
		ix.lists[list] = append(ix.lists[list], listEntry{id: row.ID, vec: row.Vector})
		ix.positions[row.ID] = struct{ list, pos int }{list, pos}
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
	var hits []core.ScoredID
	for _, listIdx := range ix.quantizer.Probe(query, ix.numProbes) {
		for _, e := range ix.lists[listIdx] {
			if bl != nil && bl.Contains(e.id) {
				continue
			}
			hits = append(hits, core.ScoredID{ID: e.id, Score: ix.dist(query, e.vec)})
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
	return ix.lists[loc.list][loc.pos].vec, nil
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
	if err := binary.Write(bw, binary.LittleEndian, uint32(ix.numLists)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(ix.numProbes)); err != nil {
		return err
	}
	centroids := ix.quantizer.Centroids
	for _, c := range centroids {
		for _, f := range c {
			if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
				return err
			}
		}
	}
	for _, list := range ix.lists {
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(list))); err != nil {
			return err
		}
		for _, e := range list {
			if err := binary.Write(bw, binary.LittleEndian, int64(e.id)); err != nil {
				return err
			}
			for _, f := range e.vec {
				if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
					return err
				}
			}
		}
	}
	return bw.Flush()
}

// Load reconstructs an IVF_FLAT index previously written by Serialize.
func Load(r io.Reader, spec index.Spec) (index.Index, error) {
	br := bufio.NewReader(r)
	var got, dim, numLists, numProbes uint32
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

	ix := New(spec)
	ix.dimension = int(dim)
	ix.numLists = int(numLists)
	ix.numProbes = int(numProbes)

	centroids := make([][]float32, numLists)
	for i := range centroids {
		c := make([]float32, dim)
		for j := range c {
			if err := binary.Read(br, binary.LittleEndian, &c[j]); err != nil {
				return nil, err
			}
		}
		centroids[i] = c
	}
	ix.quantizer = ivf.NewQuantizer(centroids, ix.metricKind)
	ix.lists = make([][]listEntry, numLists)

	for li := range ix.lists {
		var n uint64
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		list := make([]listEntry, 0, n)
		for i := uint64(0); i < n; i++ {
			var rawID int64
			if err := binary.Read(br, binary.LittleEndian, &rawID); err != nil {
				return nil, err
			}
			vec := make([]float32, dim)
			for j := range vec {
				if err := binary.Read(br, binary.LittleEndian, &vec[j]); err != nil {
					return nil, err
				}
			}
			id := core.UserID(rawID)
			ix.positions[id] = struct{ list, pos int }{li, len(list)}
			list = append(list, listEntry{id: id, vec: vec})
		}
		ix.lists[li] = list
	}
	return ix, nil
}

type noneBlacklisted struct{}

func (noneBlacklisted) Contains(core.UserID) bool { return false }
