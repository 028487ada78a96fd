// Package flat implements index.Index as an exhaustive, untrained linear
// scan. It is the simplest family and the baseline every other family is
// benchmarked against.
package flat

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
	"github.com/nanovec/vecengine/metric"
)

const magic uint32 = 0x46_4c_41_54 // "FLAT"

// Index is a flat ANN index: every vector is kept resident and Search
// performs a full linear scan scored by the configured metric.
type Index struct {
	mu        sync.RWMutex
	dimension int
	dist      metric.Func
	ids       []core.UserID
	vectors   [][]float32
	positions map[core.UserID]int
	blacklist index.Blacklist
}

// New constructs an untrained, empty flat index for the given spec.
func New(spec index.Spec) *Index {
	return &Index{
		dimension: spec.Dimension,
		dist:      metric.For(spec.Metric),
		positions: make(map[core.UserID]int),
		blacklist: noneBlacklisted{},
	}
}

// Train is a no-op: flat indexes have no data-dependent structures.
func (ix *Index) Train(vectors [][]float32) error { return nil }

func (ix *Index) Add(rows []core.VectorRow) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, row := range rows {
		if len(row.Vector) != ix.dimension {
			return index.ErrDimensionMismatch
		}
		ix.positions[row.ID] = len(ix.ids)
		ix.ids = append(ix.ids, row.ID)
		ix.vectors = append(ix.vectors, row.Vector)
	}
	return nil
}

func (ix *Index) Search(query []float32, topK int) ([]core.ScoredID, error) {
	if len(query) != ix.dimension {
		return nil, index.ErrDimensionMismatch
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]core.ScoredID, 0, len(ix.ids))
	bl := ix.blacklist
	for i, id := range ix.ids {
		if bl != nil && bl.Contains(id) {
			continue
		}
		hits = append(hits, core.ScoredID{ID: id, Score: ix.dist(query, ix.vectors[i])})
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
	pos, ok := ix.positions[id]
	if !ok {
		return nil, index.ErrIDNotFound
	}
	return ix.vectors[pos], nil
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
	return len(ix.ids)
}

func (ix *Index) CopyToGPU(deviceID int) error { return index.ErrGPUUnsupported }
func (ix *Index) CopyToCPU() error             { return index.ErrGPUUnsupported }

// Serialize writes a minimal header followed by every (id, vector) pair in
// insertion order. Blacklist state is persisted separately by the segment
// store, not here.
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
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(ix.ids))); err != nil {
		return err
	}
	for i, id := range ix.ids {
		if err := binary.Write(bw, binary.LittleEndian, int64(id)); err != nil {
			return err
		}
		for _, f := range ix.vectors[i] {
			if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Load reconstructs a flat index previously written by Serialize.
func Load(r io.Reader, spec index.Spec) (index.Index, error) {
	br := bufio.NewReader(r)
	var gotMagic, dim uint32
	if err := binary.Read(br, binary.LittleEndian, &gotMagic); err != nil {
		return nil, err
	}
	if gotMagic != magic {
		return nil, index.ErrCorrupt
	}
	if err := binary.Read(br, binary.LittleEndian, &dim); err != nil {
		return nil, err
	}
	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	ix := New(spec)
	ix.dimension = int(dim)
	ix.ids = make([]core.UserID, 0, count)
	ix.vectors = make([][]float32, 0, count)
	for i := uint64(0); i < count; i++ {
		var id int64
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return nil, err
		}
		vec := make([]float32, dim)
		for j := range vec {
			if err := binary.Read(br, binary.LittleEndian, &vec[j]); err != nil {
				return nil, err
			}
		}
		ix.positions[core.UserID(id)] = len(ix.ids)
		ix.ids = append(ix.ids, core.UserID(id))
		ix.vectors = append(ix.vectors, vec)
	}
	return ix, nil
}

type noneBlacklisted struct{}

func (noneBlacklisted) Contains(core.UserID) bool { return false }
