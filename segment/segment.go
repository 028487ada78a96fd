// Package segment implements the immutable, on-disk unit of storage: a
// directory holding a segment's raw vectors, raw IDs, blacklist, and
// (once built) its serialized index. Segments move through the RAW ->
// INDEXED -> TO_DELETE lifecycle (an index change sends INDEXED segments
// back to RAW for a rebuild); nothing in this package mutates a segment's
// vector data once written.
package segment

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/nanovec/vecengine/blobstore"
	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
)

const (
	rawVecFile      = "raw.vec"
	rawIDsFile      = "raw.ids"
	blacklistFile   = "blacklist.bits"
	indexFile       = "index.bin"
	metaFile        = "meta.json"
)

// Meta is the segment-level metadata persisted alongside its data files,
// independent of the catalog row (which tracks lifecycle state and row
// counts the scheduler needs without opening the segment itself).
type Meta struct {
	Dimension int         `json:"dimension"`
	Metric    core.Metric `json:"metric"`
	RowCount  int         `json:"row_count"`
	IndexKind *core.IndexKind `json:"index_kind,omitempty"`
}

// Dir returns the blobstore key prefix for a segment's directory.
func Dir(table, tag string, id core.SegmentID) string {
	return fmt.Sprintf("tables/%s/%s/%s", table, tag, id)
}

func keyFor(table, tag string, id core.SegmentID, file string) string {
	return Dir(table, tag, id) + "/" + file
}

// WriteRaw persists a segment's raw vectors and IDs plus its metadata.
// Called once per segment, when it is sealed out of an insert buffer or
// produced by a merge; segments are never appended to afterward.
func WriteRaw(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID, rows []core.VectorRow, m core.Metric) (Meta, error) {
	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0].Vector)
	}
	meta := Meta{Dimension: dim, Metric: m, RowCount: len(rows)}

	var idsBuf bytes.Buffer
	var vecBuf bytes.Buffer
	for _, row := range rows {
		if err := binary.Write(&idsBuf, binary.LittleEndian, int64(row.ID)); err != nil {
			return Meta{}, err
		}
		for _, f := range row.Vector {
			if err := binary.Write(&vecBuf, binary.LittleEndian, f); err != nil {
				return Meta{}, err
			}
		}
	}

	if err := store.Put(ctx, keyFor(table, tag, id, rawIDsFile), &idsBuf); err != nil {
		return Meta{}, err
	}
	if err := store.Put(ctx, keyFor(table, tag, id, rawVecFile), &vecBuf); err != nil {
		return Meta{}, err
	}
	if err := writeMeta(ctx, store, table, tag, id, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

func writeMeta(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID, meta Meta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return store.Put(ctx, keyFor(table, tag, id, metaFile), bytes.NewReader(b))
}

// ReadMeta loads a segment's metadata.
func ReadMeta(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID) (Meta, error) {
	r, err := store.Get(ctx, keyFor(table, tag, id, metaFile))
	if err != nil {
		return Meta{}, err
	}
	defer r.Close()
	var m Meta
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// ReadRows reads back a segment's raw vectors and IDs.
func ReadRows(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID) ([]core.VectorRow, error) {
	meta, err := ReadMeta(ctx, store, table, tag, id)
	if err != nil {
		return nil, err
	}

	idsR, err := store.Get(ctx, keyFor(table, tag, id, rawIDsFile))
	if err != nil {
		return nil, err
	}
	defer idsR.Close()
	ids := make([]core.UserID, meta.RowCount)
	for i := range ids {
		var v int64
		if err := binary.Read(idsR, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		ids[i] = core.UserID(v)
	}

	vecR, err := store.Get(ctx, keyFor(table, tag, id, rawVecFile))
	if err != nil {
		return nil, err
	}
	defer vecR.Close()
	rows := make([]core.VectorRow, meta.RowCount)
	for i := range rows {
		vec := make([]float32, meta.Dimension)
		for j := range vec {
			if err := binary.Read(vecR, binary.LittleEndian, &vec[j]); err != nil {
				return nil, err
			}
		}
		rows[i] = core.VectorRow{ID: ids[i], Vector: vec}
	}
	return rows, nil
}

// WriteIndex serializes idx and persists it zstd-compressed as the
// segment's index.bin, then updates the segment's meta.json to record the
// index kind it was built with.
func WriteIndex(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID, idx index.Index, kind core.IndexKind) error {
	var raw bytes.Buffer
	if err := idx.Serialize(&raw); err != nil {
		return err
	}

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		return err
	}
	if _, err := zw.Write(raw.Bytes()); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	if err := store.Put(ctx, keyFor(table, tag, id, indexFile), &compressed); err != nil {
		return err
	}

	meta, err := ReadMeta(ctx, store, table, tag, id)
	if err != nil {
		return err
	}
	meta.IndexKind = &kind
	return writeMeta(ctx, store, table, tag, id, meta)
}

// ReadIndex loads and decompresses a segment's index.bin via loader, which
// knows how to decode the specific family's binary format.
func ReadIndex(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID, spec index.Spec, loader index.Loader) (index.Index, error) {
	r, err := store.Get(ctx, keyFor(table, tag, id, indexFile))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return loader(zr, spec)
}

// WriteBlacklist persists bl's roaring-bitmap bytes.
func WriteBlacklist(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID, bl *Blacklist) error {
	var buf bytes.Buffer
	if _, err := bl.WriteTo(&buf); err != nil {
		return err
	}
	return store.Put(ctx, keyFor(table, tag, id, blacklistFile), &buf)
}

// ReadBlacklist loads a segment's blacklist, returning an empty one if the
// file does not exist yet (a segment with no deletions never had one
// written).
func ReadBlacklist(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID) (*Blacklist, error) {
	r, err := store.Get(ctx, keyFor(table, tag, id, blacklistFile))
	if err != nil {
		if err == blobstore.ErrNotExist {
			return NewBlacklist(), nil
		}
		return nil, err
	}
	defer r.Close()
	return LoadBlacklist(r)
}

// DeleteAll removes every file belonging to a segment, called by the
// scheduler's GC task once a TO_DELETE segment is past its quiescence
// window.
func DeleteAll(ctx context.Context, store blobstore.Store, table, tag string, id core.SegmentID) error {
	for _, f := range []string{rawVecFile, rawIDsFile, blacklistFile, indexFile, metaFile} {
		if err := store.Delete(ctx, keyFor(table, tag, id, f)); err != nil {
			return err
		}
	}
	return nil
}
