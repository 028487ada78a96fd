package vecengine

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/nanovec/vecengine/buffer"
	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/segment"
	"github.com/nanovec/vecengine/wal"
)

// InsertVectors durably appends rows to tag's buffer: the WAL record for
// the insert is fsynced (per the configured Durability) before this call
// returns, but the rows themselves are not query-visible until a Flush.
func (e *Engine) InsertVectors(ctx context.Context, tableName, tag string, rows []core.VectorRow) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return e.translateNotFound(tableName, err)
	}
	if _, err := e.cat.GetPartition(ctx, t.ID, tag); err != nil {
		return errPartitionNotFound(tableName, tag)
	}
	for _, row := range rows {
		if len(row.Vector) != t.Dimension {
			return errDimensionMismatch(t.Dimension, len(row.Vector))
		}
	}

	if _, err := e.wlog.Append(ctx, wal.Record{Op: wal.OpInsert, Table: tableName, Tag: tag, Inserts: rows}); err != nil {
		return err
	}

	e.bufMgr.Get(buffer.Key{Table: tableName, Tag: tag}).Insert(rows)
	return nil
}

// DeleteVectors soft-deletes every row across tableName whose id is in
// ids, marking it in its segment's blacklist (or dropping it straight out
// of an insert buffer if it has not been flushed yet).
func (e *Engine) DeleteVectors(ctx context.Context, tableName string, ids []core.UserID) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return e.translateNotFound(tableName, err)
	}

	if _, err := e.wlog.Append(ctx, wal.Record{Op: wal.OpDelete, Table: tableName, DeleteIDs: ids}); err != nil {
		return err
	}

	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, p := range parts {
		e.bufMgr.Get(buffer.Key{Table: tableName, Tag: p.Tag}).Delete(ids)

		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, s := range segs {
			if err := e.markDeletedInSegment(ctx, tableName, p.Tag, s.ID, s.State, ids); err != nil {
				e.logger().Errorf("vecengine: delete against segment failed: segment=%d error=%v", s.ID, err)
			}
		}
	}
	return nil
}

func (e *Engine) markDeletedInSegment(ctx context.Context, tableName, tag string, segID core.SegmentID, state core.SegmentState, ids []core.UserID) error {
	idx, err := e.loadSegmentIndex(ctx, tableName, tag, segID, state)
	if err != nil {
		return err
	}

	bl, err := segment.ReadBlacklist(ctx, e.store, tableName, tag, segID)
	if err != nil {
		return err
	}

	var hit []core.UserID
	for _, id := range ids {
		if _, err := idx.GetVectorByID(id); err == nil {
			hit = append(hit, id)
		}
	}
	if len(hit) == 0 {
		return nil
	}
	bl.AddMany(hit)
	if err := segment.WriteBlacklist(ctx, e.store, tableName, tag, segID, bl); err != nil {
		return err
	}
	idx.SetBlacklist(bl.Snapshot())
	return nil
}

// GetVectorByID returns the first row found with the given id, checking
// unflushed buffers before sealed segments. Which row is returned when
// duplicate ids exist is unspecified, matching duplicate-id insert
// semantics.
func (e *Engine) GetVectorByID(ctx context.Context, tableName string, id core.UserID) ([]float32, error) {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return nil, e.translateNotFound(tableName, err)
	}
	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	for _, p := range parts {
		buf := e.bufMgr.Get(buffer.Key{Table: tableName, Tag: p.Tag})
		if v, ok := bufferLookup(buf, id); ok {
			return v, nil
		}
	}

	for _, p := range parts {
		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range segs {
			if s.State != core.SegmentRaw && s.State != core.SegmentIndexed {
				continue
			}
			idx, err := e.loadSegmentIndex(ctx, tableName, p.Tag, s.ID, s.State)
			if err != nil {
				continue
			}
			if v, err := idx.GetVectorByID(id); err == nil {
				return v, nil
			}
		}
	}
	return nil, newCodedError(CodeIDNotFound, ErrIDNotFound, "id %d not found in table %q", int64(id), tableName)
}

func bufferLookup(buf *buffer.Buffer, id core.UserID) ([]float32, bool) {
	for _, row := range buf.Snapshot() {
		if row.ID == id {
			return row.Vector, true
		}
	}
	return nil, false
}

// GetVectorIDs returns every id stored in a segment's raw.ids file,
// streamed through the Block Cache rather than the segment's (possibly
// unbuilt) index.
func (e *Engine) GetVectorIDs(ctx context.Context, tableName, tag string, segID core.SegmentID) ([]core.UserID, error) {
	meta, err := segment.ReadMeta(ctx, e.cached, tableName, tag, segID)
	if err != nil {
		return nil, err
	}
	r, err := e.cached.Get(ctx, segment.Dir(tableName, tag, segID)+"/raw.ids")
	if err != nil {
		return nil, translateError(tableName, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, translateError(tableName, err)
	}

	ids := make([]core.UserID, meta.RowCount)
	for i := range ids {
		ids[i] = core.UserID(int64(binary.LittleEndian.Uint64(data[i*8 : i*8+8])))
	}
	return ids, nil
}
