package vecengine

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/nanovec/vecengine/buffer"
	"github.com/nanovec/vecengine/catalog"
	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/segment"
	"github.com/nanovec/vecengine/wal"
)

// Flush forces every buffered (table, partition) to seal into a new
// segment immediately. With no arguments every table is flushed; with
// table names given, only those tables' buffers are.
func (e *Engine) Flush(ctx context.Context, tables ...string) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}

	for _, key := range e.bufMgr.Keys() {
		if len(want) > 0 && !want[key.Table] {
			continue
		}
		if err := e.flushKey(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// flushKey seals one (table, partition) buffer's current rows into a new
// RAW segment, records it in the catalog, and writes the WAL FLUSH_MARK
// that lets recovery know those rows are now durable outside the log.
func (e *Engine) flushKey(ctx context.Context, key buffer.Key) error {
	buf := e.bufMgr.Get(key)
	rows := buf.Drain()
	if len(rows) == 0 {
		return nil
	}

	t, err := e.tables.Describe(ctx, key.Table)
	if err != nil {
		return err
	}
	p, err := e.cat.GetPartition(ctx, t.ID, key.Tag)
	if err != nil {
		return err
	}

	segID := newSegmentID()
	meta, err := segment.WriteRaw(ctx, e.store, key.Table, key.Tag, segID, rows, t.Metric)
	if err != nil {
		return err
	}

	if _, err := e.cat.CreateSegment(ctx, catalog.SegmentRow{
		ID:          segID,
		PartitionID: p.ID,
		State:       core.SegmentRaw,
		RowCount:    meta.RowCount,
	}); err != nil {
		return err
	}

	if _, err := e.wlog.Append(ctx, wal.Record{Op: wal.OpFlushMark, Table: key.Table, Tag: key.Tag, FlushSegmentID: segID}); err != nil {
		return err
	}

	e.mu.Lock()
	e.walCheckpoint[key] = e.wlog.CurrentIndex()
	e.mu.Unlock()
	return nil
}

// newSegmentID mints a segment identifier by folding a random UUID down
// to a non-negative int64, so every sealed segment gets a unique,
// directory-safe id before its catalog row is created.
func newSegmentID() core.SegmentID {
	u := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(u[i]^u[i+8])
	}
	return core.SegmentID(v & 0x7fffffffffffffff)
}

// recover replays every WAL record since the last FLUSH_MARK into its
// buffer, then performs a synchronous flush so the engine starts with no
// WAL tail outstanding. Records belonging to a segment a FLUSH_MARK
// already accounts for are never replayed twice, since flushKey drains
// and seals a buffer atomically with appending that marker.
func (e *Engine) recover(ctx context.Context) error {
	reader, err := wal.NewReader(e.wlog)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch rec.Op {
		case wal.OpInsert:
			e.bufMgr.Get(buffer.Key{Table: rec.Table, Tag: rec.Tag}).Insert(rec.Inserts)
		case wal.OpDelete:
			keys, _ := e.allTablePartitionKeys(ctx, rec.Table)
			for _, key := range keys {
				e.bufMgr.Get(key).Delete(rec.DeleteIDs)
			}
		case wal.OpFlushMark:
			e.bufMgr.Get(buffer.Key{Table: rec.Table, Tag: rec.Tag}).Drain()
		}
	}

	for _, key := range e.bufMgr.Keys() {
		if err := e.flushKey(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) allTablePartitionKeys(ctx context.Context, table string) ([]buffer.Key, error) {
	t, err := e.tables.Describe(ctx, table)
	if err != nil {
		return nil, err
	}
	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	keys := make([]buffer.Key, len(parts))
	for i, p := range parts {
		keys[i] = buffer.Key{Table: table, Tag: p.Tag}
	}
	return keys, nil
}

// PreloadTable warms the block cache with every segment of every
// partition of a table. It is best-effort, not atomic: a segment that
// fails to load (most commonly because the cache is full of other pinned
// blocks) does not stop the rest of the table from being attempted.
// PreloadTable returns the last error encountered, typically
// CacheExhausted, after every segment has had a chance to load.
func (e *Engine) PreloadTable(ctx context.Context, tableName string) error {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return e.translateNotFound(tableName, err)
	}
	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return err
	}
	var lastErr error
	for _, p := range parts {
		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			lastErr = err
			continue
		}
		for _, s := range segs {
			if _, err := e.loadSegmentIndex(ctx, tableName, p.Tag, s.ID, s.State); err != nil {
				lastErr = translateError(tableName, err)
			}
		}
	}
	return lastErr
}
