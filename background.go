package vecengine

import (
	"context"
	"fmt"
	"time"

	"github.com/nanovec/vecengine/buffer"
	"github.com/nanovec/vecengine/catalog"
	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/scheduler"
	"github.com/nanovec/vecengine/segment"
)

// mergeTargetRows is the row count below which a segment is considered
// small enough to be a merge candidate.
const mergeTargetRows = 4096

func (e *Engine) backgroundTasks() []scheduler.Task {
	return scheduler.Tasks(e.flushTask, e.mergeTask, e.indexBuildTask, e.cacheEvictTask, e.gcTask)
}

// flushTask seals any non-empty insert buffer of table into a new segment.
func (e *Engine) flushTask(ctx context.Context, tableName string) (bool, error) {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return false, err
	}
	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return false, err
	}
	did := false
	for _, p := range parts {
		key := buffer.Key{Table: tableName, Tag: p.Tag}
		if e.bufMgr.Get(key).Len() == 0 {
			continue
		}
		if err := e.flushKey(ctx, key); err != nil {
			return did, err
		}
		did = true
	}
	return did, nil
}

// mergeTask folds every partition's small segments together into one,
// dropping blacklisted rows for good in the process — the only point at
// which a soft-deleted row's storage is actually reclaimed.
func (e *Engine) mergeTask(ctx context.Context, tableName string) (bool, error) {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return false, err
	}
	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return false, err
	}

	did := false
	for _, p := range parts {
		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return did, err
		}
		var small []catalog.SegmentRow
		for _, s := range segs {
			if (s.State == core.SegmentRaw || s.State == core.SegmentIndexed) && s.RowCount < mergeTargetRows {
				small = append(small, s)
			}
		}
		if len(small) < 2 {
			continue
		}
		if err := e.mergeSegments(ctx, tableName, p, t.Metric, small); err != nil {
			return did, err
		}
		did = true
	}
	return did, nil
}

func (e *Engine) mergeSegments(ctx context.Context, tableName string, p catalog.PartitionRow, metric core.Metric, segs []catalog.SegmentRow) error {
	var live []core.VectorRow
	for _, s := range segs {
		bl, err := segment.ReadBlacklist(ctx, e.store, tableName, p.Tag, s.ID)
		if err != nil {
			return err
		}
		rows, err := segment.ReadRows(ctx, e.store, tableName, p.Tag, s.ID)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !bl.Contains(r.ID) {
				live = append(live, r)
			}
		}
	}

	if len(live) > 0 {
		newID := newSegmentID()
		if _, err := segment.WriteRaw(ctx, e.store, tableName, p.Tag, newID, live, metric); err != nil {
			return err
		}
		if _, err := e.cat.CreateSegment(ctx, catalog.SegmentRow{
			ID:          newID,
			PartitionID: p.ID,
			State:       core.SegmentRaw,
			RowCount:    len(live),
		}); err != nil {
			return err
		}
	}

	for _, s := range segs {
		if err := e.markSegmentToDelete(ctx, tableName, p.Tag, s); err != nil {
			e.logger().Errorf("vecengine: mark merged segment for deletion failed: segment=%d error=%v", s.ID, err)
		}
	}
	return nil
}

func (e *Engine) markSegmentToDelete(ctx context.Context, table, tag string, s catalog.SegmentRow) error {
	if err := e.cat.UpdateSegmentState(ctx, s.ID, s.RowVersion, core.SegmentToDelete); err != nil {
		return err
	}
	e.invalidateSegment(table, tag, s.ID)
	e.mu.Lock()
	e.deletedAt[s.ID] = time.Now()
	e.mu.Unlock()
	return nil
}

// indexBuildTask builds the table's configured index over every RAW
// segment, transitioning each to INDEXED as it completes.
func (e *Engine) indexBuildTask(ctx context.Context, tableName string) (bool, error) {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return false, err
	}
	idxRow, ok, err := e.cat.GetIndex(ctx, t.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return false, err
	}
	did := false
	for _, p := range parts {
		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return did, err
		}
		for _, s := range segs {
			if s.State != core.SegmentRaw {
				continue
			}
			if err := e.buildSegmentIndex(ctx, tableName, p.Tag, s, t, idxRow); err != nil {
				e.logger().Errorf("vecengine: index build failed: table=%s segment=%d error=%v", tableName, s.ID, err)
				continue
			}
			did = true
		}
	}
	return did, nil
}

func (e *Engine) buildSegmentIndex(ctx context.Context, tableName, tag string, s catalog.SegmentRow, t catalog.TableRow, idxRow catalog.IndexRow) error {
	meta, err := segment.ReadMeta(ctx, e.store, tableName, tag, s.ID)
	if err != nil {
		return err
	}
	rows, err := segment.ReadRows(ctx, e.store, tableName, tag, s.ID)
	if err != nil {
		return err
	}

	spec := specFromRow(idxRow, t, meta)
	idx, ok := e.reg.New(spec)
	if !ok {
		return fmt.Errorf("vecengine: no family registered for index kind %v", spec.Kind)
	}

	vectors := make([][]float32, len(rows))
	for i, r := range rows {
		vectors[i] = r.Vector
	}
	if err := idx.Train(vectors); err != nil {
		return err
	}
	if err := idx.Add(rows); err != nil {
		return err
	}

	bl, err := segment.ReadBlacklist(ctx, e.store, tableName, tag, s.ID)
	if err != nil {
		return err
	}
	idx.SetBlacklist(bl.Snapshot())

	if err := segment.WriteIndex(ctx, e.store, tableName, tag, s.ID, idx, spec.Kind); err != nil {
		return err
	}
	if err := e.cat.UpdateSegmentState(ctx, s.ID, s.RowVersion, core.SegmentIndexed); err != nil {
		return err
	}
	e.invalidateSegment(tableName, tag, s.ID)
	return nil
}

// cacheEvictTask invalidates cached blocks of any segment already marked
// TO_DELETE, so a racing query never gets handed a block the GC task is
// about to unlink out from under it.
func (e *Engine) cacheEvictTask(ctx context.Context, tableName string) (bool, error) {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return false, err
	}
	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return false, err
	}
	did := false
	for _, p := range parts {
		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return did, err
		}
		for _, s := range segs {
			if s.State != core.SegmentToDelete {
				continue
			}
			e.invalidateSegment(tableName, p.Tag, s.ID)
			did = true
		}
	}
	return did, nil
}

// gcTask physically deletes every TO_DELETE segment that has sat past the
// engine's GC quiescence window, freeing its blob-store files and catalog
// row.
func (e *Engine) gcTask(ctx context.Context, tableName string) (bool, error) {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return false, err
	}
	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return false, err
	}
	did := false
	for _, p := range parts {
		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return did, err
		}
		for _, s := range segs {
			if s.State != core.SegmentToDelete || !e.pastQuiescence(s.ID) {
				continue
			}
			if err := segment.DeleteAll(ctx, e.store, tableName, p.Tag, s.ID); err != nil {
				e.logger().Errorf("vecengine: gc delete segment failed: segment=%d error=%v", s.ID, err)
				continue
			}
			if err := e.cat.DeleteSegment(ctx, s.ID); err != nil {
				e.logger().Errorf("vecengine: gc drop catalog row failed: segment=%d error=%v", s.ID, err)
				continue
			}
			e.mu.Lock()
			delete(e.deletedAt, s.ID)
			e.mu.Unlock()
			did = true
		}
	}

	if err := e.truncateWAL(); err != nil {
		e.logger().Errorf("vecengine: wal truncation failed: error=%v", err)
	}
	return did, nil
}

// truncateWAL removes WAL segment files whose records are guaranteed
// durable outside the log: every (table, tag) buffer's last successful
// flush recorded the WAL segment index active at that moment in
// walCheckpoint, so nothing before the oldest of those checkpoints can
// still be needed for recovery. A key that has never flushed pins the
// whole log, which is always safe since it just means nothing is
// truncated yet.
func (e *Engine) truncateWAL() error {
	e.mu.RLock()
	keys := e.bufMgr.Keys()
	safe := -1
	for _, key := range keys {
		idx, ok := e.walCheckpoint[key]
		if !ok {
			e.mu.RUnlock()
			return nil
		}
		if safe == -1 || idx < safe {
			safe = idx
		}
	}
	e.mu.RUnlock()
	if safe <= 0 {
		return nil
	}
	return e.wlog.TruncateBefore(safe)
}

func (e *Engine) pastQuiescence(id core.SegmentID) bool {
	e.mu.RLock()
	markedAt, ok := e.deletedAt[id]
	e.mu.RUnlock()
	if !ok {
		return true
	}
	return time.Since(markedAt) >= e.cfg.quiescence
}
