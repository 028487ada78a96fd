package vecengine

import (
	"context"
	"fmt"

	"github.com/nanovec/vecengine/catalog"
	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
	"github.com/nanovec/vecengine/index/flat"
	"github.com/nanovec/vecengine/segment"
)

// loadSegmentIndex returns the resident index.Index for a segment,
// building or loading it on first use and caching it for subsequent
// calls. state is the segment's catalog state, the authority on whether
// a built index.bin exists: RAW (and TO_DELETE, still queryable) segments
// are served by an on-the-fly flat scan over their raw rows, while
// INDEXED segments load the family index the scheduler's index-build
// task already wrote. Trusting catalog state rather than the segment's
// on-disk meta.json lets CreateIndex force a segment back to RAW and
// have it served correctly even before the rebuild tick runs.
func (e *Engine) loadSegmentIndex(ctx context.Context, tableName, tag string, segID core.SegmentID, state core.SegmentState) (index.Index, error) {
	e.mu.RLock()
	if idx, ok := e.residentIndex[segID]; ok {
		e.mu.RUnlock()
		return idx, nil
	}
	e.mu.RUnlock()

	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return nil, err
	}

	var idx index.Index
	if state == core.SegmentIndexed {
		meta, err := segment.ReadMeta(ctx, e.cached, tableName, tag, segID)
		if err != nil {
			return nil, err
		}
		if meta.IndexKind == nil {
			return nil, index.ErrCorrupt
		}
		idxRow, ok, err := e.cat.GetIndex(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		loader, okLoader := e.reg.LoaderFor(*meta.IndexKind)
		if !okLoader {
			return nil, fmt.Errorf("vecengine: no loader registered for index kind %v", *meta.IndexKind)
		}
		if !ok {
			idxRow = catalog.IndexRow{Kind: *meta.IndexKind}
		}
		spec := specFromRow(idxRow, t, meta)
		idx, err = segment.ReadIndex(ctx, e.cached, tableName, tag, segID, spec, loader)
		if err != nil {
			return nil, err
		}
	} else {
		rows, err := segment.ReadRows(ctx, e.cached, tableName, tag, segID)
		if err != nil {
			return nil, err
		}
		fidx := flat.New(index.Spec{Kind: core.IndexFlat, Metric: t.Metric, Dimension: t.Dimension})
		if err := fidx.Add(rows); err != nil {
			return nil, err
		}
		idx = fidx
	}

	// Blacklist is read uncached: it mutates on every delete against this
	// segment and nothing invalidates a cached copy of it.
	bl, err := segment.ReadBlacklist(ctx, e.store, tableName, tag, segID)
	if err != nil {
		return nil, err
	}
	idx.SetBlacklist(bl.Snapshot())

	e.mu.Lock()
	e.residentIndex[segID] = idx
	e.mu.Unlock()
	return idx, nil
}

// specFromRow rebuilds the index.Spec a segment's index was built with,
// pulling family tuning parameters out of the catalog's extra bag.
func specFromRow(idxRow catalog.IndexRow, t catalog.TableRow, meta segment.Meta) index.Spec {
	spec := index.Spec{
		Kind:      idxRow.Kind,
		Metric:    t.Metric,
		Dimension: meta.Dimension,
	}
	if idxRow.Extra == nil {
		return spec
	}
	if v, ok := idxRow.Extra["nlist"]; ok {
		spec.NumLists = toInt(v)
	}
	if v, ok := idxRow.Extra["nprobe"]; ok {
		spec.NumProbes = toInt(v)
	}
	if v, ok := idxRow.Extra["m"]; ok {
		spec.NumSubquantizers = toInt(v)
	}
	return spec
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
