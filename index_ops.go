package vecengine

import (
	"context"

	"github.com/nanovec/vecengine/catalog"
	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
	"github.com/nanovec/vecengine/segment"
)

// CreateIndex sets table's active index spec and forces every already
// INDEXED segment back to RAW so the index-build task rebuilds it under
// the new spec. Changing a table's index kind mid-flight is expected:
// queries keep working off the flat fallback for a segment until its
// rebuild tick completes.
func (e *Engine) CreateIndex(ctx context.Context, tableName string, spec index.Spec) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return e.translateNotFound(tableName, err)
	}
	spec.Dimension = t.Dimension
	spec.Metric = t.Metric
	if _, ok := e.reg.New(spec); !ok {
		return newCodedError(CodeUnsupported, ErrUnsupported, "unsupported index kind %v", spec.Kind)
	}

	if err := e.cat.SetIndex(ctx, catalog.IndexRow{TableID: t.ID, Kind: spec.Kind, Extra: extraFromSpec(spec)}); err != nil {
		return err
	}

	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, p := range parts {
		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, s := range segs {
			if s.State != core.SegmentIndexed {
				continue
			}
			if err := e.cat.UpdateSegmentState(ctx, s.ID, s.RowVersion, core.SegmentRaw); err != nil {
				e.logger().Errorf("vecengine: mark segment for reindex failed: segment=%d error=%v", s.ID, err)
				continue
			}
			e.invalidateSegment(tableName, p.Tag, s.ID)
		}
	}
	return nil
}

// DescribeIndex returns table's active index spec, if any.
func (e *Engine) DescribeIndex(ctx context.Context, tableName string) (index.Spec, bool, error) {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return index.Spec{}, false, e.translateNotFound(tableName, err)
	}
	idxRow, ok, err := e.cat.GetIndex(ctx, t.ID)
	if err != nil || !ok {
		return index.Spec{}, false, err
	}
	return specFromRow(idxRow, t, segment.Meta{Dimension: t.Dimension}), true, nil
}

// DropIndex clears table's active index spec. Existing INDEXED segments
// keep serving their built index.bin until GC reclaims them; only new
// segments built after this call fall back to flat scans.
func (e *Engine) DropIndex(ctx context.Context, tableName string) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return e.translateNotFound(tableName, err)
	}
	return e.cat.DropIndex(ctx, t.ID)
}

func extraFromSpec(spec index.Spec) map[string]any {
	extra := map[string]any{}
	if spec.NumLists > 0 {
		extra["nlist"] = spec.NumLists
	}
	if spec.NumProbes > 0 {
		extra["nprobe"] = spec.NumProbes
	}
	if spec.NumSubquantizers > 0 {
		extra["m"] = spec.NumSubquantizers
	}
	return extra
}
