package vecengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/query"
)

// segLoc remembers which (table, partition) a segment belongs to and the
// catalog state it was in as of its last resolution, so SearchSegment —
// whose interface carries only a segment ID — can load the right index.
type segLoc struct {
	table string
	tag   string
	state core.SegmentState
}

// queryAdapter implements query.PartitionResolver and query.SegmentSearcher
// against the engine's catalog and resident-index cache. One adapter is
// shared across every query the engine serves; segLoc entries persist
// across calls since a segment ID is unique for the engine's lifetime.
type queryAdapter struct {
	e *Engine

	mu   sync.Mutex
	locs map[core.SegmentID]segLoc
}

func newQueryAdapter(e *Engine) *queryAdapter {
	return &queryAdapter{e: e, locs: make(map[core.SegmentID]segLoc)}
}

func (a *queryAdapter) ResolvePartitions(ctx context.Context, table, tagPattern string) ([]string, error) {
	t, err := a.e.tables.Describe(ctx, table)
	if err != nil {
		return nil, a.e.translateNotFound(table, err)
	}
	parts, err := a.e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, p := range parts {
		ok, err := query.MatchTag(tagPattern, p.Tag)
		if err != nil {
			return nil, err
		}
		if ok {
			tags = append(tags, p.Tag)
		}
	}
	return tags, nil
}

func (a *queryAdapter) SegmentsFor(ctx context.Context, table, tag string) ([]core.SegmentID, error) {
	t, err := a.e.tables.Describe(ctx, table)
	if err != nil {
		return nil, err
	}
	p, err := a.e.cat.GetPartition(ctx, t.ID, tag)
	if err != nil {
		return nil, err
	}
	segs, err := a.e.cat.ListSegments(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]core.SegmentID, 0, len(segs))
	a.mu.Lock()
	for _, s := range segs {
		if s.State != core.SegmentRaw && s.State != core.SegmentIndexed {
			continue
		}
		a.locs[s.ID] = segLoc{table: table, tag: tag, state: s.State}
		ids = append(ids, s.ID)
	}
	a.mu.Unlock()
	return ids, nil
}

func (a *queryAdapter) SearchSegment(ctx context.Context, segmentID core.SegmentID, q []float32, topK int) ([]core.ScoredID, error) {
	a.mu.Lock()
	loc, ok := a.locs[segmentID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("vecengine: segment %s not resolved by a prior partition scan", segmentID)
	}
	idx, err := a.e.loadSegmentIndex(ctx, loc.table, loc.tag, segmentID, loc.state)
	if err != nil {
		return nil, err
	}
	return idx.Search(q, topK)
}

// Query runs every row of queries against table, restricted to partitions
// whose tag matches any of tagPatterns (each a regular expression,
// unioned; an empty list matches every partition), fanning out across
// segments and merging into topK best-first hits per query.
func (e *Engine) Query(ctx context.Context, tableName string, tagPatterns []string, queries [][]float32, topK int) ([][]core.ScoredID, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return nil, e.translateNotFound(tableName, err)
	}

	pattern := unionTagPatterns(tagPatterns)
	results := make([][]core.ScoredID, len(queries))
	for i, q := range queries {
		if len(q) != t.Dimension {
			return nil, errDimensionMismatch(t.Dimension, len(q))
		}
		hits, err := e.qexec.Run(ctx, tableName, pattern, q, topK)
		if err != nil {
			return nil, translateError(tableName, err)
		}
		results[i] = denormalizeScores(t.Metric, hits)
	}
	return results, nil
}

// denormalizeScores undoes metric.InnerProduct's internal negation before
// hits cross the engine's public API, so an IP-metric caller sees the real
// inner product (higher is more similar) rather than the negated value the
// index/query internals compare ascending. L2 scores pass through
// unchanged.
func denormalizeScores(m core.Metric, hits []core.ScoredID) []core.ScoredID {
	if m != core.MetricIP {
		return hits
	}
	for i := range hits {
		hits[i].Score = -hits[i].Score
	}
	return hits
}

// unionTagPatterns joins several independent tag regexes into a single
// pattern matching any of them, so the query package's single-pattern
// PartitionResolver contract still implements the engine's list-of-tags
// Query signature without needing its own union logic.
func unionTagPatterns(patterns []string) string {
	if len(patterns) == 0 {
		return ""
	}
	joined := "(?:" + patterns[0] + ")"
	for _, p := range patterns[1:] {
		joined += "|(?:" + p + ")"
	}
	return joined
}

// QueryByFileID searches exactly the named segments of table, bypassing
// partition-tag resolution entirely — used by callers that already know
// which segments (files) they want searched. Ids no longer present in the
// catalog are silently ignored; if none of segmentIDs remain, it returns
// NoSegmentsToSearch.
func (e *Engine) QueryByFileID(ctx context.Context, tableName string, segmentIDs []core.SegmentID, queryVec []float32, topK int) ([]core.ScoredID, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return nil, e.translateNotFound(tableName, err)
	}
	if len(queryVec) != t.Dimension {
		return nil, errDimensionMismatch(t.Dimension, len(queryVec))
	}

	want := make(map[core.SegmentID]bool, len(segmentIDs))
	for _, id := range segmentIDs {
		want[id] = true
	}

	parts, err := e.tables.ShowPartitions(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	merger := query.NewTopKMerger(topK)
	matched := 0
	for _, p := range parts {
		segs, err := e.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range segs {
			if !want[s.ID] {
				continue
			}
			matched++
			idx, err := e.loadSegmentIndex(ctx, tableName, p.Tag, s.ID, s.State)
			if err != nil {
				return nil, translateError(tableName, err)
			}
			hits, err := idx.Search(queryVec, topK)
			if err != nil {
				return nil, translateError(tableName, err)
			}
			merger.Offer(hits)
		}
	}
	if matched == 0 {
		return nil, errNoSegmentsToSearch(tableName)
	}
	return denormalizeScores(t.Metric, merger.Result()), nil
}
