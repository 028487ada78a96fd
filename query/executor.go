package query

import (
	"context"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/nanovec/vecengine/core"
)

// SegmentSearcher searches a single segment's resident index for the
// nearest topK vectors to query.
type SegmentSearcher interface {
	SearchSegment(ctx context.Context, segmentID core.SegmentID, query []float32, topK int) ([]core.ScoredID, error)
}

// PartitionResolver resolves a partition-tag pattern to the concrete
// partition tags and segment IDs it should fan out over.
type PartitionResolver interface {
	ResolvePartitions(ctx context.Context, table, tagPattern string) ([]string, error)
	SegmentsFor(ctx context.Context, table, tag string) ([]core.SegmentID, error)
}

// Executor runs a single query across every segment of every partition
// matching a tag pattern, bounding fan-out concurrency and merging results
// into one ranked top-k.
type Executor struct {
	resolver   PartitionResolver
	searcher   SegmentSearcher
	maxInFlight int
}

// New returns an Executor bounded to maxInFlight concurrent segment
// searches.
func New(resolver PartitionResolver, searcher SegmentSearcher, maxInFlight int) *Executor {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	return &Executor{resolver: resolver, searcher: searcher, maxInFlight: maxInFlight}
}

// Run executes query against table, restricted to partitions whose tag
// matches tagPattern (a regular expression; an empty pattern matches
// every partition), and returns the best topK hits across all of them.
func (e *Executor) Run(ctx context.Context, table, tagPattern string, vector []float32, topK int) ([]core.ScoredID, error) {
	tags, err := e.resolver.ResolvePartitions(ctx, table, tagPattern)
	if err != nil {
		return nil, err
	}

	var segments []core.SegmentID
	for _, tag := range tags {
		segs, err := e.resolver.SegmentsFor(ctx, table, tag)
		if err != nil {
			return nil, err
		}
		segments = append(segments, segs...)
	}
	if len(segments) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxInFlight)

	results := make([][]core.ScoredID, len(segments))
	for i, segID := range segments {
		i, segID := i, segID
		g.Go(func() error {
			hits, err := e.searcher.SearchSegment(gctx, segID, vector, topK)
			if err != nil {
				return err
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merger := NewTopKMerger(topK)
	for _, hits := range results {
		merger.Offer(hits)
	}
	return merger.Result(), nil
}

// MatchTag compiles pattern once and reports whether tag matches it. An
// empty pattern always matches, so a table with no partition filter scans
// every partition.
func MatchTag(pattern, tag string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(tag), nil
}
