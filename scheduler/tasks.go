package scheduler

import "time"

// Default tick intervals for the engine's five standing background tasks.
const (
	FlushInterval      = 500 * time.Millisecond
	MergeInterval      = 30 * time.Second
	IndexBuildInterval = 10 * time.Second
	CacheEvictInterval = 5 * time.Second
	GCInterval         = time.Minute
)

// TaskNames are the stable identifiers used as backoff/lease keys and in
// log lines.
const (
	TaskFlush      = "flush"
	TaskMerge      = "merge"
	TaskIndexBuild = "index_build"
	TaskCacheEvict = "cache_evict"
	TaskGC         = "gc"
)

// Tasks assembles the engine's standing background tasks from their
// per-table run functions. The caller (the root engine package, which
// owns the buffer, catalog, segment store, and cache) supplies each
// TaskFunc; this package only owns the scheduling policy around them.
func Tasks(flush, merge, indexBuild, cacheEvict, gc TaskFunc) []Task {
	return []Task{
		{Name: TaskFlush, Interval: FlushInterval, Run: flush},
		{Name: TaskMerge, Interval: MergeInterval, Run: merge},
		{Name: TaskIndexBuild, Interval: IndexBuildInterval, Run: indexBuild},
		{Name: TaskCacheEvict, Interval: CacheEvictInterval, Run: cacheEvict},
		{Name: TaskGC, Interval: GCInterval, Run: gc},
	}
}
