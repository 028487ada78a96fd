// Package vecengine implements an embeddable vector database engine core:
// tables of fixed-dimension vectors, partitioned by tag, durably ingested
// through a write-ahead log, flushed into immutable on-disk segments, and
// indexed in the background by one of several approximate-nearest-neighbor
// families. Queries fan out across a table's matching partitions and
// segments and merge per-segment top-k results into one ranked answer.
//
// A typical caller opens an Engine, creates a table, inserts vectors, and
// queries it:
//
//	eng, err := vecengine.Open(ctx, "/var/lib/vecengine",
//		vecengine.WithCacheBytes(512<<20),
//		vecengine.WithWALDurability(wal.GroupCommit),
//	)
//	...
//	t, err := eng.CreateTable(ctx, "embeddings", 768, core.MetricL2)
//	err = eng.InsertVectors(ctx, "embeddings", "", rows)
//	hits, err := eng.Query(ctx, "embeddings", nil, [][]float32{query}, 10)
package vecengine
