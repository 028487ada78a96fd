// Package core defines the identifier and primitive types shared across the
// engine's storage, indexing, and query layers.
package core

import "fmt"

// UserID is the caller-supplied primary key attached to an inserted vector.
type UserID int64

// LSN is a monotonically increasing log sequence number assigned to every
// WAL record.
type LSN uint64

// SegmentID uniquely identifies an immutable segment within a partition.
type SegmentID uint64

func (id SegmentID) String() string {
	return fmt.Sprintf("%020d", uint64(id))
}

// TableID and PartitionID identify catalog rows independent of their
// human-readable names, so a table or partition can be renamed (or a tag
// reused after a drop) without invalidating references held elsewhere.
type TableID uint64

// PartitionID identifies a partition row in the catalog.
type PartitionID uint64

// Metric selects the distance function used to train and search an index.
type Metric int

const (
	MetricL2 Metric = iota
	MetricIP
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricIP:
		return "IP"
	default:
		return "UNKNOWN"
	}
}

// IndexKind enumerates the ANN index families the engine can build.
type IndexKind int

const (
	IndexFlat IndexKind = iota
	IndexIVFFlat
	IndexIVFSQ8
	IndexIVFSQ8H
	IndexIVFPQ
)

func (k IndexKind) String() string {
	switch k {
	case IndexFlat:
		return "FLAT"
	case IndexIVFFlat:
		return "IVF_FLAT"
	case IndexIVFSQ8:
		return "IVF_SQ8"
	case IndexIVFSQ8H:
		return "IVF_SQ8H"
	case IndexIVFPQ:
		return "IVF_PQ"
	default:
		return "UNKNOWN"
	}
}

// SegmentState tracks a segment's position in the RAW -> INDEXED ->
// TO_DELETE -> DELETED lifecycle.
type SegmentState int

const (
	SegmentRaw SegmentState = iota
	SegmentIndexed
	SegmentToDelete
	SegmentDeleted
)

func (s SegmentState) String() string {
	switch s {
	case SegmentRaw:
		return "RAW"
	case SegmentIndexed:
		return "INDEXED"
	case SegmentToDelete:
		return "TO_DELETE"
	case SegmentDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// VectorRow is a single stored vector together with its caller-supplied ID.
type VectorRow struct {
	ID     UserID
	Vector []float32
}

// ScoredID is a single hit returned from an index search. Internally,
// every index family and the query merge heap rank Score ascending for
// both metrics (metric.InnerProduct negates the dot product for this
// reason). At the engine's public Query/QueryByFileID boundary that
// negation is undone for IP tables, so callers always see Score in its
// natural metric units: lower is better for L2, higher is better for IP.
type ScoredID struct {
	ID    UserID
	Score float32
}
