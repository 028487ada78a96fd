// Package catalog implements the metadata store of record for tables,
// partitions, and segments: the single source of truth the query executor
// and scheduler consult to resolve a table name to its live partitions and
// segments, independent of whatever index or blob bytes are cached.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/nanovec/vecengine/core"
)

var (
	ErrNotFound = errors.New("catalog: not found")
	ErrExists   = errors.New("catalog: already exists")
	ErrConflict = errors.New("catalog: row version conflict")
)

// TableRow is a catalog row describing one table.
type TableRow struct {
	ID        core.TableID
	Name      string
	Dimension int
	Metric    core.Metric
	CreatedAt time.Time
}

// PartitionRow is a catalog row describing one partition within a table.
type PartitionRow struct {
	ID        core.PartitionID
	TableID   core.TableID
	Tag       string
	CreatedAt time.Time
}

// IndexRow describes the single active index spec for a table, if any.
type IndexRow struct {
	TableID core.TableID
	Kind    core.IndexKind
	Extra   map[string]any
}

// SegmentRow is a catalog row describing one immutable segment.
type SegmentRow struct {
	ID          core.SegmentID
	PartitionID core.PartitionID
	State       core.SegmentState
	RowCount    int
	SizeBytes   int64
	RowVersion  int64
	CreatedAt   time.Time
}

// Catalog is the metadata store's contract. Every method is safe for
// concurrent use; mutating methods on segment state use RowVersion as an
// optimistic-concurrency token so the scheduler's background workers never
// clobber a concurrent state transition.
type Catalog interface {
	CreateTable(ctx context.Context, t TableRow) (TableRow, error)
	DropTable(ctx context.Context, name string) error
	GetTable(ctx context.Context, name string) (TableRow, error)
	ListTables(ctx context.Context) ([]TableRow, error)

	CreatePartition(ctx context.Context, tableID core.TableID, tag string) (PartitionRow, error)
	DropPartition(ctx context.Context, tableID core.TableID, tag string) error
	ListPartitions(ctx context.Context, tableID core.TableID) ([]PartitionRow, error)
	GetPartition(ctx context.Context, tableID core.TableID, tag string) (PartitionRow, error)

	SetIndex(ctx context.Context, idx IndexRow) error
	GetIndex(ctx context.Context, tableID core.TableID) (IndexRow, bool, error)
	DropIndex(ctx context.Context, tableID core.TableID) error

	CreateSegment(ctx context.Context, s SegmentRow) (SegmentRow, error)
	UpdateSegmentState(ctx context.Context, id core.SegmentID, expectVersion int64, newState core.SegmentState) error
	ListSegments(ctx context.Context, partitionID core.PartitionID) ([]SegmentRow, error)
	ListSegmentsByState(ctx context.Context, state core.SegmentState) ([]SegmentRow, error)
	DeleteSegment(ctx context.Context, id core.SegmentID) error

	Close() error
}
