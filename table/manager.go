// Package table implements the table manager: the thin DDL façade over the
// catalog that the root engine exposes as CreateTable, DropTable,
// CreatePartition, and friends. It owns nothing beyond translating those
// calls into catalog rows — segment and index lifecycle stay with the
// packages that actually own that state.
package table

import (
	"context"
	"time"

	"github.com/nanovec/vecengine/catalog"
	"github.com/nanovec/vecengine/core"
)

// Manager is the table/partition DDL façade.
type Manager struct {
	cat catalog.Catalog
}

// New returns a Manager backed by cat.
func New(cat catalog.Catalog) *Manager {
	return &Manager{cat: cat}
}

// Create registers a new table with the given vector dimension and
// metric. The table starts with no partitions and no index.
func (m *Manager) Create(ctx context.Context, name string, dimension int, metric core.Metric) (catalog.TableRow, error) {
	return m.cat.CreateTable(ctx, catalog.TableRow{
		Name:      name,
		Dimension: dimension,
		Metric:    metric,
		CreatedAt: time.Now(),
	})
}

// Drop removes a table and everything under it: partitions, segments, and
// its index spec.
func (m *Manager) Drop(ctx context.Context, name string) error {
	return m.cat.DropTable(ctx, name)
}

// Describe returns a table's catalog row.
func (m *Manager) Describe(ctx context.Context, name string) (catalog.TableRow, error) {
	return m.cat.GetTable(ctx, name)
}

// Has reports whether a table with the given name exists.
func (m *Manager) Has(ctx context.Context, name string) (bool, error) {
	_, err := m.cat.GetTable(ctx, name)
	if err == catalog.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// All returns every table in the catalog.
func (m *Manager) All(ctx context.Context) ([]catalog.TableRow, error) {
	return m.cat.ListTables(ctx)
}

// CreatePartition adds a new tag-named partition to table.
func (m *Manager) CreatePartition(ctx context.Context, tableID core.TableID, tag string) (catalog.PartitionRow, error) {
	return m.cat.CreatePartition(ctx, tableID, tag)
}

// DropPartition removes a partition and every segment under it.
func (m *Manager) DropPartition(ctx context.Context, tableID core.TableID, tag string) error {
	return m.cat.DropPartition(ctx, tableID, tag)
}

// ShowPartitions lists every partition of a table.
func (m *Manager) ShowPartitions(ctx context.Context, tableID core.TableID) ([]catalog.PartitionRow, error) {
	return m.cat.ListPartitions(ctx, tableID)
}

// Info bundles a table's row count and segment count for GetTableInfo.
type Info struct {
	Table      catalog.TableRow
	Partitions int
	Segments   int
	RowCount   int
}

// GetInfo aggregates a table's partitions and segments into a summary.
func (m *Manager) GetInfo(ctx context.Context, name string) (Info, error) {
	t, err := m.cat.GetTable(ctx, name)
	if err != nil {
		return Info{}, err
	}
	parts, err := m.cat.ListPartitions(ctx, t.ID)
	if err != nil {
		return Info{}, err
	}
	info := Info{Table: t, Partitions: len(parts)}
	for _, p := range parts {
		segs, err := m.cat.ListSegments(ctx, p.ID)
		if err != nil {
			return Info{}, err
		}
		info.Segments += len(segs)
		for _, s := range segs {
			info.RowCount += s.RowCount
		}
	}
	return info, nil
}
