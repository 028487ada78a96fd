package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/catalog"
	"github.com/nanovec/vecengine/core"
)

func TestCreateDescribeHas(t *testing.T) {
	ctx := context.Background()
	m := New(catalog.NewMem())

	ok, err := m.Has(ctx, "vecs")
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := m.Create(ctx, "vecs", 16, core.MetricIP)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	ok, err = m.Has(ctx, "vecs")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.Describe(ctx, "vecs")
	require.NoError(t, err)
	assert.Equal(t, 16, got.Dimension)
	assert.Equal(t, core.MetricIP, got.Metric)
}

func TestDropRemovesTable(t *testing.T) {
	ctx := context.Background()
	m := New(catalog.NewMem())
	_, err := m.Create(ctx, "vecs", 8, core.MetricL2)
	require.NoError(t, err)

	require.NoError(t, m.Drop(ctx, "vecs"))

	ok, err := m.Has(ctx, "vecs")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllListsEveryTable(t *testing.T) {
	ctx := context.Background()
	m := New(catalog.NewMem())
	_, err := m.Create(ctx, "a", 8, core.MetricL2)
	require.NoError(t, err)
	_, err = m.Create(ctx, "b", 8, core.MetricL2)
	require.NoError(t, err)

	all, err := m.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPartitionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := New(catalog.NewMem())
	tbl, err := m.Create(ctx, "vecs", 8, core.MetricL2)
	require.NoError(t, err)

	_, err = m.CreatePartition(ctx, tbl.ID, "en")
	require.NoError(t, err)

	parts, err := m.ShowPartitions(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	require.NoError(t, m.DropPartition(ctx, tbl.ID, "en"))
	parts, err = m.ShowPartitions(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestGetInfoAggregatesPartitionsAndSegments(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMem()
	m := New(cat)
	tbl, err := m.Create(ctx, "vecs", 8, core.MetricL2)
	require.NoError(t, err)

	p1, err := m.CreatePartition(ctx, tbl.ID, "en")
	require.NoError(t, err)
	p2, err := m.CreatePartition(ctx, tbl.ID, "fr")
	require.NoError(t, err)

	_, err = cat.CreateSegment(ctx, catalog.SegmentRow{PartitionID: p1.ID, State: core.SegmentRaw, RowCount: 5})
	require.NoError(t, err)
	_, err = cat.CreateSegment(ctx, catalog.SegmentRow{PartitionID: p2.ID, State: core.SegmentIndexed, RowCount: 7})
	require.NoError(t, err)

	info, err := m.GetInfo(ctx, "vecs")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Partitions)
	assert.Equal(t, 2, info.Segments)
	assert.Equal(t, 12, info.RowCount)
}
