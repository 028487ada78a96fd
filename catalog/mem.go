package catalog

import (
	"context"
	"sync"

	"github.com/nanovec/vecengine/core"
)

// Mem is an in-memory Catalog, the default for tests and for engines that
// do not need metadata to survive a restart.
type Mem struct {
	mu sync.RWMutex

	nextTableID     core.TableID
	nextPartitionID core.PartitionID
	nextSegmentID   core.SegmentID

	tables     map[core.TableID]TableRow
	tableNames map[string]core.TableID
	partitions map[core.PartitionID]PartitionRow
	partByKey  map[core.TableID]map[string]core.PartitionID
	indexes    map[core.TableID]IndexRow
	segments   map[core.SegmentID]SegmentRow
}

// NewMem returns an empty in-memory Catalog.
func NewMem() *Mem {
	return &Mem{
		tables:     make(map[core.TableID]TableRow),
		tableNames: make(map[string]core.TableID),
		partitions: make(map[core.PartitionID]PartitionRow),
		partByKey:  make(map[core.TableID]map[string]core.PartitionID),
		indexes:    make(map[core.TableID]IndexRow),
		segments:   make(map[core.SegmentID]SegmentRow),
	}
}

func (m *Mem) CreateTable(ctx context.Context, t TableRow) (TableRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tableNames[t.Name]; ok {
		return TableRow{}, ErrExists
	}
	m.nextTableID++
	t.ID = m.nextTableID
	m.tables[t.ID] = t
	m.tableNames[t.Name] = t.ID
	m.partByKey[t.ID] = make(map[string]core.PartitionID)
	return t, nil
}

func (m *Mem) DropTable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tableNames[name]
	if !ok {
		return ErrNotFound
	}
	delete(m.tableNames, name)
	delete(m.tables, id)
	delete(m.indexes, id)
	for tag, pid := range m.partByKey[id] {
		delete(m.partitions, pid)
		delete(m.partByKey[id], tag)
	}
	delete(m.partByKey, id)
	for sid, s := range m.segments {
		if _, ok := m.partitions[s.PartitionID]; !ok {
			delete(m.segments, sid)
		}
	}
	return nil
}

func (m *Mem) GetTable(ctx context.Context, name string) (TableRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tableNames[name]
	if !ok {
		return TableRow{}, ErrNotFound
	}
	return m.tables[id], nil
}

func (m *Mem) ListTables(ctx context.Context) ([]TableRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TableRow, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	return out, nil
}

func (m *Mem) CreatePartition(ctx context.Context, tableID core.TableID, tag string) (PartitionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTag, ok := m.partByKey[tableID]
	if !ok {
		return PartitionRow{}, ErrNotFound
	}
	if _, ok := byTag[tag]; ok {
		return PartitionRow{}, ErrExists
	}
	m.nextPartitionID++
	p := PartitionRow{ID: m.nextPartitionID, TableID: tableID, Tag: tag}
	m.partitions[p.ID] = p
	byTag[tag] = p.ID
	return p, nil
}

func (m *Mem) DropPartition(ctx context.Context, tableID core.TableID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTag, ok := m.partByKey[tableID]
	if !ok {
		return ErrNotFound
	}
	pid, ok := byTag[tag]
	if !ok {
		return ErrNotFound
	}
	delete(byTag, tag)
	delete(m.partitions, pid)
	for sid, s := range m.segments {
		if s.PartitionID == pid {
			delete(m.segments, sid)
		}
	}
	return nil
}

func (m *Mem) ListPartitions(ctx context.Context, tableID core.TableID) ([]PartitionRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byTag, ok := m.partByKey[tableID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]PartitionRow, 0, len(byTag))
	for _, pid := range byTag {
		out = append(out, m.partitions[pid])
	}
	return out, nil
}

func (m *Mem) GetPartition(ctx context.Context, tableID core.TableID, tag string) (PartitionRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byTag, ok := m.partByKey[tableID]
	if !ok {
		return PartitionRow{}, ErrNotFound
	}
	pid, ok := byTag[tag]
	if !ok {
		return PartitionRow{}, ErrNotFound
	}
	return m.partitions[pid], nil
}

func (m *Mem) SetIndex(ctx context.Context, idx IndexRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[idx.TableID]; !ok {
		return ErrNotFound
	}
	m.indexes[idx.TableID] = idx
	return nil
}

func (m *Mem) GetIndex(ctx context.Context, tableID core.TableID) (IndexRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[tableID]
	return idx, ok, nil
}

func (m *Mem) DropIndex(ctx context.Context, tableID core.TableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, tableID)
	return nil
}

func (m *Mem) CreateSegment(ctx context.Context, s SegmentRow) (SegmentRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextSegmentID++
		s.ID = m.nextSegmentID
	}
	s.RowVersion = 1
	m.segments[s.ID] = s
	return s, nil
}

func (m *Mem) UpdateSegmentState(ctx context.Context, id core.SegmentID, expectVersion int64, newState core.SegmentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return ErrNotFound
	}
	if s.RowVersion != expectVersion {
		return ErrConflict
	}
	s.State = newState
	s.RowVersion++
	m.segments[id] = s
	return nil
}

func (m *Mem) ListSegments(ctx context.Context, partitionID core.PartitionID) ([]SegmentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SegmentRow
	for _, s := range m.segments {
		if s.PartitionID == partitionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Mem) ListSegmentsByState(ctx context.Context, state core.SegmentState) ([]SegmentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SegmentRow
	for _, s := range m.segments {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Mem) DeleteSegment(ctx context.Context, id core.SegmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, id)
	return nil
}

func (m *Mem) Close() error { return nil }
