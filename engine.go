package vecengine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanovec/vecengine/blobstore"
	"github.com/nanovec/vecengine/buffer"
	"github.com/nanovec/vecengine/cache"
	"github.com/nanovec/vecengine/catalog"
	"github.com/nanovec/vecengine/core"
	"github.com/nanovec/vecengine/index"
	"github.com/nanovec/vecengine/index/flat"
	"github.com/nanovec/vecengine/index/ivfflat"
	"github.com/nanovec/vecengine/index/ivfpq"
	"github.com/nanovec/vecengine/index/ivfsq8"
	"github.com/nanovec/vecengine/query"
	"github.com/nanovec/vecengine/resource"
	"github.com/nanovec/vecengine/scheduler"
	"github.com/nanovec/vecengine/segment"
	"github.com/nanovec/vecengine/table"
	"github.com/nanovec/vecengine/wal"
)

const (
	stateRunning int32 = 0
	stateStopped int32 = 1
)

// Engine is a single embeddable vector database instance rooted at one
// directory. It owns the catalog, blob store, WAL, insert buffers, block
// cache, and background scheduler that together implement the engine's
// external operations.
type Engine struct {
	root string
	cfg  *config

	cat    catalog.Catalog
	store  blobstore.Store
	cached blobstore.Store
	wlog   *wal.Writer
	bufMgr *buffer.Manager
	blocks *cache.BlockCache
	ctrl   *resource.Controller
	sched  *scheduler.Scheduler
	reg    *index.Registry
	tables *table.Manager
	qexec  *query.Executor

	mu            sync.RWMutex
	residentIndex map[core.SegmentID]index.Index
	deletedAt     map[core.SegmentID]time.Time
	walCheckpoint map[buffer.Key]int

	state atomic.Int32
}

// Open opens or creates an engine rooted at dir, running crash recovery
// and starting the background scheduler before returning.
func Open(ctx context.Context, dir string, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.storeOverride
	if store == nil {
		local, err := blobstore.NewLocal(dir)
		if err != nil {
			return nil, fmt.Errorf("vecengine: open blobstore: %w", err)
		}
		store = local
	}

	cat := cfg.catalogOverride
	if cat == nil {
		sq, err := catalog.OpenSQLite(filepath.Join(dir, "meta.db"))
		if err != nil {
			return nil, fmt.Errorf("vecengine: open catalog: %w", err)
		}
		cat = sq
	}

	wlog, err := wal.Open(filepath.Join(dir, "wal"), cfg.walDurability)
	if err != nil {
		return nil, fmt.Errorf("vecengine: open wal: %w", err)
	}

	e := &Engine{
		root:          dir,
		cfg:           cfg,
		cat:           cat,
		store:         store,
		wlog:          wlog,
		bufMgr:        buffer.NewManager(),
		blocks:        cache.New(cfg.cacheBytes),
		ctrl:          resource.New(cfg.maxBackground, cfg.ioBytesPerSec),
		reg:           defaultRegistry(),
		tables:        table.New(cat),
		residentIndex: make(map[core.SegmentID]index.Index),
		deletedAt:     make(map[core.SegmentID]time.Time),
		walCheckpoint: make(map[buffer.Key]int),
	}
	e.cached = newCachedStore(store, e.blocks)
	qa := newQueryAdapter(e)
	e.qexec = query.New(qa, qa, cfg.searchWorkers)

	if err := e.recover(ctx); err != nil {
		wlog.Close()
		return nil, fmt.Errorf("vecengine: recovery: %w", err)
	}

	e.sched = scheduler.New(e.backgroundTasks(), e.ctrl, cfg.logger, e.tableNames)
	e.sched.Start(ctx)

	return e, nil
}

func defaultRegistry() *index.Registry {
	r := index.NewRegistry()
	r.Register(core.IndexFlat, index.Family{
		New:  func(spec index.Spec) index.Index { return flat.New(spec) },
		Load: flat.Load,
	})
	r.Register(core.IndexIVFFlat, index.Family{
		New:  func(spec index.Spec) index.Index { return ivfflat.New(spec) },
		Load: ivfflat.Load,
	})
	r.Register(core.IndexIVFSQ8, index.Family{
		New:  func(spec index.Spec) index.Index { return ivfsq8.New(spec, false) },
		Load: ivfsq8.Load,
	})
	r.Register(core.IndexIVFSQ8H, index.Family{
		New:  func(spec index.Spec) index.Index { return ivfsq8.New(spec, true) },
		Load: ivfsq8.Load,
	})
	r.Register(core.IndexIVFPQ, index.Family{
		New:  func(spec index.Spec) index.Index { return ivfpq.New(spec) },
		Load: ivfpq.Load,
	})
	return r
}

func (e *Engine) logger() Logger { return e.cfg.logger }

func (e *Engine) checkRunning() error {
	if e.state.Load() == stateStopped {
		return newCodedError(CodeClosed, ErrClosed, "engine is stopped")
	}
	return nil
}

func (e *Engine) tableNames(ctx context.Context) ([]string, error) {
	rows, err := e.cat.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	return names, nil
}

// Stop transitions the engine to a stopped state: background tasks drain,
// buffered inserts are flushed best-effort, and new calls fail with
// ErrClosed until Start is called again.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateRunning, stateStopped) {
		return nil
	}
	e.sched.Stop()

	for _, key := range e.bufMgr.Keys() {
		if err := e.flushKey(ctx, key); err != nil {
			e.logger().Errorf("vecengine: best-effort flush on stop failed: table=%s tag=%s error=%v", key.Table, key.Tag, err)
		}
	}

	return e.wlog.Close()
}

// Start re-opens the WAL and replays recovery, then restarts the
// background scheduler. Only valid after Stop.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateStopped, stateRunning) {
		return nil
	}
	wlog, err := wal.Open(filepath.Join(e.root, "wal"), e.cfg.walDurability)
	if err != nil {
		return err
	}
	e.wlog = wlog
	if err := e.recover(ctx); err != nil {
		return err
	}
	e.sched = scheduler.New(e.backgroundTasks(), e.ctrl, e.cfg.logger, e.tableNames)
	e.sched.Start(ctx)
	return nil
}

// Close is an alias for Stop, also closing the catalog. It is safe to
// call on an already-stopped engine.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.Stop(ctx); err != nil {
		return err
	}
	return e.cat.Close()
}

// CreateTable registers a new table with a single default partition
// (tag ""), ready for immediate insertion.
func (e *Engine) CreateTable(ctx context.Context, name string, dimension int, metric core.Metric) (catalog.TableRow, error) {
	if err := e.checkRunning(); err != nil {
		return catalog.TableRow{}, err
	}
	t, err := e.tables.Create(ctx, name, dimension, metric)
	if err != nil {
		if err == catalog.ErrExists {
			return catalog.TableRow{}, errTableExists(name)
		}
		return catalog.TableRow{}, err
	}
	if _, err := e.tables.CreatePartition(ctx, t.ID, e.cfg.defaultPartTag); err != nil {
		return catalog.TableRow{}, err
	}
	return t, nil
}

// DropTable removes a table and everything under it.
func (e *Engine) DropTable(ctx context.Context, name string) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	t, err := e.tables.Describe(ctx, name)
	if err != nil {
		return e.translateNotFound(name, err)
	}
	parts, _ := e.tables.ShowPartitions(ctx, t.ID)
	for _, p := range parts {
		key := buffer.Key{Table: name, Tag: p.Tag}
		e.bufMgr.Drop(key)
		e.mu.Lock()
		delete(e.walCheckpoint, key)
		e.mu.Unlock()
		segs, _ := e.cat.ListSegments(ctx, p.ID)
		for _, s := range segs {
			e.invalidateSegment(name, p.Tag, s.ID)
		}
	}
	return e.tables.Drop(ctx, name)
}

// DescribeTable returns a table's catalog row.
func (e *Engine) DescribeTable(ctx context.Context, name string) (catalog.TableRow, error) {
	t, err := e.tables.Describe(ctx, name)
	if err != nil {
		return catalog.TableRow{}, e.translateNotFound(name, err)
	}
	return t, nil
}

// HasTable reports whether a table exists.
func (e *Engine) HasTable(ctx context.Context, name string) (bool, error) {
	return e.tables.Has(ctx, name)
}

// AllTables lists every table.
func (e *Engine) AllTables(ctx context.Context) ([]catalog.TableRow, error) {
	return e.tables.All(ctx)
}

// CreatePartition adds a tag-named partition to table.
func (e *Engine) CreatePartition(ctx context.Context, tableName, tag string) (catalog.PartitionRow, error) {
	if err := e.checkRunning(); err != nil {
		return catalog.PartitionRow{}, err
	}
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return catalog.PartitionRow{}, e.translateNotFound(tableName, err)
	}
	p, err := e.tables.CreatePartition(ctx, t.ID, tag)
	if err != nil {
		if err == catalog.ErrExists {
			return catalog.PartitionRow{}, errPartitionExists(tableName, tag)
		}
		return catalog.PartitionRow{}, err
	}
	return p, nil
}

// DropPartitionByTag removes a partition and every segment under it.
func (e *Engine) DropPartitionByTag(ctx context.Context, tableName, tag string) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return e.translateNotFound(tableName, err)
	}
	segs, _ := e.segmentsOfPartition(ctx, t.ID, tag)
	for _, s := range segs {
		e.invalidateSegment(tableName, tag, s.ID)
	}
	dropKey := buffer.Key{Table: tableName, Tag: tag}
	e.bufMgr.Drop(dropKey)
	e.mu.Lock()
	delete(e.walCheckpoint, dropKey)
	e.mu.Unlock()
	if err := e.tables.DropPartition(ctx, t.ID, tag); err != nil {
		if err == catalog.ErrNotFound {
			return errPartitionNotFound(tableName, tag)
		}
		return err
	}
	return nil
}

// ShowPartitions lists every partition of a table.
func (e *Engine) ShowPartitions(ctx context.Context, tableName string) ([]catalog.PartitionRow, error) {
	t, err := e.tables.Describe(ctx, tableName)
	if err != nil {
		return nil, e.translateNotFound(tableName, err)
	}
	return e.tables.ShowPartitions(ctx, t.ID)
}

// GetTableInfo aggregates row and segment counts for a table.
func (e *Engine) GetTableInfo(ctx context.Context, tableName string) (table.Info, error) {
	info, err := e.tables.GetInfo(ctx, tableName)
	if err != nil {
		return table.Info{}, e.translateNotFound(tableName, err)
	}
	return info, nil
}

// Size returns the total bytes the engine's blob store currently occupies
// across every table.
func (e *Engine) Size(ctx context.Context) (int64, error) {
	keys, err := e.store.List(ctx, "tables/")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		n, err := e.store.Stat(ctx, k)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

func (e *Engine) translateNotFound(name string, err error) error {
	if err == catalog.ErrNotFound {
		return errTableNotFound(name)
	}
	return err
}

func (e *Engine) segmentsOfPartition(ctx context.Context, tableID core.TableID, tag string) ([]catalog.SegmentRow, error) {
	p, err := e.cat.GetPartition(ctx, tableID, tag)
	if err != nil {
		return nil, err
	}
	return e.cat.ListSegments(ctx, p.ID)
}

// invalidateSegment drops a segment's resident index and evicts its cached
// data blocks, keyed exactly as segment.Dir lays them out on the blob
// store — the cache is keyed by blob key, not segment ID alone.
func (e *Engine) invalidateSegment(table, tag string, id core.SegmentID) {
	e.mu.Lock()
	delete(e.residentIndex, id)
	e.mu.Unlock()
	dir := segment.Dir(table, tag, id)
	e.blocks.Invalidate(dir + "/raw.vec")
	e.blocks.Invalidate(dir + "/raw.ids")
	e.blocks.Invalidate(dir + "/index.bin")
	e.blocks.Invalidate(dir + "/meta.json")
}
