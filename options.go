package vecengine

import (
	"runtime"
	"time"

	"github.com/nanovec/vecengine/blobstore"
	"github.com/nanovec/vecengine/catalog"
	"github.com/nanovec/vecengine/wal"
)

// Option configures an Engine at Open time.
type Option func(*config)

type config struct {
	cacheBytes      int64
	walDurability   wal.Durability
	maxBackground   int64
	ioBytesPerSec   int
	searchWorkers   int
	logger          Logger
	catalogOverride catalog.Catalog
	storeOverride   blobstore.Store
	defaultPartTag  string
	quiescence      time.Duration
}

func defaultConfig() *config {
	return &config{
		cacheBytes:     256 << 20,
		walDurability:  wal.GroupCommit,
		maxBackground:  4,
		searchWorkers:  runtime.GOMAXPROCS(0),
		logger:         noopLogger{},
		defaultPartTag: "",
		quiescence:     time.Minute,
	}
}

// WithCacheBytes sets the Block Cache's byte budget.
func WithCacheBytes(n int64) Option {
	return func(c *config) { c.cacheBytes = n }
}

// WithWALDurability selects the WAL's fsync policy.
func WithWALDurability(d wal.Durability) Option {
	return func(c *config) { c.walDurability = d }
}

// WithBackgroundConcurrency bounds how many scheduler tasks (flush, merge,
// index-build, GC) may run at once across all tables.
func WithBackgroundConcurrency(n int64) Option {
	return func(c *config) { c.maxBackground = n }
}

// WithIOThrottle sets the resource controller's IO budget in bytes/sec.
// Zero (the default) means unthrottled. The engine's background tasks do
// not call Controller.WaitIO, so the budget does not slow them down.
func WithIOThrottle(bytesPerSec int) Option {
	return func(c *config) { c.ioBytesPerSec = bytesPerSec }
}

// WithSearchWorkers bounds per-query segment fan-out concurrency.
func WithSearchWorkers(n int) Option {
	return func(c *config) { c.searchWorkers = n }
}

// WithLogger overrides the engine's logger, which defaults to discarding
// everything. Wrap a *slog.Logger with NewSlogLogger, or implement
// Logger directly against any other logging framework.
func WithLogger(l Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithCatalog overrides the engine's metadata catalog, e.g. with an
// in-memory catalog.Mem for tests. The default is a catalog.SQLite rooted
// at <root>/meta.db.
func WithCatalog(cat catalog.Catalog) Option {
	return func(c *config) { c.catalogOverride = cat }
}

// WithBlobStore overrides the engine's segment byte store, e.g. with
// an s3.Store for remote-backed deployments. The default is a
// blobstore.Local rooted at <root>.
func WithBlobStore(store blobstore.Store) Option {
	return func(c *config) { c.storeOverride = store }
}

// WithGCQuiescence sets how long a TO_DELETE segment waits before the GC
// task removes it from disk.
func WithGCQuiescence(d time.Duration) Option {
	return func(c *config) { c.quiescence = d }
}
