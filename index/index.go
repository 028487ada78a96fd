// Package index defines the ANN index contract implemented by each index
// family (flat, ivfflat, ivfsq8, ivfpq) and the shared errors they return.
package index

import (
	"errors"
	"io"

	"github.com/nanovec/vecengine/core"
)

// Sentinel errors returned by Index implementations. Callers distinguish
// them with errors.Is; wrapping is expected at call sites that need to add
// context (segment ID, table name, and so on).
var (
	// ErrNotTrained is returned by Add or Search when Train has not been
	// called and the index family requires training (IVF_*, PQ).
	ErrNotTrained = errors.New("index: not trained")
	// ErrDimensionMismatch is returned when a vector's length does not
	// match the index's configured dimension.
	ErrDimensionMismatch = errors.New("index: dimension mismatch")
	// ErrIDNotFound is returned by SearchByID and GetVectorByID when the
	// requested ID is absent or blacklisted.
	ErrIDNotFound = errors.New("index: id not found")
	// ErrGPUUnsupported is returned by CopyToGPU, CopyToCPU, and any
	// GPU-resident operation. The engine has no GPU index family; these
	// exist only to satisfy the Index contract symmetrically with CPU ops.
	ErrGPUUnsupported = errors.New("index: gpu not supported")
	// ErrCorrupt is returned by Load when the serialized index fails its
	// header or checksum check.
	ErrCorrupt = errors.New("index: corrupt data")
)

// Spec describes how an index should be built: its family, metric, vector
// dimension, and family-specific tuning parameters.
type Spec struct {
	Kind      core.IndexKind
	Metric    core.Metric
	Dimension int

	// NumLists is the number of inverted-file partitions for IVF_* families.
	NumLists int
	// NumSubquantizers is the number of PQ subvectors for IVF_PQ.
	NumSubquantizers int
	// NumProbes is the number of inverted lists visited per search for
	// IVF_* families. Zero means the family default.
	NumProbes int
}

// Index is the contract every ANN index family implements. It mirrors a
// training/building index on one side and a query-serving index on the
// other; a single family implements both, since none of them need more
// than an in-process CPU path.
type Index interface {
	// Train fits any data-dependent structures (coarse quantizer codebook,
	// scalar/product quantizer codebook) from a representative sample.
	// Flat indexes implement Train as a no-op.
	Train(vectors [][]float32) error

	// Add appends rows to the index. Train must have already succeeded for
	// families that require it.
	Add(rows []core.VectorRow) error

	// Search returns the topK nearest rows to query, ordered best-first.
	Search(query []float32, topK int) ([]core.ScoredID, error)

	// SearchByID re-ranks using a previously added row as the query,
	// avoiding a round trip through the caller for the row's vector.
	SearchByID(id core.UserID, topK int) ([]core.ScoredID, error)

	// GetVectorByID returns the stored (or reconstructed, for quantized
	// families) vector for id.
	GetVectorByID(id core.UserID) ([]float32, error)

	// SetBlacklist installs the tombstone set consulted by Search and
	// SearchByID; blacklisted IDs are skipped without being physically
	// removed from the index's internal storage.
	SetBlacklist(blacklist Blacklist)

	// GetBlacklist returns the blacklist currently installed.
	GetBlacklist() Blacklist

	// Dimension returns the configured vector dimension.
	Dimension() int

	// Count returns the number of rows added (including blacklisted ones).
	Count() int

	// Serialize writes the index's binary representation.
	Serialize(w io.Writer) error

	// CopyToGPU and CopyToCPU return ErrGPUUnsupported on every family
	// shipped today; they exist so a future GPU-resident family slots into
	// the same contract without an interface change.
	CopyToGPU(deviceID int) error
	CopyToCPU() error
}

// Blacklist reports whether a UserID has been soft-deleted. Implementations
// must be safe for concurrent Contains calls from multiple searches while a
// Clone is in flight.
type Blacklist interface {
	Contains(id core.UserID) bool
}

// Loader rebuilds an Index from its serialized form. Each family package
// exposes a Load function with this shape rather than a method, since
// loading does not require an existing instance.
type Loader func(r io.Reader, spec Spec) (Index, error)
