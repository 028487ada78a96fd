package vecengine

import (
	"errors"
	"fmt"

	"github.com/nanovec/vecengine/cache"
	"github.com/nanovec/vecengine/index"
)

// Code is a stable, machine-checkable identifier for a class of engine
// error, independent of the human-readable message wrapped around it.
type Code int

const (
	CodeUnknown Code = iota
	CodeTableNotFound
	CodeTableExists
	CodePartitionNotFound
	CodePartitionExists
	CodeSegmentNotFound
	CodeIndexNotFound
	CodeIndexExists
	CodeDimensionMismatch
	CodeIDNotFound
	CodeCapacityExceeded
	CodeCacheExhausted
	CodeUnsupported
	CodeCorrupt
	CodeClosed
	CodeNoSegmentsToSearch
)

// Sentinel errors, one per Code, for errors.Is-style comparisons at call
// sites that do not need the full CodedError wrapper.
var (
	ErrTableNotFound      = errors.New("vecengine: table not found")
	ErrTableExists        = errors.New("vecengine: table already exists")
	ErrPartitionNotFound  = errors.New("vecengine: partition not found")
	ErrPartitionExists    = errors.New("vecengine: partition already exists")
	ErrSegmentNotFound    = errors.New("vecengine: segment not found")
	ErrIndexNotFound      = errors.New("vecengine: index not found")
	ErrIndexExists        = errors.New("vecengine: index already exists")
	ErrDimensionMismatch  = errors.New("vecengine: vector dimension mismatch")
	ErrIDNotFound         = errors.New("vecengine: vector id not found")
	ErrCapacityExceeded   = errors.New("vecengine: capacity exceeded")
	ErrCacheExhausted     = errors.New("vecengine: block cache exhausted")
	ErrUnsupported        = errors.New("vecengine: operation unsupported")
	ErrCorrupt            = errors.New("vecengine: corrupt on-disk data")
	ErrClosed             = errors.New("vecengine: engine closed")
	ErrNoSegmentsToSearch = errors.New("vecengine: no segments to search")
)

// CodedError attaches a stable Code to an error message and an optional
// wrapped cause, so callers across a process boundary (a CLI exit code, an
// RPC status) can branch on Code without parsing Message.
type CodedError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newCodedError(code Code, sentinel error, msg string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(msg, args...), Cause: sentinel}
}

func errTableNotFound(name string) error {
	return newCodedError(CodeTableNotFound, ErrTableNotFound, "table %q not found", name)
}

func errTableExists(name string) error {
	return newCodedError(CodeTableExists, ErrTableExists, "table %q already exists", name)
}

func errPartitionNotFound(table, tag string) error {
	return newCodedError(CodePartitionNotFound, ErrPartitionNotFound, "partition %q not found in table %q", tag, table)
}

func errPartitionExists(table, tag string) error {
	return newCodedError(CodePartitionExists, ErrPartitionExists, "partition %q already exists in table %q", tag, table)
}

func errIndexNotFound(table string) error {
	return newCodedError(CodeIndexNotFound, ErrIndexNotFound, "no index built for table %q", table)
}

func errIndexExists(table string) error {
	return newCodedError(CodeIndexExists, ErrIndexExists, "index already exists for table %q", table)
}

func errDimensionMismatch(want, got int) error {
	return newCodedError(CodeDimensionMismatch, ErrDimensionMismatch, "dimension mismatch: want %d, got %d", want, got)
}

func errCapacityExceeded(table string) error {
	return newCodedError(CodeCapacityExceeded, ErrCapacityExceeded, "capacity exceeded for table %q", table)
}

func errNoSegmentsToSearch(table string) error {
	return newCodedError(CodeNoSegmentsToSearch, ErrNoSegmentsToSearch, "no requested segments remain in table %q", table)
}

// translateError maps lower-layer sentinel errors (from index and cache)
// onto the engine's own Code taxonomy at the boundary
// where they cross into a public Engine method, so callers never need to
// know which internal package produced the original error.
func translateError(table string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, index.ErrDimensionMismatch):
		return newCodedError(CodeDimensionMismatch, ErrDimensionMismatch, "vector dimension mismatch in table %q", table)
	case errors.Is(err, index.ErrIDNotFound):
		return newCodedError(CodeIDNotFound, ErrIDNotFound, "id not found in table %q", table)
	case errors.Is(err, index.ErrNotTrained):
		return newCodedError(CodeIndexNotFound, ErrIndexNotFound, "index for table %q is not trained", table)
	case errors.Is(err, index.ErrGPUUnsupported):
		return newCodedError(CodeUnsupported, ErrUnsupported, "gpu operations are not supported")
	case errors.Is(err, index.ErrCorrupt):
		return newCodedError(CodeCorrupt, ErrCorrupt, "corrupt index data for table %q", table)
	case errors.Is(err, cache.ErrExhausted):
		return newCodedError(CodeCacheExhausted, ErrCacheExhausted, "block cache exhausted while serving table %q", table)
	default:
		return err
	}
}
