package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nanovec/vecengine/core"
)

// Durability selects how aggressively Append forces bytes to stable
// storage before returning.
type Durability int

const (
	// Sync calls fsync after every Append.
	Sync Durability = iota
	// Async never calls fsync on Append; the file is synced only when the
	// writer rotates to a new file or is closed. Acknowledged writes can be
	// lost on a crash.
	Async
	// GroupCommit batches concurrent Appends behind a single fsync,
	// woken by a sync.Cond whenever a batch closes.
	GroupCommit
)

const defaultRotateBytes = 64 << 20 // 64MiB per segment file

// Writer is an append-only, rotating WAL writer. One Writer serves an
// entire engine instance; every table and partition shares the same log,
// distinguished by the Table/Tag fields on each Record.
type Writer struct {
	dir         string
	durability  Durability
	rotateBytes int64

	mu       sync.Mutex
	file     *os.File
	index    int
	written  int64
	lsn      atomic.Uint64

	cond       *sync.Cond
	pending    int
	committing bool
	commitErr  error

	closed bool
}

// Open opens (or creates) a WAL rooted at dir, resuming from the highest
// numbered existing segment file and the LSN high-water mark in it.
func Open(dir string, durability Durability) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &Writer{
		dir:         dir,
		durability:  durability,
		rotateBytes: defaultRotateBytes,
	}
	w.cond = sync.NewCond(&w.mu)

	idx, lsn, err := recoverState(dir)
	if err != nil {
		return nil, err
	}
	w.index = idx
	w.lsn.Store(lsn)

	f, err := os.OpenFile(segmentPath(dir, idx), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	w.written = info.Size()
	return w, nil
}

func segmentPath(dir string, idx int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.wal", idx))
}

// recoverState scans dir's existing *.wal files, replays the newest one to
// find the last LSN written, and returns (newest index, lastLSN).
func recoverState(dir string) (int, uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}
	maxIdx := -1
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wal") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".wal"))
		if err != nil {
			continue
		}
		if n > maxIdx {
			maxIdx = n
		}
	}
	if maxIdx < 0 {
		return 0, 0, nil
	}

	f, err := os.Open(segmentPath(dir, maxIdx))
	if err != nil {
		return maxIdx, 0, err
	}
	defer f.Close()
	var lastLSN uint64
	for {
		rec, err := Decode(f)
		if err != nil {
			break
		}
		lastLSN = uint64(rec.LSN)
	}
	return maxIdx, lastLSN, nil
}

// Append assigns the next LSN to rec, writes it, and — depending on
// Durability — waits for it to be durable before returning.
func (w *Writer) Append(ctx context.Context, rec Record) (Record, error) {
	rec.LSN = core.LSN(w.lsn.Add(1))
	buf := Encode(rec)

	switch w.durability {
	case Sync:
		if err := w.writeAndSync(buf); err != nil {
			return rec, err
		}
	case Async:
		if err := w.writeOnly(buf); err != nil {
			return rec, err
		}
	case GroupCommit:
		if err := w.groupCommit(buf); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func (w *Writer) writeOnly(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	return w.writeLocked(buf)
}

func (w *Writer) writeAndSync(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if err := w.writeLocked(buf); err != nil {
		return err
	}
	return w.file.Sync()
}

// groupCommit writes this Append's bytes immediately but defers the fsync:
// the first Append in a batch becomes the "committer" and fsyncs once on
// behalf of every Append that queued behind it while the committer was
// already in flight, mirroring a classic group-commit batching window.
func (w *Writer) groupCommit(buf []byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return os.ErrClosed
	}
	if err := w.writeLocked(buf); err != nil {
		w.mu.Unlock()
		return err
	}

	if w.committing {
		myGen := w.pending
		w.pending++
		for w.committing && w.pending == myGen+1 {
			w.cond.Wait()
		}
		err := w.commitErr
		w.mu.Unlock()
		return err
	}

	w.committing = true
	w.pending++
	w.mu.Unlock()

	err := w.file.Sync()

	w.mu.Lock()
	w.commitErr = err
	w.committing = false
	w.pending = 0
	w.cond.Broadcast()
	w.mu.Unlock()
	return err
}

func (w *Writer) writeLocked(buf []byte) error {
	n, err := w.file.Write(buf)
	if err != nil {
		return err
	}
	w.written += int64(n)
	if w.written >= w.rotateBytes {
		return w.rotateLocked()
	}
	return nil
}

func (w *Writer) rotateLocked() error {
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.index++
	f, err := os.OpenFile(segmentPath(w.dir, w.index), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.written = 0
	return nil
}

// LastLSN returns the most recently assigned LSN.
func (w *Writer) LastLSN() uint64 {
	return w.lsn.Load()
}

// CurrentIndex returns the index of the segment file currently being
// written to.
func (w *Writer) CurrentIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index
}

// Close fsyncs and closes the active segment file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Segments returns the WAL's segment file indices in ascending order.
func (w *Writer) Segments() ([]int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var idxs []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wal") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".wal"))
		if err != nil {
			continue
		}
		idxs = append(idxs, n)
	}
	sort.Ints(idxs)
	return idxs, nil
}

// TruncateBefore removes every segment file strictly older than idx,
// called by the scheduler's GC task once all records in those segments
// have been flushed into durable segment stores.
func (w *Writer) TruncateBefore(idx int) error {
	idxs, err := w.Segments()
	if err != nil {
		return err
	}
	for _, n := range idxs {
		if n < idx {
			if err := os.Remove(segmentPath(w.dir, n)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// OpenSegmentForRead opens a WAL segment file for sequential replay.
func (w *Writer) OpenSegmentForRead(idx int) (*os.File, error) {
	return os.Open(segmentPath(w.dir, idx))
}
