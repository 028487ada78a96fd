// Package wal implements the write-ahead log every insert and delete is
// durably recorded to before it becomes visible: a rotating sequence of
// append-only segment files, each record checksummed and length-prefixed
// so a torn tail from an unclean shutdown is detected and truncated rather
// than replayed.
package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"

	"github.com/nanovec/vecengine/core"
)

// Op identifies the kind of mutation a Record describes.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpDelete
	OpFlushMark
)

// ErrTornRecord is returned by Decode when a record's declared length or
// checksum does not match its bytes, which only happens at the tail of a
// log left by an unclean shutdown. Reader.Next treats it as the end of
// that segment file; everything before the torn record is valid and
// already returned.
var ErrTornRecord = errors.New("wal: torn record")

// Record is one WAL entry: a single insert, delete, or flush marker.
type Record struct {
	LSN            core.LSN
	Op             Op
	Table          string
	Tag            string
	Inserts        []core.VectorRow // OpInsert payload
	DeleteIDs      []core.UserID    // OpDelete payload
	FlushSegmentID core.SegmentID   // OpFlushMark payload
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Encode serializes r into its on-disk binary form:
//
//	[u32 len][u32 crc32c][u64 lsn][u8 op][u32 table_len][table][u32 tag_len][tag][payload]
//
// crc32c covers everything from lsn through the end of payload, and len is
// the byte length of that same range. OpFlushMark's payload is a single
// u64 segment id.
func Encode(r Record) []byte {
	var body bytes.Buffer
	writeU64(&body, uint64(r.LSN))
	body.WriteByte(byte(r.Op))
	writeString(&body, r.Table)
	writeString(&body, r.Tag)

	switch r.Op {
	case OpInsert:
		writeU32(&body, uint32(len(r.Inserts)))
		for _, row := range r.Inserts {
			writeU64(&body, uint64(row.ID))
			writeU32(&body, uint32(len(row.Vector)))
			for _, f := range row.Vector {
				writeU32(&body, float32bits(f))
			}
		}
	case OpDelete:
		writeU32(&body, uint32(len(r.DeleteIDs)))
		for _, id := range r.DeleteIDs {
			writeU64(&body, uint64(id))
		}
	case OpFlushMark:
		writeU64(&body, uint64(r.FlushSegmentID))
	}

	sum := crc32.Checksum(body.Bytes(), crcTable)
	out := make([]byte, 0, 8+body.Len())
	var lenBuf, crcBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(body.Len()))
	binary.LittleEndian.PutUint32(crcBuf[:], sum)
	out = append(out, lenBuf[:]...)
	out = append(out, crcBuf[:]...)
	out = append(out, body.Bytes()...)
	return out
}

// Decode reads one record from r, validating its checksum. It returns io.EOF
// at a clean end of input, and ErrTornRecord if the record is incomplete or
// its checksum does not match.
func Decode(r io.Reader) (Record, error) {
	var lenBuf, crcBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, ErrTornRecord
	}
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return Record{}, ErrTornRecord
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, ErrTornRecord
	}
	if crc32.Checksum(body, crcTable) != wantCRC {
		return Record{}, ErrTornRecord
	}

	br := bytes.NewReader(body)
	rec := Record{}
	lsn, err := readU64(br)
	if err != nil {
		return Record{}, ErrTornRecord
	}
	rec.LSN = core.LSN(lsn)
	opByte, err := br.ReadByte()
	if err != nil {
		return Record{}, ErrTornRecord
	}
	rec.Op = Op(opByte)
	rec.Table, err = readString(br)
	if err != nil {
		return Record{}, ErrTornRecord
	}
	rec.Tag, err = readString(br)
	if err != nil {
		return Record{}, ErrTornRecord
	}

	switch rec.Op {
	case OpInsert:
		n, err := readU32(br)
		if err != nil {
			return Record{}, ErrTornRecord
		}
		rec.Inserts = make([]core.VectorRow, n)
		for i := range rec.Inserts {
			id, err := readU64(br)
			if err != nil {
				return Record{}, ErrTornRecord
			}
			dim, err := readU32(br)
			if err != nil {
				return Record{}, ErrTornRecord
			}
			vec := make([]float32, dim)
			for j := range vec {
				bits, err := readU32(br)
				if err != nil {
					return Record{}, ErrTornRecord
				}
				vec[j] = float32frombits(bits)
			}
			rec.Inserts[i] = core.VectorRow{ID: core.UserID(id), Vector: vec}
		}
	case OpDelete:
		n, err := readU32(br)
		if err != nil {
			return Record{}, ErrTornRecord
		}
		rec.DeleteIDs = make([]core.UserID, n)
		for i := range rec.DeleteIDs {
			id, err := readU64(br)
			if err != nil {
				return Record{}, ErrTornRecord
			}
			rec.DeleteIDs[i] = core.UserID(id)
		}
	case OpFlushMark:
		segID, err := readU64(br)
		if err != nil {
			return Record{}, ErrTornRecord
		}
		rec.FlushSegmentID = core.SegmentID(segID)
	}
	return rec, nil
}

func writeU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeString(w *bytes.Buffer, s string) {
	writeU32(w, uint32(len(s)))
	w.WriteString(s)
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}

func float32frombits(b uint32) float32 {
	return math.Float32frombits(b)
}
