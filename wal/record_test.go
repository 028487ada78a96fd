package wal

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanovec/vecengine/core"
)

func TestEncodeDecodeInsertRoundtrip(t *testing.T) {
	rec := Record{
		LSN:   42,
		Op:    OpInsert,
		Table: "embeddings",
		Tag:   "en",
		Inserts: []core.VectorRow{
			{ID: 1, Vector: []float32{1.5, -2.25, 3}},
			{ID: 2, Vector: []float32{0, 0, 0}},
		},
	}

	got, err := Decode(bytes.NewReader(Encode(rec)))
	require.NoError(t, err)
	assert.Equal(t, rec.LSN, got.LSN)
	assert.Equal(t, rec.Op, got.Op)
	assert.Equal(t, rec.Table, got.Table)
	assert.Equal(t, rec.Tag, got.Tag)
	assert.Equal(t, rec.Inserts, got.Inserts)
}

func TestEncodeDecodeDeleteRoundtrip(t *testing.T) {
	rec := Record{
		LSN:       7,
		Op:        OpDelete,
		Table:     "t",
		DeleteIDs: []core.UserID{1, 2, 3},
	}

	got, err := Decode(bytes.NewReader(Encode(rec)))
	require.NoError(t, err)
	assert.Equal(t, rec.DeleteIDs, got.DeleteIDs)
}

func TestEncodeDecodeFlushMarkRoundtrip(t *testing.T) {
	rec := Record{
		LSN:            9,
		Op:             OpFlushMark,
		Table:          "t",
		Tag:            "a",
		FlushSegmentID: core.SegmentID(123456789),
	}

	got, err := Decode(bytes.NewReader(Encode(rec)))
	require.NoError(t, err)
	assert.Equal(t, rec.FlushSegmentID, got.FlushSegmentID)
}

func TestDecodeEOFOnEmptyReader(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeTornRecordOnTruncatedBytes(t *testing.T) {
	full := Encode(Record{LSN: 1, Op: OpFlushMark, Table: "t", FlushSegmentID: 1})
	truncated := full[:len(full)-3]

	_, err := Decode(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrTornRecord)
}

func TestDecodeTornRecordOnChecksumMismatch(t *testing.T) {
	full := Encode(Record{LSN: 1, Op: OpFlushMark, Table: "t", FlushSegmentID: 1})
	corrupted := append([]byte(nil), full...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := Decode(bytes.NewReader(corrupted))
	assert.ErrorIs(t, err, ErrTornRecord)
}
