package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nanovec/vecengine/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS tables (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	dimension INTEGER NOT NULL,
	metric INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS partitions (
	id INTEGER PRIMARY KEY,
	table_id INTEGER NOT NULL,
	tag TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(table_id, tag)
);
CREATE TABLE IF NOT EXISTS indexes (
	table_id INTEGER PRIMARY KEY,
	kind INTEGER NOT NULL,
	extra TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
	id INTEGER PRIMARY KEY,
	partition_id INTEGER NOT NULL,
	state INTEGER NOT NULL,
	row_count INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	row_version INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS segments_by_partition ON segments(partition_id);
CREATE INDEX IF NOT EXISTS segments_by_state ON segments(state);
`

// SQLite is a Catalog backed by a single meta.db file, giving the engine
// durable metadata without an external database dependency.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the catalog database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateTable(ctx context.Context, t TableRow) (TableRow, error) {
	t.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tables(name, dimension, metric, created_at) VALUES (?, ?, ?, ?)`,
		t.Name, t.Dimension, int(t.Metric), t.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return TableRow{}, ErrExists
		}
		return TableRow{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return TableRow{}, err
	}
	t.ID = core.TableID(id)
	return t, nil
}

func (s *SQLite) DropTable(ctx context.Context, name string) error {
	t, err := s.GetTable(ctx, name)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM segments WHERE partition_id IN (SELECT id FROM partitions WHERE table_id = ?)`, t.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE table_id = ?`, t.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE table_id = ?`, t.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tables WHERE id = ?`, t.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) GetTable(ctx context.Context, name string) (TableRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, dimension, metric, created_at FROM tables WHERE name = ?`, name)
	var t TableRow
	var metric int
	var createdAt int64
	if err := row.Scan(&t.ID, &t.Name, &t.Dimension, &metric, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return TableRow{}, ErrNotFound
		}
		return TableRow{}, err
	}
	t.Metric = core.Metric(metric)
	t.CreatedAt = time.Unix(createdAt, 0)
	return t, nil
}

func (s *SQLite) ListTables(ctx context.Context) ([]TableRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, dimension, metric, created_at FROM tables`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TableRow
	for rows.Next() {
		var t TableRow
		var metric int
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Dimension, &metric, &createdAt); err != nil {
			return nil, err
		}
		t.Metric = core.Metric(metric)
		t.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) CreatePartition(ctx context.Context, tableID core.TableID, tag string) (PartitionRow, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO partitions(table_id, tag, created_at) VALUES (?, ?, ?)`, tableID, tag, now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return PartitionRow{}, ErrExists
		}
		return PartitionRow{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return PartitionRow{}, err
	}
	return PartitionRow{ID: core.PartitionID(id), TableID: tableID, Tag: tag, CreatedAt: now}, nil
}

func (s *SQLite) DropPartition(ctx context.Context, tableID core.TableID, tag string) error {
	p, err := s.GetPartition(ctx, tableID, tag)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE partition_id = ?`, p.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE id = ?`, p.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) ListPartitions(ctx context.Context, tableID core.TableID) ([]PartitionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_id, tag, created_at FROM partitions WHERE table_id = ?`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PartitionRow
	for rows.Next() {
		var p PartitionRow
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.TableID, &p.Tag, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) GetPartition(ctx context.Context, tableID core.TableID, tag string) (PartitionRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, table_id, tag, created_at FROM partitions WHERE table_id = ? AND tag = ?`, tableID, tag)
	var p PartitionRow
	var createdAt int64
	if err := row.Scan(&p.ID, &p.TableID, &p.Tag, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return PartitionRow{}, ErrNotFound
		}
		return PartitionRow{}, err
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return p, nil
}

func (s *SQLite) SetIndex(ctx context.Context, idx IndexRow) error {
	extra, err := json.Marshal(idx.Extra)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO indexes(table_id, kind, extra) VALUES (?, ?, ?)
		 ON CONFLICT(table_id) DO UPDATE SET kind = excluded.kind, extra = excluded.extra`,
		idx.TableID, int(idx.Kind), string(extra))
	return err
}

func (s *SQLite) GetIndex(ctx context.Context, tableID core.TableID) (IndexRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT kind, extra FROM indexes WHERE table_id = ?`, tableID)
	var kind int
	var extra string
	if err := row.Scan(&kind, &extra); err != nil {
		if err == sql.ErrNoRows {
			return IndexRow{}, false, nil
		}
		return IndexRow{}, false, err
	}
	idx := IndexRow{TableID: tableID, Kind: core.IndexKind(kind)}
	if extra != "" {
		if err := json.Unmarshal([]byte(extra), &idx.Extra); err != nil {
			return IndexRow{}, false, err
		}
	}
	return idx, true, nil
}

func (s *SQLite) DropIndex(ctx context.Context, tableID core.TableID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM indexes WHERE table_id = ?`, tableID)
	return err
}

func (s *SQLite) CreateSegment(ctx context.Context, seg SegmentRow) (SegmentRow, error) {
	seg.CreatedAt = time.Now()
	seg.RowVersion = 1
	if seg.ID != 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO segments(id, partition_id, state, row_count, size_bytes, row_version, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			seg.ID, seg.PartitionID, int(seg.State), seg.RowCount, seg.SizeBytes, seg.RowVersion, seg.CreatedAt.Unix())
		if err != nil {
			return SegmentRow{}, err
		}
		return seg, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(partition_id, state, row_count, size_bytes, row_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		seg.PartitionID, int(seg.State), seg.RowCount, seg.SizeBytes, seg.RowVersion, seg.CreatedAt.Unix())
	if err != nil {
		return SegmentRow{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SegmentRow{}, err
	}
	seg.ID = core.SegmentID(id)
	return seg, nil
}

func (s *SQLite) UpdateSegmentState(ctx context.Context, id core.SegmentID, expectVersion int64, newState core.SegmentState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE segments SET state = ?, row_version = row_version + 1
		 WHERE id = ? AND row_version = ?`, int(newState), id, expectVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		row := s.db.QueryRowContext(ctx, `SELECT 1 FROM segments WHERE id = ?`, id)
		var exists int
		if err := row.Scan(&exists); err == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLite) ListSegments(ctx context.Context, partitionID core.PartitionID) ([]SegmentRow, error) {
	return s.querySegments(ctx, `SELECT id, partition_id, state, row_count, size_bytes, row_version, created_at
		FROM segments WHERE partition_id = ?`, partitionID)
}

func (s *SQLite) ListSegmentsByState(ctx context.Context, state core.SegmentState) ([]SegmentRow, error) {
	return s.querySegments(ctx, `SELECT id, partition_id, state, row_count, size_bytes, row_version, created_at
		FROM segments WHERE state = ?`, int(state))
}

func (s *SQLite) querySegments(ctx context.Context, query string, arg any) ([]SegmentRow, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SegmentRow
	for rows.Next() {
		var seg SegmentRow
		var state int
		var createdAt int64
		if err := rows.Scan(&seg.ID, &seg.PartitionID, &state, &seg.RowCount, &seg.SizeBytes, &seg.RowVersion, &createdAt); err != nil {
			return nil, err
		}
		seg.State = core.SegmentState(state)
		seg.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteSegment(ctx context.Context, id core.SegmentID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE id = ?`, id)
	return err
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces SQLite's result code in the error text;
	// there is no typed error for this (unlike mattn/go-sqlite3's
	// sqlite3.Error), so a substring check is the library's documented way
	// to detect a UNIQUE constraint failure.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
