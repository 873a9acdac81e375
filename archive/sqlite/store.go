// Package sqlite persists archived replay events in a local SQLite
// database. The store is append-mostly: the archiver inserts one row per
// event keyed by (run, stream, seq), and the primary key makes redelivered
// events no-ops so archiver retries stay idempotent.
package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // database/sql driver

	"github.com/robsok/dt-replay-demo/errors"
)

// Row is one archived event. Data holds the event's field map as the
// canonical JSON encoding regardless of the wire codec the event arrived
// in.
type Row struct {
	Run        string
	Stream     string
	Seq        int64
	TS         time.Time
	Data       []byte
	ReceivedAt time.Time
}

// Store is a SQLite-backed event archive.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    run         TEXT    NOT NULL,
    stream      TEXT    NOT NULL,
    seq         INTEGER NOT NULL,
    ts          INTEGER NOT NULL,
    data        TEXT    NOT NULL,
    received_at INTEGER NOT NULL,
    PRIMARY KEY (run, stream, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_stream_ts ON events (stream, ts);
`

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens (creating if needed) the archive database at path and
// applies the schema. The DSN enables WAL and a busy timeout so the
// archiver's worker pool can write concurrently with status queries.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Store", "Open", "archive path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "Open", "open archive database")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "Store", "Open", "ping archive database")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "Store", "Open", "apply archive schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Write inserts one event row. Returns false when the row already exists
// (same run, stream, and seq), which callers treat as a successful
// duplicate rather than an error.
func (s *Store) Write(ctx context.Context, row Row) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run, stream, seq, ts, data, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run, stream, seq) DO NOTHING`,
		row.Run, row.Stream, row.Seq, toMillis(row.TS), string(row.Data),
		toMillis(row.ReceivedAt))
	if err != nil {
		return false, errors.WrapTransient(err, "Store", "Write", "insert event")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.WrapTransient(err, "Store", "Write", "read insert result")
	}
	return n > 0, nil
}

// Count returns the total number of archived events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	if err != nil {
		return 0, errors.WrapTransient(err, "Store", "Count", "count events")
	}
	return n, nil
}

// StreamCounts returns the number of archived events per stream.
func (s *Store) StreamCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stream, COUNT(*) FROM events GROUP BY stream`)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "StreamCounts", "query stream counts")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var stream string
		var n int64
		if err := rows.Scan(&stream, &n); err != nil {
			return nil, errors.WrapTransient(err, "Store", "StreamCounts", "scan stream count")
		}
		counts[stream] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "StreamCounts", "iterate stream counts")
	}
	return counts, nil
}

// Recent returns up to limit events for a stream, newest first by event
// timestamp.
func (s *Store) Recent(ctx context.Context, stream string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run, stream, seq, ts, data, received_at
		 FROM events WHERE stream = ?
		 ORDER BY ts DESC, seq DESC LIMIT ?`, stream, limit)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Recent", "query recent events")
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var r Row
		var ts, received int64
		var data string
		if err := rows.Scan(&r.Run, &r.Stream, &r.Seq, &ts, &data, &received); err != nil {
			return nil, errors.WrapTransient(err, "Store", "Recent", "scan event row")
		}
		r.TS = fromMillis(ts)
		r.ReceivedAt = fromMillis(received)
		r.Data = []byte(data)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "Recent", "iterate events")
	}
	return out, nil
}
