package eventlog

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

// Sink receives flushed batches in append order.
type Sink interface {
	Write(records []Record) error
	Close() error
}

// JSONLSink writes one encoded record per line.
type JSONLSink struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewJSONLSink writes to w. If w is also an io.Closer, Close closes it.
func NewJSONLSink(w io.Writer) *JSONLSink {
	s := &JSONLSink{w: bufio.NewWriterSize(w, 64*1024)}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.closer = c
	}
	return s
}

func (s *JSONLSink) Write(records []Record) error {
	for _, r := range records {
		b, err := Encode(r)
		if err != nil {
			return err
		}
		if _, err := s.w.Write(b); err != nil {
			return err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func (s *JSONLSink) Close() error {
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ZstdSink is a JSONLSink behind a zstd encoder.
type ZstdSink struct {
	f   *os.File
	enc *zstd.Encoder
	*JSONLSink
}

func NewZstdSink(path string) (*ZstdSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &ZstdSink{f: f, enc: enc, JSONLSink: &JSONLSink{w: bufio.NewWriterSize(enc, 128*1024)}}, nil
}

func (s *ZstdSink) Close() error {
	err := s.JSONLSink.Close()
	if cerr := s.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// SQLiteSink stores each record as a row keyed by append sequence.
type SQLiteSink struct {
	db  *sql.DB
	seq int64
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`DELETE FROM events;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			timestamp REAL NOT NULL,
			event_type TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(event_type, timestamp);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (s *SQLiteSink) Write(records []Record) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events(seq, timestamp, event_type, raw_json) VALUES(?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		b, err := Encode(r)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		s.seq++
		if _, err := stmt.ExecContext(ctx, s.seq, r.Timestamp, string(r.Type), string(b)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

// MemorySink keeps every record; used by tests and by in-process replay.
type MemorySink struct {
	Records []Record
}

func (m *MemorySink) Write(records []Record) error {
	m.Records = append(m.Records, records...)
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Format is a stream encoding, chosen by file extension.
type Format int

const (
	FormatJSONL Format = iota
	FormatZstd
	FormatSQLite
)

// FormatOf maps a path to its encoding: *.zst is zstd-compressed JSONL,
// *.db / *.sqlite is SQLite, anything else (including "-") is plain JSONL.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		return FormatZstd
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	}
	return FormatJSONL
}

// OpenSink creates the sink for path; "-" is stdout.
func OpenSink(path string) (Sink, error) {
	if path == "-" {
		return NewJSONLSink(os.Stdout), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	switch FormatOf(path) {
	case FormatZstd:
		return NewZstdSink(path)
	case FormatSQLite:
		return NewSQLiteSink(path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewJSONLSink(f), nil
}
