package eventlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// Reader decodes a line-delimited stream. Malformed lines are skipped with a
// warning and counted; they never end the stream.
type Reader struct {
	sc *bufio.Scanner
	// Validator, when set, also skips lines that violate the event schema.
	Validator *Validator
	line      int
	skipped   int
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Reader{sc: sc}
}

// Next returns the next well-formed record, or io.EOF.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		r.line++
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if r.Validator != nil {
			if err := r.Validator.ValidateLine(line); err != nil {
				r.skip(err)
				continue
			}
		}
		rec, err := Decode(line)
		if err != nil {
			r.skip(err)
			continue
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

func (r *Reader) skip(err error) {
	r.skipped++
	logrus.Warnf("eventlog: skipping line %d: %v", r.line, err)
}

// Skipped is the number of malformed lines seen so far.
func (r *Reader) Skipped() int { return r.skipped }

// ReadAll drains r.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// OpenFile loads a whole recorded stream in any supported format.
func OpenFile(path string, v *Validator) ([]Record, error) {
	if FormatOf(path) == FormatSQLite {
		return ReadSQLite(path, v)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var src io.Reader = f
	if FormatOf(path) == FormatZstd {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		src = dec
	}
	rd := NewReader(src)
	rd.Validator = v
	recs, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if n := rd.Skipped(); n > 0 {
		logrus.Warnf("eventlog: %s: skipped %d malformed records", path, n)
	}
	return recs, nil
}

// ReadSQLite loads a stream written by SQLiteSink, in append order.
func ReadSQLite(path string, v *Validator) ([]Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT seq, raw_json FROM events ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var seq int64
		var raw string
		if err := rows.Scan(&seq, &raw); err != nil {
			return nil, err
		}
		if v != nil {
			if err := v.ValidateLine([]byte(raw)); err != nil {
				logrus.Warnf("eventlog: skipping row %d: %v", seq, err)
				continue
			}
		}
		rec, err := Decode([]byte(raw))
		if err != nil {
			logrus.Warnf("eventlog: skipping row %d: %v", seq, err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
