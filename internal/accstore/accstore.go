// Package accstore implements the accessions store of spec.md §4.3: a
// columnar, SQLite-backed snapshot of the daily SRA/DRA accessions tab,
// loaded via a single bulk-copy path and exposed for indexed lookup.
package accstore

import (
	"bufio"
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/errs"
)

// Row is one record of SRA_Accessions.tab (spec.md §3 "Accessions store").
type Row struct {
	Accession  string
	Submission string
	Study      string
	Experiment string
	Sample     string
	Analysis   string
	Run        string
	Type       string
	Updated    time.Time
	Published  time.Time
}

// Store wraps the SQLite connection holding the loaded accessions table.
// It follows the teacher's embedding pattern (database.DB wraps *sql.DB)
// and its WAL/pragma tuning (internal/database/database.go).
type Store struct {
	*sql.DB
	path string
}

// Open creates (or reopens) the accessions store at path with the same
// performance pragmas the teacher applies to its SQLite store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_sync=NORMAL")
	if err != nil {
		return nil, errs.E(errs.Op("accstore.Open"), errs.KindResourceMissing, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 100000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = OFF",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errs.E(errs.Op("accstore.Open"), errs.KindResourceMissing, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{DB: db, path: path}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accessions (
		accession  TEXT NOT NULL,
		submission TEXT NOT NULL,
		study      TEXT,
		experiment TEXT,
		sample     TEXT,
		analysis   TEXT,
		run        TEXT,
		type       TEXT NOT NULL,
		updated    TIMESTAMP,
		published  TIMESTAMP,
		PRIMARY KEY (type, accession)
	);
	CREATE INDEX IF NOT EXISTS idx_accessions_submission ON accessions(submission);
	CREATE INDEX IF NOT EXISTS idx_accessions_updated ON accessions(updated);
	`
	_, err := db.Exec(schema)
	if err != nil {
		return errs.E(errs.Op("accstore.createSchema"), errs.KindResourceMissing, err)
	}
	return nil
}

// Load bulk-copies one SRA_Accessions.tab-shaped file into the store,
// inside a single transaction per spec.md §4.3 ("single bulk-copy path").
// A mandatory header row is required; collisions on (type, accession) are
// resolved last-writer-wins and logged via onCollision (DEBUG, spec.md
// §4.3 "Multi-source merge").
func (s *Store) Load(path string, onCollision func(typ, acc string)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errs.E(errs.Op("accstore.Load"), errs.KindResourceMissing, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, errs.E(errs.Op("accstore.Load"), errs.KindResourceMissing, err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return 0, errs.E(errs.Op("accstore.Load"), errs.KindResourceMissing, "empty accessions file: missing mandatory header")
	}
	header := strings.Split(scanner.Text(), "\t")
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, want := range []string{"Accession", "Submission", "Type"} {
		if _, ok := cols[want]; !ok {
			return 0, errs.E(errs.Op("accstore.Load"), errs.KindResourceMissing, fmt.Sprintf("missing required column %q", want))
		}
	}

	tx, err := s.Begin()
	if err != nil {
		return 0, errs.Wrap(errs.Op("accstore.Load"), err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO accessions
			(accession, submission, study, experiment, sample, analysis, run, type, updated, published)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, accession) DO UPDATE SET
			submission = excluded.submission,
			study      = excluded.study,
			experiment = excluded.experiment,
			sample     = excluded.sample,
			analysis   = excluded.analysis,
			run        = excluded.run,
			updated    = excluded.updated,
			published  = excluded.published
	`)
	if err != nil {
		return 0, errs.Wrap(errs.Op("accstore.Load"), err)
	}
	defer stmt.Close()

	get := func(fields []string, name string) string {
		if i, ok := cols[name]; ok && i < len(fields) {
			return strings.TrimSpace(fields[i])
		}
		return ""
	}

	n := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		acc := get(fields, "Accession")
		typ := get(fields, "Type")
		if acc == "" || typ == "" {
			continue
		}

		var existing int
		_ = tx.QueryRow(`SELECT COUNT(*) FROM accessions WHERE type = ? AND accession = ?`, typ, acc).Scan(&existing)
		if existing > 0 && onCollision != nil {
			onCollision(typ, acc)
		}

		_, err := stmt.Exec(
			acc,
			get(fields, "Submission"),
			get(fields, "Study"),
			get(fields, "Experiment"),
			get(fields, "Sample"),
			get(fields, "Analysis"),
			get(fields, "Run"),
			typ,
			parseTimestamp(get(fields, "Updated")),
			parseTimestamp(get(fields, "Published")),
		)
		if err != nil {
			return n, errs.E(errs.Op("accstore.Load"), errs.KindResourceMissing, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, errs.E(errs.Op("accstore.Load"), errs.KindResourceMissing, err)
	}

	if err := tx.Commit(); err != nil {
		return n, errs.Wrap(errs.Op("accstore.Load"), err)
	}
	return n, nil
}

func parseTimestamp(s string) sql.NullTime {
	if s == "" {
		return sql.NullTime{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return sql.NullTime{Time: t, Valid: true}
		}
	}
	return sql.NullTime{}
}

// Downstream returns every (type, accession) reachable from a submission,
// spec.md §4.3's primary lookup.
func (s *Store) Downstream(submission string) ([]accession.Accession, error) {
	rows, err := s.Query(`
		SELECT type, study, experiment, sample, analysis, run
		FROM accessions WHERE submission = ?`, submission)
	if err != nil {
		return nil, errs.Wrap(errs.Op("accstore.Downstream"), err)
	}
	defer rows.Close()

	var out []accession.Accession
	for rows.Next() {
		var typ, study, exp, sample, analysis, run sql.NullString
		if err := rows.Scan(&typ, &study, &exp, &sample, &analysis, &run); err != nil {
			return nil, errs.Wrap(errs.Op("accstore.Downstream"), err)
		}
		for _, v := range []sql.NullString{study, exp, sample, analysis, run} {
			if !v.Valid || v.String == "" {
				continue
			}
			if a, err := accession.Classify(v.String); err == nil {
				out = append(out, a)
			}
		}
	}
	return out, rows.Err()
}

// TypeOf returns the AccessionType recorded for acc, if known. The store's
// own "type" column records provenance among overlapping SRA/DRA prefixes;
// Classify re-derives the AccessionType from the accession's shape so the
// two stay consistent by construction.
func (s *Store) TypeOf(acc string) (accession.AccessionType, bool, error) {
	var exists int
	err := s.QueryRow(`SELECT COUNT(*) FROM accessions WHERE accession = ?`, acc).Scan(&exists)
	if err != nil {
		return accession.Unknown, false, errs.Wrap(errs.Op("accstore.TypeOf"), err)
	}
	if exists == 0 {
		return accession.Unknown, false, nil
	}
	classified, classErr := accession.Classify(acc)
	if classErr != nil {
		return accession.Unknown, false, nil
	}
	return classified.Type, true, nil
}

// UpdatedSince streams submissions whose Updated column is >= ts, for
// incremental SRA/DRA re-materialization (spec.md §4.7 incremental cutoff
// table).
func (s *Store) UpdatedSince(ts time.Time) (func(yield func(string) bool), error) {
	rows, err := s.Query(`SELECT DISTINCT submission FROM accessions WHERE updated >= ?`, ts)
	if err != nil {
		return nil, errs.Wrap(errs.Op("accstore.UpdatedSince"), err)
	}
	return func(yield func(string) bool) {
		defer rows.Close()
		for rows.Next() {
			var sub string
			if err := rows.Scan(&sub); err != nil {
				return
			}
			if !yield(sub) {
				return
			}
		}
	}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.DB.Close() }
