// Package logstore mirrors runlog's JSONL run-log records into an
// embedded SQLite database, so show-log/show-log-summary/
// show-dblink-counts can query prior runs without re-parsing every
// rotated JSONL file on disk (spec.md §7 "a query over the run-log
// JSONL/SQLite mirror").
package logstore

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ddbj/dblink/internal/errs"
	"github.com/ddbj/dblink/internal/runlog"
)

// Store wraps the embedded mirror database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the log-store database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_sync=NORMAL")
	if err != nil {
		return nil, errs.E(errs.Op("logstore.Open"), errs.KindResourceMissing, err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id     TEXT PRIMARY KEY,
			run_name   TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at   TEXT,
			outcome    TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id         TEXT NOT NULL,
			ts             TEXT NOT NULL,
			level          TEXT NOT NULL,
			msg            TEXT NOT NULL,
			file           TEXT,
			accession      TEXT,
			source         TEXT,
			debug_category TEXT,
			error          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS records_run_id ON records(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errs.E(errs.Op("logstore.createSchema"), errs.KindResourceMissing, err)
		}
	}
	return nil
}

// Write mirrors one runlog.Record, upserting the owning run's row on the
// record's `start`/`end:*` markers. Matches runlog.Mirror so a Store can
// be passed straight to runlog.WithMirror.
func (s *Store) Write(r runlog.Record) {
	_, _ = s.db.Exec(
		`INSERT INTO records (run_id, ts, level, msg, file, accession, source, debug_category, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.TS.UTC().Format(time.RFC3339Nano), string(r.Level), r.Msg, r.File, r.Accession, r.Source, r.DebugCategory, r.Error,
	)

	switch {
	case r.Msg == "start":
		_, _ = s.db.Exec(
			`INSERT OR IGNORE INTO runs (run_id, run_name, started_at) VALUES (?, ?, ?)`,
			r.RunID, r.RunName, r.TS.UTC().Format(time.RFC3339Nano),
		)
	case r.Msg == "end:"+string(runlog.Success) || r.Msg == "end:"+string(runlog.Failed):
		outcome := r.Msg[len("end:"):]
		_, _ = s.db.Exec(
			`UPDATE runs SET ended_at = ?, outcome = ? WHERE run_id = ?`,
			r.TS.UTC().Format(time.RFC3339Nano), outcome, r.RunID,
		)
	}
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// RunInfo is one run's header row, as listed by show-log.
type RunInfo struct {
	RunID     string
	RunName   string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   string
}

// ListRuns returns the most recent runs, newest first, capped at limit.
func (s *Store) ListRuns(limit int) ([]RunInfo, error) {
	rows, err := s.db.Query(
		`SELECT run_id, run_name, started_at, ended_at, outcome
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, errs.Wrap(errs.Op("logstore.Store.ListRuns"), err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var info RunInfo
		var started string
		var ended, outcome sql.NullString
		if err := rows.Scan(&info.RunID, &info.RunName, &started, &ended, &outcome); err != nil {
			return nil, errs.Wrap(errs.Op("logstore.Store.ListRuns"), err)
		}
		info.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended.Valid {
			info.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
		}
		info.Outcome = outcome.String
		out = append(out, info)
	}
	return out, rows.Err()
}

// Summary is a run's per-level and per-debug-category record counts plus
// its duration, the content of show-log-summary (spec.md §7).
type Summary struct {
	RunInfo
	LevelCounts    map[string]int
	CategoryCounts map[string]int
}

// Duration reports the run's wall-clock duration, or zero if it hasn't
// ended yet.
func (sum Summary) Duration() time.Duration {
	if sum.EndedAt.IsZero() {
		return 0
	}
	return sum.EndedAt.Sub(sum.StartedAt)
}

// Summarize builds a run's Summary. An empty runID resolves to the most
// recently started run.
func (s *Store) Summarize(runID string) (Summary, error) {
	var sum Summary
	var err error
	if runID == "" {
		runs, listErr := s.ListRuns(1)
		if listErr != nil {
			return sum, listErr
		}
		if len(runs) == 0 {
			return sum, errs.E(errs.Op("logstore.Store.Summarize"), errs.KindResourceMissing, "no runs recorded")
		}
		sum.RunInfo = runs[0]
	} else {
		sum.RunInfo, err = s.runInfo(runID)
		if err != nil {
			return sum, err
		}
	}

	sum.LevelCounts, err = s.countsBy(sum.RunID, "level")
	if err != nil {
		return sum, err
	}
	sum.CategoryCounts, err = s.categoryCounts(sum.RunID)
	if err != nil {
		return sum, err
	}
	return sum, nil
}

func (s *Store) runInfo(runID string) (RunInfo, error) {
	var info RunInfo
	var started string
	var ended, outcome sql.NullString
	row := s.db.QueryRow(`SELECT run_id, run_name, started_at, ended_at, outcome FROM runs WHERE run_id = ?`, runID)
	if err := row.Scan(&info.RunID, &info.RunName, &started, &ended, &outcome); err != nil {
		return info, errs.E(errs.Op("logstore.Store.runInfo"), errs.KindResourceMissing, err)
	}
	info.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if ended.Valid {
		info.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
	}
	info.Outcome = outcome.String
	return info, nil
}

func (s *Store) countsBy(runID, column string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT `+column+`, COUNT(*) FROM records WHERE run_id = ? GROUP BY `+column, runID)
	if err != nil {
		return nil, errs.Wrap(errs.Op("logstore.Store.countsBy"), err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, errs.Wrap(errs.Op("logstore.Store.countsBy"), err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func (s *Store) categoryCounts(runID string) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT debug_category, COUNT(*) FROM records
		 WHERE run_id = ? AND debug_category IS NOT NULL AND debug_category != ''
		 GROUP BY debug_category`, runID,
	)
	if err != nil {
		return nil, errs.Wrap(errs.Op("logstore.Store.categoryCounts"), err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, errs.Wrap(errs.Op("logstore.Store.categoryCounts"), err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// Records returns every record of one run, in the order they were
// written, for show-log's raw listing.
func (s *Store) Records(runID string) ([]runlog.Record, error) {
	rows, err := s.db.Query(
		`SELECT ts, level, msg, file, accession, source, debug_category, error
		 FROM records WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, errs.Wrap(errs.Op("logstore.Store.Records"), err)
	}
	defer rows.Close()

	var out []runlog.Record
	for rows.Next() {
		var r runlog.Record
		var ts, level string
		var file, accession, source, category, errMsg sql.NullString
		if err := rows.Scan(&ts, &level, &r.Msg, &file, &accession, &source, &category, &errMsg); err != nil {
			return nil, errs.Wrap(errs.Op("logstore.Store.Records"), err)
		}
		r.RunID = runID
		r.TS, _ = time.Parse(time.RFC3339Nano, ts)
		r.Level = runlog.Level(level)
		r.File = file.String
		r.Accession = accession.String
		r.Source = source.String
		r.DebugCategory = category.String
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}
