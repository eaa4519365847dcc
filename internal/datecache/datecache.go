// Package datecache implements spec.md §4.5: a bulk, one-shot projection
// of (accession, dateCreated, dateModified, datePublished) from the
// external relational database into a columnar SQLite file, which the
// JSONL emitters then consult read-only and refuse to start without.
package datecache

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ddbj/dblink/internal/errs"
)

// Dates is the three-timestamp projection kept per accession.
type Dates struct {
	Created   time.Time
	Modified  time.Time
	Published time.Time
}

// family is one entity family's bulk query, following the repository
// style of one query method per read path.
type family struct {
	name  string
	query string
}

// families is the closed set of bulk queries run against Postgres. Table
// and column names mirror the external schema's date-bearing views.
var families = []family{
	{"bioproject", `SELECT accession, date_created, date_modified, date_published FROM bioproject_dates`},
	{"biosample", `SELECT accession, date_created, date_modified, date_published FROM biosample_dates`},
	{"sra", `SELECT accession, date_created, date_modified, date_published FROM sra_dates`},
}

// Store wraps the SQLite-backed cache file.
type Store struct {
	db      *sql.DB
	path    string
	builtAt time.Time
}

// Open opens (without requiring it to exist yet) the cache file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, errs.E(errs.Op("datecache.Open"), errs.KindResourceMissing, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, errs.E(errs.Op("datecache.Open"), errs.KindResourceMissing, err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS dates (
			accession TEXT NOT NULL,
			created   TIMESTAMP,
			modified  TIMESTAMP,
			published TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_dates_accession ON dates(accession);
	`)
	if err != nil {
		return errs.E(errs.Op("datecache.createSchema"), errs.KindResourceMissing, err)
	}
	return nil
}

// Build runs one bulk query per entity family against Postgres and
// rewrites the cache file's dates table inside a single transaction.
// A connection failure is CRITICAL per spec.md §4.5: the caller must
// treat a non-nil error as fatal to the run, not skippable.
func Build(ctx context.Context, pool *pgxpool.Pool, s *Store) error {
	if _, err := s.db.Exec(`DROP TABLE IF EXISTS dates`); err != nil {
		return errs.E(errs.Op("datecache.Build"), errs.KindResourceMissing, err)
	}
	if err := s.createSchema(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.Op("datecache.Build"), err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO dates (accession, created, modified, published) VALUES (?, ?, ?, ?)
		ON CONFLICT(accession) DO UPDATE SET created = excluded.created, modified = excluded.modified, published = excluded.published`)
	if err != nil {
		return errs.Wrap(errs.Op("datecache.Build"), err)
	}
	defer stmt.Close()

	for _, fam := range families {
		rows, err := pool.Query(ctx, fam.query)
		if err != nil {
			return errs.E(errs.Op("datecache.Build"), errs.KindNetwork, err).WithCategory("postgres_connect_failed")
		}

		for rows.Next() {
			var acc string
			var created, modified, published *time.Time
			if err := rows.Scan(&acc, &created, &modified, &published); err != nil {
				rows.Close()
				return errs.Wrap(errs.Op("datecache.Build"), err)
			}
			if _, err := stmt.Exec(acc, created, modified, published); err != nil {
				rows.Close()
				return errs.Wrap(errs.Op("datecache.Build"), err)
			}
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return errs.E(errs.Op("datecache.Build"), errs.KindNetwork, rowsErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.Op("datecache.Build"), err)
	}

	now := time.Now()
	if err := os.Chtimes(s.path, now, now); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Op("datecache.Build"), err)
	}
	s.builtAt = now
	return nil
}

// Lookup is the read path consumed by internal/emit.
func (s *Store) Lookup(acc string) (Dates, bool, error) {
	var created, modified, published sql.NullTime
	err := s.db.QueryRow(`SELECT created, modified, published FROM dates WHERE accession = ?`, acc).
		Scan(&created, &modified, &published)
	if err == sql.ErrNoRows {
		return Dates{}, false, nil
	}
	if err != nil {
		return Dates{}, false, errs.Wrap(errs.Op("datecache.Lookup"), err)
	}
	return Dates{Created: created.Time, Modified: modified.Time, Published: published.Time}, true, nil
}

// FailIfStale returns an error if the cache file is missing or was built
// before runStart, per spec.md §4.5's "strict prerequisite" rule.
func FailIfStale(path string, runStart time.Time) error {
	info, err := os.Stat(path)
	if err != nil {
		return errs.E(errs.Op("datecache.FailIfStale"), errs.KindResourceMissing, "date cache missing: "+path)
	}
	if info.ModTime().Before(runStart) {
		return errs.E(errs.Op("datecache.FailIfStale"), errs.KindResourceMissing, "date cache is older than the current run")
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }
