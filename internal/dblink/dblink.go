// Package dblink implements spec.md §4.4: the DBLink builder, an embedded
// SQLite store of cross-reference edges between accessions, built by a
// fixed sequence of sub-extractors under a single-writer discipline, then
// finalized (canonicalized, blacklist-filtered, deduped, indexed) and
// dumped to a configured set of TSV pairs.
package dblink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/accstore"
	"github.com/ddbj/dblink/internal/blacklist"
	"github.com/ddbj/dblink/internal/errs"
)

// Edge is one cross-reference between two accessions, as produced by an
// extractor, before canonicalization.
type Edge struct {
	SrcType accession.AccessionType
	SrcAcc  string
	DstType accession.AccessionType
	DstAcc  string
}

func (e Edge) src() accession.Accession { return accession.Accession{Type: e.SrcType, Value: e.SrcAcc} }
func (e Edge) dst() accession.Accession { return accession.Accession{Type: e.DstType, Value: e.DstAcc} }

// canonical swaps src/dst if needed so src <= dst under the fixed total
// order, per spec.md §4.4 "Canonicalize every edge".
func (e Edge) canonical() Edge {
	if e.src().Less(e.dst()) || e.src() == e.dst() {
		return e
	}
	return Edge{SrcType: e.DstType, SrcAcc: e.DstAcc, DstType: e.SrcType, DstAcc: e.SrcAcc}
}

// Inputs bundles the read-only dependencies handed to every extractor.
// Not every field is populated for every extractor; an extractor uses
// only the fields its row in spec.md §4.4's table names.
type Inputs struct {
	ShardDirs      map[string]string // family -> directory of split XML shards
	PreservedEdges []blacklist.Edge
	AuxPaths       map[string]string // named auxiliary file/dir paths (assembly summary, GEA IDF/SDRF, JGA CSVs, ...)
	AccStore       *accstore.Store
	Workers        int
}

// Extractor is one sub-extractor of internal/dblink/extract.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, in Inputs, out chan<- Edge) error
}

// Store wraps the embedded SQLite cross-reference database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the store at a tmp path; callers build
// into the tmp store and only Finalize renames it into place.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_sync=NORMAL")
	if err != nil {
		return nil, errs.E(errs.Op("dblink.Open"), errs.KindResourceMissing, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 100000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errs.E(errs.Op("dblink.Open"), errs.KindResourceMissing, err)
		}
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS edges (
			src_type INTEGER NOT NULL,
			src_acc  TEXT NOT NULL,
			dst_type INTEGER NOT NULL,
			dst_acc  TEXT NOT NULL
		);
	`)
	if err != nil {
		return errs.E(errs.Op("dblink.createSchema"), errs.KindResourceMissing, err)
	}
	return nil
}

// Builder runs each Extractor in sequence, serializing its edges into the
// store under the single-writer discipline of spec.md §4.4.
type Builder struct {
	Store           *Store
	Extractors      []Extractor
	TransactionSize int // default 50000, clamped to [10000,100000]
}

// Run executes every extractor sequentially. Each extractor's producer
// goroutines feed a bounded channel; one serializer goroutine drains it
// into the store in TransactionSize batches (spec.md §4.4, grounded on
// the teacher's offset-batched ProcessDocumentType loop).
func (b *Builder) Run(ctx context.Context, in Inputs, onSkip func(extractor string, reason error)) error {
	txSize := b.TransactionSize
	if txSize < 10000 {
		txSize = 10000
	}
	if txSize > 100000 {
		txSize = 100000
	}

	for _, ex := range b.Extractors {
		out := make(chan Edge, 1024)
		errCh := make(chan error, 1)

		go func(ex Extractor) {
			defer close(out)
			errCh <- ex.Extract(ctx, in, out)
		}(ex)

		if err := b.serialize(out, txSize); err != nil {
			return errs.E(errs.Op("dblink.Builder.Run"), errs.KindResourceMissing, fmt.Sprintf("extractor %s: %v", ex.Name(), err))
		}
		if err := <-errCh; err != nil {
			if onSkip != nil {
				onSkip(ex.Name(), err)
			} else {
				return errs.E(errs.Op("dblink.Builder.Run"), errs.KindResourceMissing, fmt.Sprintf("extractor %s: %v", ex.Name(), err))
			}
		}
	}
	return nil
}

func (b *Builder) serialize(edges <-chan Edge, txSize int) error {
	tx, err := b.Store.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO edges (src_type, src_acc, dst_type, dst_acc) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}

	n := 0
	for e := range edges {
		if _, err := stmt.Exec(int(e.SrcType), e.SrcAcc, int(e.DstType), e.DstAcc); err != nil {
			stmt.Close()
			tx.Rollback()
			return err
		}
		n++
		if n >= txSize {
			stmt.Close()
			if err := tx.Commit(); err != nil {
				return err
			}
			tx, err = b.Store.db.Begin()
			if err != nil {
				return err
			}
			stmt, err = tx.Prepare(`INSERT INTO edges (src_type, src_acc, dst_type, dst_acc) VALUES (?, ?, ?, ?)`)
			if err != nil {
				tx.Rollback()
				return err
			}
			n = 0
		}
	}
	stmt.Close()
	return tx.Commit()
}

// Finalize canonicalizes, blacklist-filters, dedups, indexes, and renames
// the tmp store into finalPath (spec.md §4.4 "Finalization").
func Finalize(ctx context.Context, tmpStore *Store, finalPath string, bl *blacklist.Set, preserved []blacklist.Edge) error {
	preservedSet := make(map[string]struct{}, len(preserved))
	for _, e := range preserved {
		preservedSet[edgeKey(Edge{SrcType: e.From.Type, SrcAcc: e.From.Value, DstType: e.To.Type, DstAcc: e.To.Value}.canonical())] = struct{}{}
	}

	rows, err := tmpStore.db.QueryContext(ctx, `SELECT src_type, src_acc, dst_type, dst_acc FROM edges`)
	if err != nil {
		return errs.E(errs.Op("dblink.Finalize"), errs.KindResourceMissing, err)
	}

	seen := make(map[string]Edge)
	for rows.Next() {
		var e Edge
		var srcType, dstType int
		if err := rows.Scan(&srcType, &e.SrcAcc, &dstType, &e.DstAcc); err != nil {
			rows.Close()
			return errs.Wrap(errs.Op("dblink.Finalize"), err)
		}
		e.SrcType, e.DstType = accession.AccessionType(srcType), accession.AccessionType(dstType)
		ce := e.canonical()

		key := edgeKey(ce)
		if _, preserved := preservedSet[key]; !preserved {
			if bl.ContainsAny(ce.SrcAcc) || bl.ContainsAny(ce.DstAcc) {
				continue
			}
		}
		seen[key] = ce
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return errs.E(errs.Op("dblink.Finalize"), errs.KindResourceMissing, rowsErr)
	}

	final, err := Open(finalPath + ".tmp")
	if err != nil {
		return err
	}
	tx, err := final.db.Begin()
	if err != nil {
		final.Close()
		return errs.Wrap(errs.Op("dblink.Finalize"), err)
	}
	stmt, err := tx.Prepare(`INSERT INTO edges (src_type, src_acc, dst_type, dst_acc) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		final.Close()
		return errs.Wrap(errs.Op("dblink.Finalize"), err)
	}
	for _, e := range seen {
		if _, err := stmt.Exec(int(e.SrcType), e.SrcAcc, int(e.DstType), e.DstAcc); err != nil {
			stmt.Close()
			tx.Rollback()
			final.Close()
			return errs.Wrap(errs.Op("dblink.Finalize"), err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		final.Close()
		return errs.Wrap(errs.Op("dblink.Finalize"), err)
	}

	if _, err := final.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_canonical ON edges(src_type, src_acc, dst_type, dst_acc);
		CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst_type, dst_acc);
	`); err != nil {
		final.Close()
		return errs.E(errs.Op("dblink.Finalize"), errs.KindResourceMissing, err)
	}
	final.Close()

	if err := os.Rename(finalPath+".tmp", finalPath); err != nil {
		return errs.Wrap(errs.Op("dblink.Finalize"), err)
	}
	return nil
}

func edgeKey(e Edge) string {
	return fmt.Sprintf("%d:%s|%d:%s", e.SrcType, e.SrcAcc, e.DstType, e.DstAcc)
}

// TSVPair configures one dumped relation: its declared output orientation,
// which may require unswapping canonical storage.
type TSVPair struct {
	SrcType accession.AccessionType
	DstType accession.AccessionType
}

// DumpTSV emits one two-column, no-header, lexicographically-sorted TSV
// file per configured pair into outDir (spec.md §4.4 "TSV dump").
func DumpTSV(store *Store, pairs []TSVPair, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errs.Wrap(errs.Op("dblink.DumpTSV"), err)
	}

	for _, pair := range pairs {
		rows, err := collectPairRows(store, pair)
		if err != nil {
			return err
		}
		sort.Strings(rows)

		name := fmt.Sprintf("%s_%s.tsv", pair.SrcType, pair.DstType)
		path := filepath.Join(outDir, name)
		if err := writeLines(path, rows); err != nil {
			return err
		}
	}
	return nil
}

func collectPairRows(store *Store, pair TSVPair) ([]string, error) {
	var rows []string

	forward, err := store.db.Query(
		`SELECT src_acc, dst_acc FROM edges WHERE src_type = ? AND dst_type = ?`,
		int(pair.SrcType), int(pair.DstType))
	if err != nil {
		return nil, errs.Wrap(errs.Op("dblink.collectPairRows"), err)
	}
	for forward.Next() {
		var a, b string
		if err := forward.Scan(&a, &b); err != nil {
			forward.Close()
			return nil, errs.Wrap(errs.Op("dblink.collectPairRows"), err)
		}
		rows = append(rows, a+"\t"+b)
	}
	forwardErr := forward.Err()
	forward.Close()
	if forwardErr != nil {
		return nil, errs.Wrap(errs.Op("dblink.collectPairRows"), forwardErr)
	}

	if pair.SrcType != pair.DstType {
		reverse, err := store.db.Query(
			`SELECT src_acc, dst_acc FROM edges WHERE src_type = ? AND dst_type = ?`,
			int(pair.DstType), int(pair.SrcType))
		if err != nil {
			return nil, errs.Wrap(errs.Op("dblink.collectPairRows"), err)
		}
		for reverse.Next() {
			var a, b string
			if err := reverse.Scan(&a, &b); err != nil {
				reverse.Close()
				return nil, errs.Wrap(errs.Op("dblink.collectPairRows"), err)
			}
			// canonical storage has this pair's reverse orientation; unswap
			// to match the pair's declared (src, dst) output orientation.
			rows = append(rows, b+"\t"+a)
		}
		reverseErr := reverse.Err()
		reverse.Close()
		if reverseErr != nil {
			return nil, errs.Wrap(errs.Op("dblink.collectPairRows"), reverseErr)
		}
	}

	return rows, nil
}

func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.Op("dblink.writeLines"), err)
	}
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			f.Close()
			return errs.Wrap(errs.Op("dblink.writeLines"), err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.Op("dblink.writeLines"), err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.Op("dblink.writeLines"), err)
	}
	return os.Rename(tmp, path)
}

// Downstream looks up every accession reachable from acc via one canonical
// hop, regardless of which side of storage it landed on. Used by JSONL
// emitters to expand dbXrefs (spec.md §4.7 step 5).
func (s *Store) Downstream(acc accession.Accession) ([]accession.Accession, error) {
	var out []accession.Accession

	rows, err := s.db.Query(`SELECT dst_type, dst_acc FROM edges WHERE src_type = ? AND src_acc = ?`, int(acc.Type), acc.Value)
	if err != nil {
		return nil, errs.Wrap(errs.Op("dblink.Store.Downstream"), err)
	}
	for rows.Next() {
		var t int
		var v string
		if err := rows.Scan(&t, &v); err != nil {
			rows.Close()
			return nil, errs.Wrap(errs.Op("dblink.Store.Downstream"), err)
		}
		out = append(out, accession.Accession{Type: accession.AccessionType(t), Value: v})
	}
	rows.Close()

	rows2, err := s.db.Query(`SELECT src_type, src_acc FROM edges WHERE dst_type = ? AND dst_acc = ?`, int(acc.Type), acc.Value)
	if err != nil {
		return nil, errs.Wrap(errs.Op("dblink.Store.Downstream"), err)
	}
	for rows2.Next() {
		var t int
		var v string
		if err := rows2.Scan(&t, &v); err != nil {
			rows2.Close()
			return nil, errs.Wrap(errs.Op("dblink.Store.Downstream"), err)
		}
		out = append(out, accession.Accession{Type: accession.AccessionType(t), Value: v})
	}
	rows2.Close()

	return out, nil
}

// PairCount is the edge count for one (src_type, dst_type) pair, as
// reported by show-dblink-counts.
type PairCount struct {
	SrcType accession.AccessionType
	DstType accession.AccessionType
	Count   int
}

// PairCounts reports how many edges the store holds per canonicalized
// type pair, for show-dblink-counts' summary table.
func (s *Store) PairCounts() ([]PairCount, error) {
	rows, err := s.db.Query(`
		SELECT src_type, dst_type, COUNT(*)
		FROM edges
		GROUP BY src_type, dst_type
		ORDER BY src_type, dst_type
	`)
	if err != nil {
		return nil, errs.Wrap(errs.Op("dblink.Store.PairCounts"), err)
	}
	defer rows.Close()

	var out []PairCount
	for rows.Next() {
		var srcType, dstType, count int
		if err := rows.Scan(&srcType, &dstType, &count); err != nil {
			return nil, errs.Wrap(errs.Op("dblink.Store.PairCounts"), err)
		}
		out = append(out, PairCount{
			SrcType: accession.AccessionType(srcType),
			DstType: accession.AccessionType(dstType),
			Count:   count,
		})
	}
	return out, rows.Err()
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }
