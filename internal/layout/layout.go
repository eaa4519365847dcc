// Package layout resolves the on-disk and environment-driven paths named by
// spec.md §6 ("Persisted state layout"): RESULT_DIR, CONST_DIR, DBLINK_PATH
// and the fixed subtree each pipeline step reads or writes.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Layout resolves every path the pipeline touches from three root
// directories and a run date, mirroring the teacher's paths.Paths env-driven resolution
// (internal/paths/paths.go) but keyed to this pipeline's own env vars.
type Layout struct {
	ResultDir  string
	ConstDir   string
	DBLinkPath string
	Date       string // YYYYMMDD, overridable via DATE for reproducibility
}

// FromEnv builds a Layout from RESULT_DIR, CONST_DIR, DBLINK_PATH and DATE,
// defaulting DATE to today (UTC) when unset.
func FromEnv() Layout {
	date := os.Getenv("DATE")
	if date == "" {
		date = time.Now().UTC().Format("20060102")
	}
	return Layout{
		ResultDir:  getenvDefault("RESULT_DIR", "./result"),
		ConstDir:   getenvDefault("CONST_DIR", "./const"),
		DBLinkPath: getenvDefault("DBLINK_PATH", "./dblink"),
		Date:       date,
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// --- RESULT_DIR subtree ---

func (l Layout) LogsDir() string { return filepath.Join(l.ResultDir, "logs") }

func (l Layout) RunLogPath(runID string) string {
	return filepath.Join(l.LogsDir(), runID+".log.jsonl")
}

func (l Layout) LogStorePath() string { return filepath.Join(l.ResultDir, "log.sqlite3") }

func (l Layout) TmpXMLDir(family string) string {
	return filepath.Join(l.ResultDir, "tmp_xml", family)
}

func (l Layout) JSONLDir(family string) string {
	return filepath.Join(l.ResultDir, family, "jsonl", l.Date)
}

// JSONLShardPath names one emitter output file: {source}_{type}_{NNNN}.jsonl
// under the family's dated JSONL directory (spec.md §4.7 algorithm step 8).
func (l Layout) JSONLShardPath(family, source, typ string, shardIndex int) string {
	return filepath.Join(l.JSONLDir(family), fmt.Sprintf("%s_%s_%04d.jsonl", source, typ, shardIndex))
}

// RegenerateShardPath names one regenerate_jsonl output file under the
// dedicated regenerate directory, never the dated JSONL tree the
// incremental emitter writes to (spec.md §4.7 "regenerate_jsonl ...
// overwriting existing lines in a dedicated output directory").
func (l Layout) RegenerateShardPath(source, typ string, shardIndex int) string {
	return filepath.Join(l.RegenerateDir(), fmt.Sprintf("%s_%s_%04d.jsonl", source, typ, shardIndex))
}

func (l Layout) RegenerateDir() string {
	return filepath.Join(l.ResultDir, "regenerate", l.Date)
}

func (l Layout) LastRunPath() string {
	return filepath.Join(l.ResultDir, "last_run.json")
}

// --- CONST_DIR subtree ---

func (l Layout) SRADir() string { return filepath.Join(l.ConstDir, "sra") }

func (l Layout) AccessionsStorePath(source string) string {
	return filepath.Join(l.SRADir(), source+"_accessions.store")
}

func (l Layout) DBLinkStorePath() string {
	return filepath.Join(l.ConstDir, "dblink", "dblink.store")
}

func (l Layout) DateCachePath() string {
	return filepath.Join(l.ConstDir, "bp_bs_date.store")
}

func (l Layout) NCBITarPath() string { return filepath.Join(l.SRADir(), "NCBI_SRA.tar") }
func (l Layout) DRATarPath() string  { return filepath.Join(l.SRADir(), "DRA.tar") }

// TarIndexPath names the cached offset index sitting alongside tarPath
// (spec.md §4.7 "index cached per tar for random access").
func (l Layout) TarIndexPath(tarPath string) string { return tarPath + ".idx.json" }

func (l Layout) BlacklistPath(source string) string {
	return filepath.Join(l.ConstDir, "blacklist", source+".txt")
}

func (l Layout) PreservedPath(name string) string {
	return filepath.Join(l.ConstDir, "preserved", name+".tsv")
}

// EnsureDirectories creates the directories the pipeline writes into,
// mirroring the teacher's paths.EnsureDirectories.
func (l Layout) EnsureDirectories() error {
	dirs := []string{
		l.LogsDir(),
		l.TmpXMLDir("bp"),
		l.TmpXMLDir("bs"),
		l.JSONLDir("bioproject"),
		l.RegenerateDir(),
		l.SRADir(),
		filepath.Dir(l.DBLinkStorePath()),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
