package emit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ddbj/dblink/internal/errs"
)

// docWriter is the single writer of one JSONL shard file (spec.md §5
// "Output JSONL shards are single-writer per file"): it accumulates lines
// in a buffered writer against a .tmp sibling and renames into place on
// Close, matching the atomic-write discipline used across this module's
// other stores.
type docWriter struct {
	path string
	tmp  string
	f    *os.File
	w    *bufio.Writer
}

func newDocWriter(path string) (*docWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.E(errs.Op("emit.newDocWriter"), errs.KindResourceMissing, err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, errs.E(errs.Op("emit.newDocWriter"), errs.KindResourceMissing, err)
	}
	return &docWriter{path: path, tmp: tmp, f: f, w: bufio.NewWriter(f)}, nil
}

func (dw *docWriter) write(doc any) error {
	line, err := json.Marshal(doc)
	if err != nil {
		return errs.E(errs.Op("docWriter.write"), errs.KindParse, err)
	}
	line = append(line, '\n')
	if _, err := dw.w.Write(line); err != nil {
		return errs.E(errs.Op("docWriter.write"), errs.KindResourceMissing, err)
	}
	return nil
}

// close flushes, fsyncs, and renames tmp into place. discard removes the
// partial file instead (spec.md §5 "workers finish the current record,
// flush partial output to a discarded tmp path, and exit").
func (dw *docWriter) close(discard bool) error {
	if err := dw.w.Flush(); err != nil {
		dw.f.Close()
		return errs.E(errs.Op("docWriter.close"), errs.KindResourceMissing, err)
	}
	if discard {
		dw.f.Close()
		os.Remove(dw.tmp)
		return nil
	}
	if err := dw.f.Sync(); err != nil {
		dw.f.Close()
		return errs.E(errs.Op("docWriter.close"), errs.KindResourceMissing, err)
	}
	if err := dw.f.Close(); err != nil {
		return errs.E(errs.Op("docWriter.close"), errs.KindResourceMissing, err)
	}
	return os.Rename(dw.tmp, dw.path)
}
