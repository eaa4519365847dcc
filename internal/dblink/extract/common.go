// Package extract holds the seven sub-extractors of internal/dblink's
// DBLink builder (spec.md §4.4), each producing one family of edges from
// its own input shape: shard XML, flat relation CSVs, or the accessions
// store.
package extract

import (
	"compress/gzip"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/errs"
)

// shardFiles lists a shard directory's XML files in deterministic order.
func shardFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".xml") || strings.HasSuffix(name, ".xml.gz") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return readCloserPair{Reader: gz, closers: []io.Closer{gz, f}}, nil
	}
	return f, nil
}

type readCloserPair struct {
	io.Reader
	closers []io.Closer
}

func (p readCloserPair) Close() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// decodeElements streams every element named tag, at any depth, out of
// every shard file in dir, handing the decoder and the element's start
// token to handle. Grounded on the teacher's token-loop XML streaming
// (internal/parser/xml_parser.go).
func decodeElements(dir, tag string, handle func(d *xml.Decoder, start xml.StartElement) error) error {
	files, err := shardFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := decodeElementsInFile(path, tag, handle); err != nil {
			return errs.E(errs.Op("extract.decodeElements"), errs.KindParse, err)
		}
	}
	return nil
}

func decodeElementsInFile(path, tag string, handle func(d *xml.Decoder, start xml.StartElement) error) error {
	r, err := openMaybeGzip(path)
	if err != nil {
		return err
	}
	defer r.Close()

	d := xml.NewDecoder(r)
	d.Strict = false

	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == tag {
			if err := handle(d, se); err != nil {
				return err
			}
		}
	}
}

// classifyOrSkip classifies raw and calls onSkip (DEBUG per spec.md §4.4
// "Endpoints that fail classification are dropped") when it fails.
func classifyOrSkip(raw string, onSkip func(raw string, err error)) (accession.Accession, bool) {
	a, err := accession.Classify(raw)
	if err != nil {
		if onSkip != nil {
			onSkip(raw, err)
		}
		return accession.Accession{}, false
	}
	return a, true
}

// edge is a tiny constructor to keep extractor bodies terse.
func edge(a, b accession.Accession) dblink.Edge {
	return dblink.Edge{SrcType: a.Type, SrcAcc: a.Value, DstType: b.Type, DstAcc: b.Value}
}
