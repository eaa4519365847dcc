// Package shard implements the streaming XML splitter from
// spec.md §4.2: it turns a multi-GB BioSampleSet/PackageSet XML document
// into fixed-size shard files, each re-wrapped in the original root
// element, written to a temp directory and renamed atomically on success.
package shard

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ddbj/dblink/internal/errs"
)

// Config describes one splitting job.
type Config struct {
	InputPath       string // source file; gzip-detected by ".gz" suffix
	RootTag         string // e.g. "BioSampleSet", "PackageSet"
	RecordOpenTag   string // e.g. "<BioSample", "<Package"
	RecordCloseTag  string // e.g. "</BioSample>", "</Package>"
	RecordsPerShard int
	OutDir          string
	NamePrefix      string // shard filename prefix, e.g. "split"
}

// Result summarizes a completed split.
type Result struct {
	ShardPaths   []string
	TotalRecords int
}

const readChunk = 256 * 1024

// Split streams InputPath and writes N-record shards into OutDir, renamed
// into place atomically on success. A corrupt (unmatched) trailing record
// fails the split with a KindResourceMissing (CRITICAL) error and leaves
// no partial shards behind.
func Split(cfg Config) (Result, error) {
	if cfg.RecordsPerShard <= 0 {
		cfg.RecordsPerShard = 30000
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "split"
	}

	f, err := os.Open(cfg.InputPath)
	if err != nil {
		return Result{}, errs.E(errs.Op("shard.Split"), errs.KindResourceMissing, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(cfg.InputPath, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Result{}, errs.E(errs.Op("shard.Split"), errs.KindResourceMissing, err)
		}
		defer gz.Close()
		r = gz
	}

	tmpDir := cfg.OutDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return Result{}, errs.Wrap(errs.Op("shard.Split"), err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return Result{}, errs.Wrap(errs.Op("shard.Split"), err)
	}

	result, err := splitInto(r, cfg, tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return Result{}, err
	}

	if err := os.RemoveAll(cfg.OutDir); err != nil {
		os.RemoveAll(tmpDir)
		return Result{}, errs.Wrap(errs.Op("shard.Split"), err)
	}
	if err := os.Rename(tmpDir, cfg.OutDir); err != nil {
		os.RemoveAll(tmpDir)
		return Result{}, errs.Wrap(errs.Op("shard.Split"), err)
	}

	for i, p := range result.ShardPaths {
		result.ShardPaths[i] = filepath.Join(cfg.OutDir, filepath.Base(p))
	}
	return result, nil
}

// splitInto does the actual byte-level scan. Its read buffer holds only
// the bytes not yet consumed as a record, but the records of the shard
// being built are kept in memory until that shard is written, so peak
// memory grows with RecordsPerShard times record size, not with the
// largest single record.
func splitInto(r io.Reader, cfg Config, tmpDir string) (Result, error) {
	br := bufio.NewReaderSize(r, readChunk)
	closeTag := []byte(cfg.RecordCloseTag)
	openTag := []byte(cfg.RecordOpenTag)

	// indexOpen finds openTag only where the tag name ends right after it,
	// so "<BioSample" does not match inside "<BioSampleSet>".
	indexOpen := func(b []byte) int {
		for off := 0; ; off++ {
			i := bytes.Index(b[off:], openTag)
			if i < 0 {
				return -1
			}
			off += i
			if end := off + len(openTag); end == len(b) || strings.IndexByte(" \t\r\n>/", b[end]) >= 0 {
				return off
			}
		}
	}

	var buf bytes.Buffer
	chunk := make([]byte, readChunk)

	var records []string
	shardIndex := 0
	totalRecords := 0
	var shardPaths []string

	flush := func() error {
		if len(records) == 0 {
			return nil
		}
		name := fmt.Sprintf("%s_%04d.xml", cfg.NamePrefix, shardIndex)
		path := filepath.Join(tmpDir, name)
		if err := writeShard(path, cfg.RootTag, records); err != nil {
			return err
		}
		shardPaths = append(shardPaths, path)
		shardIndex++
		records = records[:0]
		return nil
	}

	searchFrom := 0
	for {
		n, readErr := br.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}

		for {
			data := buf.Bytes()
			idx := bytes.Index(data[searchFrom:], closeTag)
			if idx < 0 {
				if len(data) > len(closeTag) {
					searchFrom = len(data) - len(closeTag) + 1
				}
				break
			}
			recordEnd := searchFrom + idx + len(closeTag)
			recordStart := indexOpen(data[:recordEnd])
			if recordStart < 0 {
				// No open tag preceding this close tag: not a record
				// boundary we recognize (e.g. it's inside the root tag's
				// own text). Treat the whole prefix as consumed filler.
				buf.Next(recordEnd)
				searchFrom = 0
				continue
			}

			record := string(data[recordStart:recordEnd])
			records = append(records, record)
			totalRecords++

			if len(records) >= cfg.RecordsPerShard {
				if err := flush(); err != nil {
					return Result{}, err
				}
			}

			buf.Next(recordEnd)
			searchFrom = 0
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, errs.E(errs.Op("shard.Split"), errs.KindShard, readErr)
		}
	}

	// Whatever remains must be pure filler (root open/close tags, XML
	// declaration, whitespace) — never a dangling record, or the input is
	// corrupt (spec.md §4.2 "Failure").
	remainder := bytes.TrimSpace(buf.Bytes())
	if indexOpen(remainder) >= 0 {
		return Result{}, errs.E(
			errs.Op("shard.Split"), errs.KindResourceMissing,
			fmt.Sprintf("unmatched record start tag %q near end of input: corrupt document", cfg.RecordOpenTag),
		)
	}

	if err := flush(); err != nil {
		return Result{}, err
	}

	return Result{ShardPaths: shardPaths, TotalRecords: totalRecords}, nil
}

func writeShard(path, rootTag string, records []string) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.Op("shard.writeShard"), err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "<%s>\n", rootTag)
	for _, rec := range records {
		w.WriteString(rec)
		w.WriteByte('\n')
	}
	fmt.Fprintf(w, "</%s>\n", rootTag)
	if err := w.Flush(); err != nil {
		return errs.Wrap(errs.Op("shard.writeShard"), err)
	}
	return f.Sync()
}
