package emit

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/xml"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/errs"
	"github.com/ddbj/dblink/internal/runlog"
)

// JGAInput names one JGA entity type's shard XML and per-type date.csv
// (spec.md §4.7 "JGA: per-type XML and per-type date.csv").
type JGAInput struct {
	XMLTag      string // e.g. "study", "dataset", "policy", "dac"
	XMLPath     string
	DateCSVPath string
}

// JGADoc is one JGA JSONL document. JGA's incremental-cutoff field is
// always null (spec.md §4.7 table), so every run is full for this family.
type JGADoc struct {
	Accession     string   `json:"accession"`
	Type          string   `json:"type"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	DateCreated   string   `json:"date_created,omitempty"`
	DateModified  string   `json:"date_modified,omitempty"`
	DatePublished string   `json:"date_published,omitempty"`
	DBXrefs       []string `json:"dbXrefs,omitempty"`
}

type jgaDates struct {
	created, modified, published time.Time
}

func loadJGADateCSV(path string) (map[string]jgaDates, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.E(errs.Op("emit.loadJGADateCSV"), errs.KindResourceMissing, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errs.E(errs.Op("emit.loadJGADateCSV"), errs.KindParse, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}

	out := make(map[string]jgaDates)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.E(errs.Op("emit.loadJGADateCSV"), errs.KindParse, err)
		}
		acc := row[col["accession"]]
		if acc == "" {
			continue
		}
		var d jgaDates
		if i, ok := col["date_created"]; ok && i < len(row) {
			d.created = parseBPTimestamp(row[i])
		}
		if i, ok := col["date_modified"]; ok && i < len(row) {
			d.modified = parseBPTimestamp(row[i])
		}
		if i, ok := col["date_published"]; ok && i < len(row) {
			d.published = parseBPTimestamp(row[i])
		}
		out[acc] = d
	}
	return out, nil
}

// EmitJGA runs the JGA JSONL emission step, one shard per configured
// input (study, dataset, policy, dac). JGA emission is non-fatal by
// default (spec.md §5 "Failure isolation"): callers check Stats/errors
// per input and let config.EmitConfig.JGANonFatal decide the step's
// overall verdict.
func EmitJGA(ctx context.Context, inputs []JGAInput, res Resources, opts Options) []ShardResult {
	results := make([]ShardResult, len(inputs))
	for i, in := range inputs {
		stats, err := emitJGAShard(ctx, in, i, res, opts)
		results[i] = ShardResult{Path: in.XMLPath, Index: i, Stats: stats, Err: err}
	}
	return results
}

func emitJGAShard(ctx context.Context, in JGAInput, idx int, res Resources, opts Options) (Stats, error) {
	var stats Stats

	dates, err := loadJGADateCSV(in.DateCSVPath)
	if err != nil {
		return stats, err
	}

	out, err := newDocWriter(opts.shardOutputPath("jga", "jga", in.XMLTag, idx))
	if err != nil {
		return stats, err
	}

	scanErr := scanElements(in.XMLPath, capitalize(in.XMLTag), func(d *xml.Decoder, start xml.StartElement) error {
		var rec struct {
			Accession   string `xml:"accession,attr"`
			Title       string `xml:"Title"`
			Description string `xml:"Description"`
		}
		if err := d.DecodeElement(&rec, &start); err != nil {
			return errs.E(errs.Op("emit.emitJGAShard"), errs.KindParse, err)
		}

		acc, err := accession.Classify(rec.Accession)
		if err != nil {
			stats.Skipped++
			if opts.Log != nil {
				opts.Log.LogClassifyError("skipped unclassifiable jga accession", errs.E(errs.Op("accession.Classify"), errs.KindValidation, err).WithCategory(errs.CategoryInvalidAccession), runlog.WithFile(in.XMLPath))
			}
			return nil
		}

		if !opts.included(acc.Value) {
			return nil
		}

		if res.Blacklist != nil && res.Blacklist.Contains("jga", rec.Accession) {
			stats.Skipped++
			if opts.Log != nil {
				opts.Log.DebugSkip("skipped blacklisted jga accession", errs.CategoryBlacklistSkip, runlog.WithAccession(rec.Accession), runlog.WithFile(in.XMLPath))
			}
			return nil
		}

		doc := JGADoc{Accession: acc.Value, Type: acc.Type.String(), Title: rec.Title, Description: rec.Description}
		if d, ok := dates[acc.Value]; ok {
			if !d.created.IsZero() {
				doc.DateCreated = d.created.UTC().Format(time.RFC3339)
			}
			if !d.modified.IsZero() {
				doc.DateModified = d.modified.UTC().Format(time.RFC3339)
			}
			if !d.published.IsZero() {
				doc.DatePublished = d.published.UTC().Format(time.RFC3339)
			}
		}

		if res.DBLink != nil {
			if xrefs, err := res.DBLink.Downstream(acc); err == nil {
				for _, x := range xrefs {
					doc.DBXrefs = append(doc.DBXrefs, x.String())
				}
			}
		}

		stats.Processed++
		return out.write(doc)
	})

	discard := scanErr != nil || ctx.Err() != nil
	if closeErr := out.close(discard); closeErr != nil && scanErr == nil {
		scanErr = closeErr
	}
	return stats, scanErr
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
