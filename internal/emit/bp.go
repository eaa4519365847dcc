package emit

import (
	"context"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/errs"
	"github.com/ddbj/dblink/internal/layout"
	"github.com/ddbj/dblink/internal/normalize"
	"github.com/ddbj/dblink/internal/runlog"
)

// Options configures one family's emission run (spec.md §4.7).
type Options struct {
	Layout      layout.Layout
	Full        bool
	Cutoff      time.Time
	HasCutoff   bool
	Log         *runlog.Coordinator
	ParallelNum int

	// Regenerate routes output to the dedicated regenerate directory
	// instead of the dated JSONL tree, and Filter (when non-nil) limits
	// emission to these caller-supplied accessions. Set together by the
	// regenerate_jsonl hotfix operation, which never reads or writes
	// last_run.json (spec.md §4.7 "last_run.json discipline").
	Regenerate bool
	Filter     map[string]struct{}

	// OutputDir overrides the regenerate directory when set, letting
	// regenerate_jsonl's --output-dir point somewhere other than
	// layout.RegenerateDir(). Ignored unless Regenerate is true.
	OutputDir string
}

// shardOutputPath resolves where a family's shard output belongs, given
// whether this run is a regenerate_jsonl hotfix.
func (o Options) shardOutputPath(family, source, typ string, idx int) string {
	if o.Regenerate {
		if o.OutputDir != "" {
			return filepath.Join(o.OutputDir, fmt.Sprintf("%s_%s_%04d.jsonl", source, typ, idx))
		}
		return o.Layout.RegenerateShardPath(source, typ, idx)
	}
	return o.Layout.JSONLShardPath(family, source, typ, idx)
}

// included reports whether acc passes the optional accession filter
// (nil filter means "emit everything that otherwise qualifies").
func (o Options) included(acc string) bool {
	if o.Filter == nil {
		return true
	}
	_, ok := o.Filter[acc]
	return ok
}

// bioProjectRecord is the subset of a BioProject <Package> this emitter
// reads: its own accession, descriptive fields, and the submission's
// last_update (the family's incremental-cutoff field, spec.md §4.7).
type bioProjectRecord struct {
	Project struct {
		ProjectID struct {
			ArchiveID struct {
				Accession string `xml:"accession,attr"`
			} `xml:"ArchiveID"`
		} `xml:"ProjectID"`
		ProjectDescr struct {
			Title       string `xml:"Title"`
			Description string `xml:"Description"`
			LocalID     string `xml:"LocalID"`
			Grant       struct {
				Agency string `xml:"Agency"`
			} `xml:"Grant"`
		} `xml:"ProjectDescr"`
	} `xml:"Project"`
	Submission struct {
		LastUpdate   string `xml:"last_update,attr"`
		DateModified string `xml:"date_modified,attr"`
		Description  struct {
			Organization struct {
				Name string `xml:"Name"`
			} `xml:"Organization"`
		} `xml:"Description"`
	} `xml:"Submission"`
}

func (r bioProjectRecord) lastUpdate() string {
	if r.Submission.LastUpdate != "" {
		return r.Submission.LastUpdate
	}
	return r.Submission.DateModified
}

// BioProjectDoc is one bioproject JSONL document (spec.md §4.7 step 8,
// §3 "per-entity search documents").
type BioProjectDoc struct {
	Accession     string   `json:"accession"`
	Type          string   `json:"type"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	OrgName       string   `json:"organization_name,omitempty"`
	GrantAgency   string   `json:"grant_agency,omitempty"`
	LocalID       string   `json:"local_id,omitempty"`
	DateCreated   string   `json:"date_created,omitempty"`
	DateModified  string   `json:"date_modified,omitempty"`
	DatePublished string   `json:"date_published,omitempty"`
	DBXrefs       []string `json:"dbXrefs,omitempty"`
}

// EmitBioProject runs the BioProject JSONL emission step over shardPaths
// (spec.md §4.7 inputs: XML shards, DBLink DB, date cache, blacklist).
func EmitBioProject(ctx context.Context, shardPaths []string, res Resources, opts Options) []ShardResult {
	return RunPool(ctx, opts.ParallelNum, shardPaths, func(ctx context.Context, path string, idx int) (Stats, error) {
		return emitBioProjectShard(ctx, path, idx, res, opts)
	})
}

func emitBioProjectShard(ctx context.Context, path string, idx int, res Resources, opts Options) (Stats, error) {
	var stats Stats
	out, err := newDocWriter(opts.shardOutputPath("bioproject", "bioproject", "bioproject", idx))
	if err != nil {
		return stats, err
	}

	scanErr := scanElements(path, "Package", func(d *xml.Decoder, start xml.StartElement) error {
		var rec bioProjectRecord
		if err := d.DecodeElement(&rec, &start); err != nil {
			return errs.E(errs.Op("emit.emitBioProjectShard"), errs.KindParse, err)
		}

		raw := rec.Project.ProjectID.ArchiveID.Accession
		acc, err := accession.Classify(raw)
		if err != nil {
			stats.Skipped++
			if opts.Log != nil {
				opts.Log.LogClassifyError("skipped unclassifiable bioproject", errs.E(errs.Op("accession.Classify"), errs.KindValidation, err).WithCategory(errs.CategoryInvalidBioProject), runlog.WithFile(path))
			}
			return nil
		}

		if !opts.included(acc.Value) {
			return nil
		}

		if res.Blacklist != nil && res.Blacklist.Contains("bioproject", raw) {
			stats.Skipped++
			if opts.Log != nil {
				opts.Log.DebugSkip("skipped blacklisted bioproject", errs.CategoryBlacklistSkip, runlog.WithAccession(raw), runlog.WithFile(path))
			}
			return nil
		}

		lastUpdate := parseBPTimestamp(rec.lastUpdate())
		if opts.HasCutoff && !opts.Full {
			if lastUpdate.IsZero() || lastUpdate.Before(opts.Cutoff) {
				stats.Skipped++
				return nil
			}
		}

		doc := BioProjectDoc{
			Accession: acc.Value,
			Type:      acc.Type.String(),
		}
		if v, ok := normalize.Field(normalize.CategoryOrgName, rec.Submission.Description.Organization.Name); ok {
			doc.OrgName = v
		} else if rec.Submission.Description.Organization.Name != "" {
			doc.OrgName = rec.Submission.Description.Organization.Name
			logNormalizeFailed(opts.Log, normalize.CategoryOrgName, raw, path)
		}
		if v, ok := normalize.Field(normalize.CategoryGrantAgency, rec.Project.ProjectDescr.Grant.Agency); ok {
			doc.GrantAgency = v
		} else if rec.Project.ProjectDescr.Grant.Agency != "" {
			doc.GrantAgency = rec.Project.ProjectDescr.Grant.Agency
			logNormalizeFailed(opts.Log, normalize.CategoryGrantAgency, raw, path)
		}
		if v, ok := normalize.Field(normalize.CategoryLocalID, rec.Project.ProjectDescr.LocalID); ok {
			doc.LocalID = v
		} else {
			doc.LocalID = rec.Project.ProjectDescr.LocalID
		}
		doc.Title = rec.Project.ProjectDescr.Title
		doc.Description = rec.Project.ProjectDescr.Description
		if !lastUpdate.IsZero() {
			doc.DateModified = lastUpdate.UTC().Format(time.RFC3339)
		}

		applyDateCacheOverride(res, acc.Value, &doc.DateCreated, &doc.DateModified, &doc.DatePublished)

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

func parseBPTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, f := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"} {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// applyDateCacheOverride fills created/modified/published from res.Dates
// when present, per spec.md invariant I5 "date-cache values present on an
// entity override any value derivable from the XML".
func applyDateCacheOverride(res Resources, acc string, created, modified, published *string) {
	if res.Dates == nil {
		return
	}
	dates, ok, err := res.Dates.Lookup(acc)
	if err != nil || !ok {
		return
	}
	if !dates.Created.IsZero() {
		*created = dates.Created.UTC().Format(time.RFC3339)
	}
	if !dates.Modified.IsZero() {
		*modified = dates.Modified.UTC().Format(time.RFC3339)
	}
	if !dates.Published.IsZero() {
		*published = dates.Published.UTC().Format(time.RFC3339)
	}
}

func logNormalizeFailed(log *runlog.Coordinator, category normalize.Category, raw, path string) {
	if log == nil {
		return
	}
	log.DebugSkip("normalize failed, emitting raw value", string(category), runlog.WithAccession(raw), runlog.WithFile(path))
}
