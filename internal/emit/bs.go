package emit

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/errs"
	"github.com/ddbj/dblink/internal/normalize"
	"github.com/ddbj/dblink/internal/runlog"
)

// bioSampleRecord is the subset of a <BioSample> this emitter reads. Its
// own last_update attribute is the family's incremental-cutoff field
// (spec.md §4.7 "BioSample: XML BioSample/@last_update").
type bioSampleRecord struct {
	Accession  string `xml:"accession,attr"`
	LastUpdate string `xml:"last_update,attr"`
	Models     struct {
		Model []string `xml:"Model"`
	} `xml:"Models"`
	Description struct {
		Title    string `xml:"Title"`
		Organism struct {
			TaxonomyName string `xml:"taxonomy_name,attr"`
		} `xml:"Organism"`
	} `xml:"Description"`
	Owner struct {
		Name string `xml:"Name"`
	} `xml:"Owner"`
	Ids struct {
		ID []struct {
			Value string `xml:",chardata"`
			DB    string `xml:"db,attr"`
		} `xml:"Id"`
	} `xml:"Ids"`
}

func (r bioSampleRecord) bioSampleSetID() string {
	for _, id := range r.Ids.ID {
		if id.DB == "BioSampleSet" {
			return id.Value
		}
	}
	return ""
}

// BioSampleDoc is one biosample JSONL document (spec.md §4.7 step 8).
type BioSampleDoc struct {
	Accession      string   `json:"accession"`
	Type           string   `json:"type"`
	Title          string   `json:"title,omitempty"`
	OrganismName   string   `json:"organism_name,omitempty"`
	OwnerName      string   `json:"owner_name,omitempty"`
	Model          string   `json:"model,omitempty"`
	BioSampleSetID string   `json:"biosample_set_id,omitempty"`
	DateCreated    string   `json:"date_created,omitempty"`
	DateModified   string   `json:"date_modified,omitempty"`
	DatePublished  string   `json:"date_published,omitempty"`
	DBXrefs        []string `json:"dbXrefs,omitempty"`
}

// EmitBioSample runs the BioSample JSONL emission step over shardPaths.
func EmitBioSample(ctx context.Context, shardPaths []string, res Resources, opts Options) []ShardResult {
	return RunPool(ctx, opts.ParallelNum, shardPaths, func(ctx context.Context, path string, idx int) (Stats, error) {
		return emitBioSampleShard(ctx, path, idx, res, opts)
	})
}

func emitBioSampleShard(ctx context.Context, path string, idx int, res Resources, opts Options) (Stats, error) {
	var stats Stats
	out, err := newDocWriter(opts.shardOutputPath("biosample", "biosample", "biosample", idx))
	if err != nil {
		return stats, err
	}

	scanErr := scanElements(path, "BioSample", func(d *xml.Decoder, start xml.StartElement) error {
		var rec bioSampleRecord
		if err := d.DecodeElement(&rec, &start); err != nil {
			return errs.E(errs.Op("emit.emitBioSampleShard"), errs.KindParse, err)
		}

		raw := rec.Accession
		acc, err := accession.Classify(raw)
		if err != nil {
			stats.Skipped++
			if opts.Log != nil {
				opts.Log.LogClassifyError("skipped unclassifiable biosample", errs.E(errs.Op("accession.Classify"), errs.KindValidation, err).WithCategory(errs.CategoryInvalidBioSample), runlog.WithFile(path))
			}
			return nil
		}

		if !opts.included(acc.Value) {
			return nil
		}

		if res.Blacklist != nil && res.Blacklist.Contains("biosample", raw) {
			stats.Skipped++
			if opts.Log != nil {
				opts.Log.DebugSkip("skipped blacklisted biosample", errs.CategoryBlacklistSkip, runlog.WithAccession(raw), runlog.WithFile(path))
			}
			return nil
		}

		lastUpdate := parseBPTimestamp(rec.LastUpdate)
		if opts.HasCutoff && !opts.Full {
			if lastUpdate.IsZero() || lastUpdate.Before(opts.Cutoff) {
				stats.Skipped++
				return nil
			}
		}

		doc := BioSampleDoc{
			Accession:    acc.Value,
			Type:         acc.Type.String(),
			Title:        rec.Description.Title,
			OrganismName: rec.Description.Organism.TaxonomyName,
		}
		if v, ok := normalize.Field(normalize.CategoryOwnerName, rec.Owner.Name); ok {
			doc.OwnerName = v
		} else if rec.Owner.Name != "" {
			doc.OwnerName = rec.Owner.Name
			logNormalizeFailed(opts.Log, normalize.CategoryOwnerName, raw, path)
		}
		if len(rec.Models.Model) > 0 {
			if v, ok := normalize.Field(normalize.CategoryModel, rec.Models.Model[0]); ok {
				doc.Model = v
			} else {
				doc.Model = rec.Models.Model[0]
				logNormalizeFailed(opts.Log, normalize.CategoryModel, raw, path)
			}
		}
		if setID := rec.bioSampleSetID(); setID != "" {
			if v, ok := normalize.Field(normalize.CategoryBioSampleSet, setID); ok {
				doc.BioSampleSetID = v
			} else {
				doc.BioSampleSetID = setID
				logNormalizeFailed(opts.Log, normalize.CategoryBioSampleSet, raw, path)
			}
		}
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
