package emit

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/accstore"
	"github.com/ddbj/dblink/internal/errs"
	"github.com/ddbj/dblink/internal/runlog"
)

// sraIndexTypes lists the six accession types an SRA submission expands
// to, each backed by its own output index (spec.md §4.7 "Batching for
// SRA"). One submission must land atomically across all six files.
var sraIndexTypes = []accession.AccessionType{
	accession.SRASubmission,
	accession.SRAStudy,
	accession.SRAExperiment,
	accession.SRASample,
	accession.SRAAnalysis,
	accession.SRARun,
}

// SRADoc is one SRA/DRA JSONL document.
type SRADoc struct {
	Accession    string   `json:"accession"`
	Type         string   `json:"type"`
	Submission   string   `json:"submission,omitempty"`
	Title        string   `json:"title,omitempty"`
	DateModified string   `json:"date_modified,omitempty"`
	DBXrefs      []string `json:"dbXrefs,omitempty"`
}

// submissionTitle seeks the submission's XML inside the cached tar index
// and pulls its <Title> element, if present. A missing index or member is
// not an error: the title is simply left blank.
func submissionTitle(idx *TarIndex, submission string) string {
	if idx == nil {
		return ""
	}
	data, err := idx.Read(SubmissionMember(submission))
	if err != nil {
		return ""
	}
	var rec struct {
		Title string `xml:"Title"`
	}
	if err := xml.Unmarshal(data, &rec); err != nil {
		return ""
	}
	return rec.Title
}

// EmitSRA runs the SRA/DRA JSONL emission step: it walks submissions via
// the accessions store's UpdatedSince iterator (already honoring the
// incremental cutoff, spec.md §4.7's "SRA/DRA: Accessions store Updated
// column"), batches them batchSize at a time, and for each batch opens
// the six index output files, writing every submission's documents to
// all six atomically before moving to the next submission. tarIdx is the
// cached per-tar offset index used to seek directly to each submission's
// XML (nil skips title enrichment, e.g. in tests with no tar fixture).
func EmitSRA(ctx context.Context, store *accstore.Store, batchSize int, res Resources, opts Options, tarIdx *TarIndex) []ShardResult {
	if batchSize <= 0 {
		batchSize = 5000
	}

	cutoff := time.Time{}
	if opts.HasCutoff && !opts.Full {
		cutoff = opts.Cutoff
	}

	iter, err := store.UpdatedSince(cutoff)
	if err != nil {
		return []ShardResult{{Err: err}}
	}

	var results []ShardResult
	var batch []string
	shardIdx := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		stats, err := emitSRABatch(ctx, batch, shardIdx, store, res, opts, tarIdx)
		results = append(results, ShardResult{Index: shardIdx, Stats: stats, Err: err})
		shardIdx++
		batch = batch[:0]
	}

	iter(func(submission string) bool {
		if ctx.Err() != nil {
			return false
		}
		batch = append(batch, submission)
		if len(batch) >= batchSize {
			flush()
		}
		return true
	})
	flush()

	return results
}

func emitSRABatch(ctx context.Context, submissions []string, shardIdx int, store *accstore.Store, res Resources, opts Options, tarIdx *TarIndex) (Stats, error) {
	var stats Stats

	writers := make(map[accession.AccessionType]*docWriter, len(sraIndexTypes))
	for _, t := range sraIndexTypes {
		w, err := newDocWriter(opts.shardOutputPath("sra", "sra", t.String(), shardIdx))
		if err != nil {
			closeAll(writers, true)
			return stats, err
		}
		writers[t] = w
	}

	var batchErr error
	for _, submission := range submissions {
		if ctx.Err() != nil {
			batchErr = ctx.Err()
			break
		}

		subAcc, err := accession.Classify(submission)
		if err != nil {
			stats.Skipped++
			if opts.Log != nil {
				opts.Log.LogClassifyError("skipped unclassifiable sra submission", errs.E(errs.Op("accession.Classify"), errs.KindValidation, err).WithCategory(errs.CategoryInvalidAccession))
			}
			continue
		}
		if !opts.included(subAcc.Value) {
			continue
		}

		if res.Blacklist != nil && res.Blacklist.ContainsAny(submission) {
			stats.Skipped++
			if opts.Log != nil {
				opts.Log.DebugSkip("skipped blacklisted sra submission", errs.CategoryBlacklistSkip, runlog.WithAccession(submission))
			}
			continue
		}

		downstream, err := store.Downstream(submission)
		if err != nil {
			if opts.Log != nil {
				opts.Log.Error("sra downstream lookup failed", err, runlog.WithAccession(submission))
			}
			continue
		}

		docs := make(map[accession.AccessionType][]SRADoc, len(sraIndexTypes))
		docs[accession.SRASubmission] = append(docs[accession.SRASubmission], SRADoc{
			Accession: subAcc.Value,
			Type:      subAcc.Type.String(),
			Title:     submissionTitle(tarIdx, subAcc.Value),
		})

		for _, acc := range downstream {
			if res.Blacklist != nil && res.Blacklist.ContainsAny(acc.Value) {
				continue
			}
			doc := SRADoc{Accession: acc.Value, Type: acc.Type.String(), Submission: subAcc.Value}
			if res.DBLink != nil {
				if xrefs, err := res.DBLink.Downstream(acc); err == nil {
					for _, x := range xrefs {
						doc.DBXrefs = append(doc.DBXrefs, x.String())
					}
				}
			}
			docs[acc.Type] = append(docs[acc.Type], doc)
		}

		// All writes for this submission succeed or the batch is
		// aborted and discarded: partial writes across the six indices
		// would violate spec.md §4.7's atomic-per-submission guarantee.
		wrote := false
		for t, w := range writers {
			for _, doc := range docs[t] {
				if err := w.write(doc); err != nil {
					batchErr = err
					break
				}
				wrote = true
			}
			if batchErr != nil {
				break
			}
		}
		if batchErr != nil {
			break
		}
		if wrote {
			stats.Processed++
		}
	}

	closeAll(writers, batchErr != nil)
	return stats, batchErr
}

func closeAll(writers map[accession.AccessionType]*docWriter, discard bool) {
	for _, w := range writers {
		_ = w.close(discard)
	}
}
