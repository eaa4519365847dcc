package extract

import (
	"context"
	"time"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/errs"
)

// SRAInternal produces sra-submission<->sra-{study,experiment,run,sample,
// analysis} edges and cross-links derived from the accessions store
// (spec.md §4.4 sra_internal row).
type SRAInternal struct {
	OnSkip func(raw string, err error)
}

func (e *SRAInternal) Name() string { return "sra_internal" }

func (e *SRAInternal) Extract(ctx context.Context, in dblink.Inputs, out chan<- dblink.Edge) error {
	if in.AccStore == nil {
		return nil
	}

	seq, err := in.AccStore.UpdatedSince(time.Time{})
	if err != nil {
		return errs.E(errs.Op("SRAInternal.Extract"), errs.KindResourceMissing, err)
	}

	var outerErr error
	seq(func(submission string) bool {
		sub, ok := classifyOrSkip(submission, e.OnSkip)
		if !ok {
			return true
		}

		downstream, err := in.AccStore.Downstream(submission)
		if err != nil {
			outerErr = errs.E(errs.Op("SRAInternal.Extract"), errs.KindResourceMissing, err)
			return false
		}

		for _, acc := range downstream {
			if !sendEdge(ctx, out, edge(sub, acc)) {
				outerErr = ctx.Err()
				return false
			}
		}

		for i := 0; i < len(downstream); i++ {
			for j := i + 1; j < len(downstream); j++ {
				if crossLinkable(downstream[i].Type, downstream[j].Type) {
					if !sendEdge(ctx, out, edge(downstream[i], downstream[j])) {
						outerErr = ctx.Err()
						return false
					}
				}
			}
		}
		return true
	})
	return outerErr
}

// crossLinkable reports whether two downstream accession types under the
// same submission are worth a direct internal cross-link (experiment/run,
// experiment/sample), beyond their shared link to the submission.
func crossLinkable(a, b accession.AccessionType) bool {
	pairs := map[[2]accession.AccessionType]bool{
		{accession.SRAExperiment, accession.SRARun}:    true,
		{accession.SRARun, accession.SRAExperiment}:    true,
		{accession.SRAExperiment, accession.SRASample}: true,
		{accession.SRASample, accession.SRAExperiment}: true,
	}
	return pairs[[2]accession.AccessionType{a, b}]
}
