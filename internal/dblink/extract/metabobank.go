package extract

import (
	"context"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/dblink"
)

// MetaboBank produces metabobank<->bioproject/biosample edges, primarily
// from the preserved TSV (MetaboBank IDF/SDRF do not reliably carry
// cross-references the way GEA does), per spec.md §4.4's metabobank row.
type MetaboBank struct {
	OnSkip func(raw string, err error)
}

func (e *MetaboBank) Name() string { return "metabobank" }

func (e *MetaboBank) Extract(ctx context.Context, in dblink.Inputs, out chan<- dblink.Edge) error {
	for _, pe := range in.PreservedEdges {
		mtb, other, ok := metabobankPair(pe.From, pe.To)
		if !ok {
			continue
		}
		if !sendEdge(ctx, out, edge(mtb, other)) {
			return ctx.Err()
		}
	}
	return nil
}

func metabobankPair(a, b accession.Accession) (mtb, other accession.Accession, ok bool) {
	switch {
	case a.Type == accession.MetaboBank && (b.Type == accession.BioProject || b.Type == accession.BioSample):
		return a, b, true
	case b.Type == accession.MetaboBank && (a.Type == accession.BioProject || a.Type == accession.BioSample):
		return b, a, true
	default:
		return accession.Accession{}, accession.Accession{}, false
	}
}
