package extract

import (
	"context"
	"encoding/xml"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/errs"
)

// BPBS produces bioproject<->biosample edges from the preserved TSV,
// cross-checked against the set of bioproject accessions actually present
// in the current BioProject shards (spec.md §4.4 bp_bs row).
type BPBS struct {
	OnSkip func(raw string, err error)
}

func (e *BPBS) Name() string { return "bp_bs" }

func (e *BPBS) Extract(ctx context.Context, in dblink.Inputs, out chan<- dblink.Edge) error {
	known := make(map[string]struct{})
	if dir, ok := in.ShardDirs["bioproject"]; ok {
		err := decodeElements(dir, "ArchiveID", func(d *xml.Decoder, start xml.StartElement) error {
			var archiveID struct {
				Accession string `xml:"accession,attr"`
			}
			if err := d.DecodeElement(&archiveID, &start); err != nil {
				return errs.E(errs.Op("BPBS.Extract"), errs.KindParse, err)
			}
			if archiveID.Accession != "" {
				known[archiveID.Accession] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, pe := range in.PreservedEdges {
		bp, bs, ok := bioprojectBiosamplePair(pe.From, pe.To)
		if !ok {
			continue
		}
		if len(known) > 0 {
			if _, present := known[bp.Value]; !present {
				continue
			}
		}
		select {
		case out <- edge(bp, bs):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func bioprojectBiosamplePair(a, b accession.Accession) (bioproject, biosample accession.Accession, ok bool) {
	switch {
	case a.Type == accession.BioProject && b.Type == accession.BioSample:
		return a, b, true
	case a.Type == accession.BioSample && b.Type == accession.BioProject:
		return b, a, true
	default:
		return accession.Accession{}, accession.Accession{}, false
	}
}
