package extract

import (
	"context"
	"encoding/xml"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/errs"
)

// bpProject is the subset of a BioProject XML <Package> record this
// extractor needs: its own accession, umbrella hierarchy links, and any
// hum-id cross-reference carried in ProjectDescr.
type bpProject struct {
	ArchiveID struct {
		Accession string `xml:"accession,attr"`
	} `xml:"Project>ProjectID>ArchiveID"`
	LocalID      string `xml:"Project>ProjectDescr>LocalID"`
	Hierarchical []struct {
		Type         string `xml:"type,attr"`
		ProjectIDRef struct {
			Accession string `xml:"accession,attr"`
		} `xml:"ProjectIDRef"`
		MemberID struct {
			Accession string `xml:"accession,attr"`
		} `xml:"MemberID"`
	} `xml:"ProjectLinks>Hierarchical"`
}

// BPInternal produces bioproject<->umbrella-bioproject edges from
// Hierarchical[type=TopAdmin] links, and bioproject<->hum-id edges from
// ProjectDescr/LocalID, per spec.md §4.4's bp_internal row.
type BPInternal struct {
	OnSkip func(raw string, err error)
}

func (e *BPInternal) Name() string { return "bp_internal" }

func (e *BPInternal) Extract(ctx context.Context, in dblink.Inputs, out chan<- dblink.Edge) error {
	dir, ok := in.ShardDirs["bioproject"]
	if !ok {
		return nil
	}

	known := make(map[string]struct{})
	if err := decodeElements(dir, "Package", func(d *xml.Decoder, start xml.StartElement) error {
		var pkg bpProject
		if err := d.DecodeElement(&pkg, &start); err != nil {
			return errs.E(errs.Op("BPInternal.Extract"), errs.KindParse, err)
		}
		if pkg.ArchiveID.Accession != "" {
			known[pkg.ArchiveID.Accession] = struct{}{}
		}
		return nil
	}); err != nil {
		return err
	}

	return decodeElements(dir, "Package", func(d *xml.Decoder, start xml.StartElement) error {
		var pkg bpProject
		if err := d.DecodeElement(&pkg, &start); err != nil {
			return errs.E(errs.Op("BPInternal.Extract"), errs.KindParse, err)
		}

		self, ok := classifyOrSkip(pkg.ArchiveID.Accession, e.OnSkip)
		if !ok {
			return nil
		}

		for _, h := range pkg.Hierarchical {
			if h.Type != "TopAdmin" {
				continue
			}
			if h.MemberID.Accession == "" {
				continue
			}
			if _, present := known[h.MemberID.Accession]; !present {
				// Umbrella parent absent from any BioProject shard: private
				// umbrella, excluded (spec.md §4.4).
				if e.OnSkip != nil {
					e.OnSkip(h.MemberID.Accession, errs.E(errs.Op("BPInternal.Extract"), errs.KindValidation, "private umbrella parent").WithCategory(errs.CategoryPrivateUmbrella))
				}
				continue
			}
			child, childOK := classifyOrSkip(h.ProjectIDRef.Accession, e.OnSkip)
			if !childOK {
				continue
			}
			parent := accession.Accession{Type: accession.UmbrellaBioProject, Value: h.MemberID.Accession}
			select {
			case out <- edge(child, parent):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if pkg.LocalID != "" {
			if humID, ok := classifyOrSkip(pkg.LocalID, e.OnSkip); ok {
				select {
				case out <- edge(self, humID):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})
}
