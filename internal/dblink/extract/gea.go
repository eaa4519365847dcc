package extract

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/errs"
)

// GEA produces gea<->bioproject/biosample edges from a GEA MAGE-TAB IDF
// file, reading its "Comment[BioProject]"/"Comment[BioSample]" rows
// alongside the series' own "Comment[GEO Accession]"-style GEA id row
// (spec.md §4.4 gea row).
type GEA struct {
	OnSkip func(raw string, err error)
}

func (e *GEA) Name() string { return "gea" }

func (e *GEA) Extract(ctx context.Context, in dblink.Inputs, out chan<- dblink.Edge) error {
	path, ok := in.AuxPaths["gea_idf"]
	if !ok {
		return nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.E(errs.Op("GEA.Extract"), errs.KindResourceMissing, err)
	}
	defer f.Close()

	var geaID accession.Accession
	var geaOK bool
	var bioprojects, biosamples []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSpace(fields[0])
		switch key {
		case "Comment[GEA Accession]", "MAGE-TAB Identifier":
			geaID, geaOK = classifyOrSkip(strings.TrimSpace(fields[1]), e.OnSkip)
		case "Comment[BioProject]":
			bioprojects = append(bioprojects, strings.TrimSpace(fields[1]))
		case "Comment[BioSample]":
			biosamples = append(biosamples, strings.TrimSpace(fields[1]))
		}
	}
	if err := scanner.Err(); err != nil {
		return errs.E(errs.Op("GEA.Extract"), errs.KindParse, err)
	}
	if !geaOK {
		return nil
	}

	for _, raw := range bioprojects {
		if bp, ok := classifyOrSkip(raw, e.OnSkip); ok {
			if !sendEdge(ctx, out, edge(geaID, bp)) {
				return ctx.Err()
			}
		}
	}
	for _, raw := range biosamples {
		if bs, ok := classifyOrSkip(raw, e.OnSkip); ok {
			if !sendEdge(ctx, out, edge(geaID, bs)) {
				return ctx.Err()
			}
		}
	}
	return nil
}
