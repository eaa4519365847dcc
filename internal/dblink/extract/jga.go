package extract

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/errs"
)

// JGA produces jga-study<->jga-dataset/pubmed-id/hum-id, dataset<->policy,
// and policy<->dac edges from seven flat two-column relation CSVs keyed
// in in.AuxPaths (spec.md §4.4 jga row). A merged study<->dac derivation
// is not materialized separately: it is reachable via dataset<->policy and
// policy<->dac, matching spec.md §9's "unified relation schema only"
// resolution.
type JGA struct {
	OnSkip func(raw string, err error)
}

func (e *JGA) Name() string { return "jga" }

var jgaRelationKeys = []string{
	"jga_study_dataset",
	"jga_dataset_policy",
	"jga_policy_dac",
	"jga_study_pubmed",
	"jga_study_humid",
	"jga_dataset_pubmed",
	"jga_dataset_humid",
}

func (e *JGA) Extract(ctx context.Context, in dblink.Inputs, out chan<- dblink.Edge) error {
	for _, key := range jgaRelationKeys {
		path, ok := in.AuxPaths[key]
		if !ok {
			continue
		}
		if err := e.extractCSV(ctx, path, out); err != nil {
			return err
		}
	}
	return nil
}

func (e *JGA) extractCSV(ctx context.Context, path string, out chan<- dblink.Edge) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.E(errs.Op("JGA.extractCSV"), errs.KindResourceMissing, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			// Header row, skipped unconditionally.
			first = false
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		a, aOK := classifyOrSkip(strings.TrimSpace(fields[0]), e.OnSkip)
		b, bOK := classifyOrSkip(strings.TrimSpace(fields[1]), e.OnSkip)
		if !aOK || !bOK {
			continue
		}
		if !sendEdge(ctx, out, edge(a, b)) {
			return ctx.Err()
		}
	}
	return scanner.Err()
}
