package extract

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/errs"
)

// AssemblyMaster produces insdc-assembly<->bioproject/biosample/insdc-master
// and insdc-master<->bioproject/biosample edges from the NCBI assembly
// summary report, whose columns follow assembly_summary.txt:
// assembly_accession, bioproject, biosample, wgs_master, ... (spec.md §4.4
// assembly_master row).
type AssemblyMaster struct {
	OnSkip func(raw string, err error)
}

func (e *AssemblyMaster) Name() string { return "assembly_master" }

func (e *AssemblyMaster) Extract(ctx context.Context, in dblink.Inputs, out chan<- dblink.Edge) error {
	path, ok := in.AuxPaths["assembly_summary"]
	if !ok {
		return nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.E(errs.Op("AssemblyMaster.Extract"), errs.KindResourceMissing, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 4 {
			continue
		}
		assembly, bioproject, biosample, wgsMaster := cols[0], cols[1], cols[2], cols[3]

		assemblyAcc, assemblyOK := classifyOrSkip(assembly, e.OnSkip)
		if !assemblyOK {
			continue
		}

		if bioproject != "" && bioproject != "na" {
			if bp, ok := classifyOrSkip(bioproject, e.OnSkip); ok {
				if !sendEdge(ctx, out, edge(assemblyAcc, bp)) {
					return ctx.Err()
				}
			}
		}
		if biosample != "" && biosample != "na" {
			if bs, ok := classifyOrSkip(biosample, e.OnSkip); ok {
				if !sendEdge(ctx, out, edge(assemblyAcc, bs)) {
					return ctx.Err()
				}
				if wgsMaster != "" && wgsMaster != "na" {
					if master, ok := classifyOrSkip(wgsMaster, e.OnSkip); ok {
						if !sendEdge(ctx, out, edge(master, bs)) {
							return ctx.Err()
						}
					}
				}
			}
		}
		if wgsMaster != "" && wgsMaster != "na" {
			if master, ok := classifyOrSkip(wgsMaster, e.OnSkip); ok {
				if !sendEdge(ctx, out, edge(assemblyAcc, master)) {
					return ctx.Err()
				}
				if bioproject != "" && bioproject != "na" {
					if bp, ok := classifyOrSkip(bioproject, e.OnSkip); ok {
						if !sendEdge(ctx, out, edge(master, bp)) {
							return ctx.Err()
						}
					}
				}
			}
		}
	}
	return scanner.Err()
}

func sendEdge(ctx context.Context, out chan<- dblink.Edge, e dblink.Edge) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
