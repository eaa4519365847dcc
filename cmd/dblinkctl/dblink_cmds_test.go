package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ddbj/dblink/internal/config"
)

func TestDblinkTmpAndLockPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Layout.ConstDir = "/const"

	if got, want := dblinkTmpPath(cfg), cfg.Layout.DBLinkStorePath()+".tmp"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := dblinkLockPath(cfg), cfg.Layout.DBLinkStorePath()+".lock"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDblinkTSVPairsIsNonEmptyAndFixed(t *testing.T) {
	pairs := dblinkTSVPairs()
	if len(pairs) == 0 {
		t.Fatal("expected a fixed, non-empty set of TSV pairs")
	}
	seen := map[[2]int]bool{}
	for _, p := range pairs {
		key := [2]int{int(p.SrcType), int(p.DstType)}
		if seen[key] {
			t.Errorf("duplicate TSV pair: %+v", p)
		}
		seen[key] = true
	}
}

func resetRelFlags() { relFlags = relationFlags{} }

func TestRelationInputsDefaultsWorkersFromConfig(t *testing.T) {
	resetRelFlags()
	defer resetRelFlags()

	cfg := config.Default()
	cfg.DBLink.Workers = 7
	cfg.Layout.ConstDir = t.TempDir()

	in, err := relationInputs(cfg)
	if err != nil {
		t.Fatalf("relationInputs failed: %v", err)
	}
	if in.AccStore != nil {
		defer in.AccStore.Close()
	}
	if in.Workers != 7 {
		t.Errorf("expected Workers to default from config, got %d", in.Workers)
	}
}

func TestRelationInputsExplicitWorkersOverridesConfig(t *testing.T) {
	resetRelFlags()
	defer resetRelFlags()
	relFlags.workers = 2

	cfg := config.Default()
	cfg.DBLink.Workers = 7
	cfg.Layout.ConstDir = t.TempDir()

	in, err := relationInputs(cfg)
	if err != nil {
		t.Fatalf("relationInputs failed: %v", err)
	}
	if in.AccStore != nil {
		defer in.AccStore.Close()
	}
	if in.Workers != 2 {
		t.Errorf("expected the explicit --workers flag to win, got %d", in.Workers)
	}
}

func TestRelationInputsCollectsShardDirsAndAuxPaths(t *testing.T) {
	resetRelFlags()
	defer resetRelFlags()
	relFlags.bpShardDir = "/shards/bp"
	relFlags.bsShardDir = "/shards/bs"
	relFlags.assemblySummary = "/aux/assembly_summary.txt"
	relFlags.jgaStudyDataset = "/aux/jga_study_dataset.csv"

	cfg := config.Default()
	cfg.Layout.ConstDir = t.TempDir()

	in, err := relationInputs(cfg)
	if err != nil {
		t.Fatalf("relationInputs failed: %v", err)
	}
	if in.AccStore != nil {
		defer in.AccStore.Close()
	}
	if in.ShardDirs["bioproject"] != "/shards/bp" || in.ShardDirs["biosample"] != "/shards/bs" {
		t.Errorf("unexpected shard dirs: %+v", in.ShardDirs)
	}
	if in.AuxPaths["assembly_summary"] != "/aux/assembly_summary.txt" {
		t.Errorf("unexpected assembly_summary aux path: %+v", in.AuxPaths)
	}
	if in.AuxPaths["jga_study_dataset"] != "/aux/jga_study_dataset.csv" {
		t.Errorf("unexpected jga_study_dataset aux path: %+v", in.AuxPaths)
	}
}

func TestRelationInputsLoadsPreservedEdges(t *testing.T) {
	resetRelFlags()
	defer resetRelFlags()

	path := filepath.Join(t.TempDir(), "preserved.tsv")
	if err := os.WriteFile(path, []byte("from_id\tto_id\nPRJNA1\tSAMN1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	relFlags.preservedTSV = path

	cfg := config.Default()
	cfg.Layout.ConstDir = t.TempDir()

	in, err := relationInputs(cfg)
	if err != nil {
		t.Fatalf("relationInputs failed: %v", err)
	}
	if in.AccStore != nil {
		defer in.AccStore.Close()
	}
	if len(in.PreservedEdges) != 1 {
		t.Errorf("expected 1 preserved edge, got %d: %+v", len(in.PreservedEdges), in.PreservedEdges)
	}
}
