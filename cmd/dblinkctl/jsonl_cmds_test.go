package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/emit"
)

func TestPipelineRunStartParsesLayoutDate(t *testing.T) {
	cfg := config.Default()
	cfg.Layout.Date = "20260115"

	got := pipelineRunStart(cfg)
	want := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPipelineRunStartInvalidDateIsZero(t *testing.T) {
	cfg := config.Default()
	cfg.Layout.Date = "not-a-date"

	if got := pipelineRunStart(cfg); !got.IsZero() {
		t.Errorf("expected zero time for an invalid date, got %v", got)
	}
}

func TestGlobShardsSortsMatches(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"split_0002.xml", "split_0001.xml", "not_a_shard.xml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("<x/>"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := globShards(dir)
	if err != nil {
		t.Fatalf("globShards failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 shard matches, got %d: %v", len(paths), paths)
	}
	if filepath.Base(paths[0]) != "split_0001.xml" || filepath.Base(paths[1]) != "split_0002.xml" {
		t.Errorf("expected sorted shard paths, got %v", paths)
	}
}

func TestGlobShardsEmptyDir(t *testing.T) {
	paths, err := globShards(t.TempDir())
	if err != nil {
		t.Fatalf("globShards failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no matches, got %v", paths)
	}
}

func resetGenFlags() { genFlags = generateFlags{} }

func TestResolveEmitOptionsFullForcesFullMode(t *testing.T) {
	resetGenFlags()
	defer resetGenFlags()
	genFlags.full = true

	cfg := config.Default()
	lr := &emit.LastRun{}
	opts, err := resolveEmitOptions(cfg, lr, emit.Bioproject, nil)
	if err != nil {
		t.Fatalf("resolveEmitOptions failed: %v", err)
	}
	if !opts.Full || opts.HasCutoff {
		t.Errorf("expected Full mode with no cutoff, got %+v", opts)
	}
}

func TestResolveEmitOptionsNoLastRunFallsBackToFull(t *testing.T) {
	resetGenFlags()
	defer resetGenFlags()

	cfg := config.Default()
	lr := &emit.LastRun{}
	opts, err := resolveEmitOptions(cfg, lr, emit.Bioproject, nil)
	if err != nil {
		t.Fatalf("resolveEmitOptions failed: %v", err)
	}
	if !opts.Full {
		t.Error("expected a family with no last_run.json entry to fall back to full mode")
	}
}

func TestResolveEmitOptionsResumeWithoutCutoffErrors(t *testing.T) {
	resetGenFlags()
	defer resetGenFlags()
	genFlags.resume = true

	cfg := config.Default()
	lr := &emit.LastRun{}
	if _, err := resolveEmitOptions(cfg, lr, emit.Bioproject, nil); err == nil {
		t.Error("expected --resume with no prior run to error")
	}
}

func TestResolveEmitOptionsUsesIncrementalCutoff(t *testing.T) {
	resetGenFlags()
	defer resetGenFlags()

	cfg := config.Default()
	cfg.Incremental.MarginDays = 2
	last := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	lr := &emit.LastRun{}
	lr.Set(emit.Bioproject, last)

	opts, err := resolveEmitOptions(cfg, lr, emit.Bioproject, nil)
	if err != nil {
		t.Fatalf("resolveEmitOptions failed: %v", err)
	}
	if opts.Full {
		t.Fatal("expected incremental mode, got Full")
	}
	if !opts.HasCutoff {
		t.Fatal("expected HasCutoff to be true")
	}
	want := last.AddDate(0, 0, -2)
	if !opts.Cutoff.Equal(want) {
		t.Errorf("got cutoff %v, want %v", opts.Cutoff, want)
	}
}

func resetRegenerateFlags() {
	regenerateFlags.typ = ""
	regenerateFlags.accessions = ""
	regenerateFlags.accessionFile = ""
	regenerateFlags.outputDir = ""
}

func TestLoadRegenerateFilterFromAccessionsFlag(t *testing.T) {
	resetRegenerateFlags()
	defer resetRegenerateFlags()
	regenerateFlags.accessions = "PRJNA1, PRJNA2 ,, PRJNA1"

	filter, err := loadRegenerateFilter()
	if err != nil {
		t.Fatalf("loadRegenerateFilter failed: %v", err)
	}
	if len(filter) != 2 {
		t.Fatalf("expected 2 unique accessions, got %d: %v", len(filter), filter)
	}
	if _, ok := filter["PRJNA1"]; !ok {
		t.Error("expected PRJNA1 in filter")
	}
}

func TestLoadRegenerateFilterFromFileAndFlagCombine(t *testing.T) {
	resetRegenerateFlags()
	defer resetRegenerateFlags()

	path := filepath.Join(t.TempDir(), "accs.txt")
	if err := os.WriteFile(path, []byte("SAMN1\n\nSAMN2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	regenerateFlags.accessions = "PRJNA1"
	regenerateFlags.accessionFile = path

	filter, err := loadRegenerateFilter()
	if err != nil {
		t.Fatalf("loadRegenerateFilter failed: %v", err)
	}
	if len(filter) != 3 {
		t.Fatalf("expected 3 combined accessions, got %d: %v", len(filter), filter)
	}
}

func TestLoadRegenerateFilterEmptyWhenNoFlags(t *testing.T) {
	resetRegenerateFlags()
	defer resetRegenerateFlags()

	filter, err := loadRegenerateFilter()
	if err != nil {
		t.Fatalf("loadRegenerateFilter failed: %v", err)
	}
	if len(filter) != 0 {
		t.Errorf("expected an empty filter, got %v", filter)
	}
}
