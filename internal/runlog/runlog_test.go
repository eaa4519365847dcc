package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ddbj/dblink/internal/errs"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("failed to unmarshal record: %v", err)
		}
		records = append(records, r)
	}
	return records
}

func TestStartAssignsRunIDAndWritesStartRecord(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)

	c, err := Start(dir, "dblinkctl", now)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.End(Success)

	wantRunID := "dblinkctl_20260801123000"
	if c.RunID != wantRunID {
		t.Errorf("RunID = %q, want %q", c.RunID, wantRunID)
	}

	if err := c.out.Close(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	records := readRecords(t, filepath.Join(dir, wantRunID+".log.jsonl"))
	if len(records) != 1 || records[0].Msg != "start" {
		t.Fatalf("expected a single start record, got %+v", records)
	}
}

func TestEndAlwaysWritesTerminalRecord(t *testing.T) {
	dir := t.TempDir()
	c, err := Start(dir, "run", time.Now())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Critical("db unreachable", errors.New("connection refused"))

	if err := c.End(Failed); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	records := readRecords(t, filepath.Join(dir, c.RunID+".log.jsonl"))
	last := records[len(records)-1]
	if last.Msg != "end:FAILED" {
		t.Errorf("expected FAILED end record, got %q", last.Msg)
	}
}

func TestFailedReflectsCriticalRecords(t *testing.T) {
	dir := t.TempDir()
	c, err := Start(dir, "run", time.Now())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.End(Success)

	if c.Failed() {
		t.Error("expected Failed() false before any CRITICAL record")
	}
	c.Critical("boom", errors.New("x"))
	if !c.Failed() {
		t.Error("expected Failed() true after a CRITICAL record")
	}
}

func TestLockPreventsConcurrentAcquisition(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "dblink.tmp.lock")

	c1, err := Start(dir, "run1", time.Now())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c1.End(Success)

	if err := c1.Lock(lockPath); err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}

	c2, err := Start(dir, "run2", time.Now())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c2.End(Success)

	if err := c2.Lock(lockPath); err == nil {
		t.Error("expected second Lock to fail while first holds the write lock")
	}
}

func TestLogClassifyErrorUsesErrCategory(t *testing.T) {
	dir := t.TempDir()
	c, err := Start(dir, "run", time.Now())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.End(Success)

	classifyErr := errs.E(errs.Op("accession.Classify"), errs.KindValidation, "bad id").WithCategory(errs.CategoryInvalidBioSample)
	c.LogClassifyError("skipped invalid biosample", classifyErr)

	if err := c.out.Close(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	records := readRecords(t, filepath.Join(dir, c.RunID+".log.jsonl"))
	found := false
	for _, r := range records {
		if r.DebugCategory == errs.CategoryInvalidBioSample {
			found = true
		}
	}
	if !found {
		t.Error("expected a DEBUG record carrying the classify error's category")
	}
}
