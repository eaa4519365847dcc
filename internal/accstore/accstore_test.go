package accstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "accstore-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to open store: %v", err)
	}

	cleanup := func() {
		s.Close()
		os.RemoveAll(dir)
	}
	return s, cleanup
}

func writeAccessionsFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "SRA_Accessions.tab")
	header := "Accession\tSubmission\tStudy\tExperiment\tSample\tAnalysis\tRun\tType\tUpdated\tPublished"
	content := header + "\n"
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenCreatesSchema(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if err := s.Ping(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestLoadAndDownstream(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	path := writeAccessionsFile(t,
		"DRA000001\tDRA000001\tDRP000001\tDRX000001\tDRS000001\t\tDRR000001\tRUN\t2024-01-01\t2024-01-02",
	)

	n, err := s.Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row loaded, got %d", n)
	}

	accs, err := s.Downstream("DRA000001")
	if err != nil {
		t.Fatalf("Downstream failed: %v", err)
	}
	if len(accs) != 4 {
		t.Fatalf("expected 4 downstream accessions (study,exp,sample,run), got %d: %v", len(accs), accs)
	}
}

func TestLoadMissingRequiredColumnFails(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tab")
	if err := os.WriteFile(path, []byte("Foo\tBar\nx\ty\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(path, nil); err == nil {
		t.Fatal("expected error for missing required columns")
	}
}

func TestLoadCollisionInvokesCallback(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	path := writeAccessionsFile(t,
		"DRR000001\tDRA000001\t\t\t\t\tDRR000001\tRUN\t2024-01-01\t2024-01-01",
		"DRR000001\tDRA000002\t\t\t\t\tDRR000001\tRUN\t2024-02-01\t2024-02-01",
	)

	var collisions int
	if _, err := s.Load(path, func(typ, acc string) { collisions++ }); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if collisions != 1 {
		t.Errorf("expected 1 collision, got %d", collisions)
	}
}

func TestTypeOfUnknownAccession(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	_, found, err := s.TypeOf("DRR999999")
	if err != nil {
		t.Fatalf("TypeOf failed: %v", err)
	}
	if found {
		t.Error("expected accession not to be found")
	}
}

func TestUpdatedSinceFiltersByTimestamp(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	path := writeAccessionsFile(t,
		"DRR000001\tDRA000001\t\t\t\t\tDRR000001\tRUN\t2024-01-01\t2024-01-01",
		"DRR000002\tDRA000002\t\t\t\t\tDRR000002\tRUN\t2024-06-01\t2024-06-01",
	)
	if _, err := s.Load(path, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seq, err := s.UpdatedSince(cutoff)
	if err != nil {
		t.Fatalf("UpdatedSince failed: %v", err)
	}

	var got []string
	seq(func(sub string) bool {
		got = append(got, sub)
		return true
	})
	if len(got) != 1 || got[0] != "DRA000002" {
		t.Errorf("expected only DRA000002 updated since cutoff, got %v", got)
	}
}
