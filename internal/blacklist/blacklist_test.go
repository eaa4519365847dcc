package blacklist

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bioproject.txt", "# comment\n\nPRJNA1\nPRJNA2\n")

	s, err := Load(map[string]string{"bioproject": path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !s.Contains("bioproject", "PRJNA1") {
		t.Error("expected PRJNA1 to be blacklisted")
	}
	if s.Contains("bioproject", "# comment") {
		t.Error("comment line must not be treated as an entry")
	}
}

func TestLoadMissingFileIsEmptySet(t *testing.T) {
	s, err := Load(map[string]string{"bioproject": "/nonexistent/path/bl.txt"})
	if err != nil {
		t.Fatalf("Load should tolerate a missing file, got error: %v", err)
	}
	if s.Contains("bioproject", "PRJNA1") {
		t.Error("missing file should yield an empty set")
	}
}

func TestContainsIsCaseSensitive(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bioproject.txt", "PRJNA1\n")
	s, err := Load(map[string]string{"bioproject": path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Contains("bioproject", "prjna1") {
		t.Error("blacklist match must be case-sensitive")
	}
}

func TestContainsAnySpansSources(t *testing.T) {
	dir := t.TempDir()
	bp := writeFile(t, dir, "bioproject.txt", "PRJNA1\n")
	bs := writeFile(t, dir, "biosample.txt", "SAMN1\n")

	s, err := Load(map[string]string{"bioproject": bp, "biosample": bs})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !s.ContainsAny("SAMN1") {
		t.Error("expected SAMN1 to be found across sources")
	}
	if s.ContainsAny("SAMN999") {
		t.Error("unexpected hit for an accession not in any set")
	}
}

func TestEntriesListsOneSourceOnly(t *testing.T) {
	dir := t.TempDir()
	bp := writeFile(t, dir, "bioproject.txt", "PRJNA1\nPRJNA2\n")
	bs := writeFile(t, dir, "biosample.txt", "SAMN1\n")

	s, err := Load(map[string]string{"bioproject": bp, "biosample": bs})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	entries := s.Entries("bioproject")
	if len(entries) != 2 {
		t.Fatalf("expected 2 bioproject entries, got %d: %v", len(entries), entries)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e] = true
	}
	if !seen["PRJNA1"] || !seen["PRJNA2"] {
		t.Errorf("expected PRJNA1 and PRJNA2, got %v", entries)
	}
	if len(s.Entries("biosample")) != 1 {
		t.Error("expected biosample entries to stay scoped to its own source")
	}
}

func TestEntriesUnknownSourceIsEmpty(t *testing.T) {
	s, err := Load(map[string]string{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if entries := s.Entries("bioproject"); len(entries) != 0 {
		t.Errorf("expected no entries for an unknown source, got %v", entries)
	}
}

func TestEntriesNilSetIsEmpty(t *testing.T) {
	var s *Set
	if entries := s.Entries("bioproject"); entries != nil {
		t.Errorf("expected nil Set to yield nil entries, got %v", entries)
	}
}

func TestLoadPreservedSkipsInvalidPairs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "preserved.tsv",
		"from_id\tto_id\nPRJNA1\tSAMN1\nbadid\tSAMN2\nPRJNA3\tbadid\n")

	var skipped [][2]string
	seq, err := LoadPreserved(path, func(from, to string) {
		skipped = append(skipped, [2]string{from, to})
	})
	if err != nil {
		t.Fatalf("LoadPreserved failed: %v", err)
	}

	var edges []Edge
	seq(func(e Edge) bool {
		edges = append(edges, e)
		return true
	})

	if len(edges) != 1 {
		t.Fatalf("expected 1 valid edge, got %d", len(edges))
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped pairs, got %d", len(skipped))
	}
}

func TestLoadPreservedMissingFileYieldsEmpty(t *testing.T) {
	seq, err := LoadPreserved("/nonexistent/preserved.tsv", nil)
	if err != nil {
		t.Fatalf("LoadPreserved should tolerate a missing file, got error: %v", err)
	}
	count := 0
	seq(func(e Edge) bool {
		count++
		return true
	})
	if count != 0 {
		t.Errorf("expected 0 edges from missing file, got %d", count)
	}
}
