package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadJSONLDocsSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.jsonl")
	content := "{\"a\":1}\n\n{\"a\":2}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	docs, err := readJSONLDocs(path)
	if err != nil {
		t.Fatalf("readJSONLDocs failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if string(docs[0]) != `{"a":1}` || string(docs[1]) != `{"a":2}` {
		t.Errorf("unexpected document contents: %v", docs)
	}
}

func TestReadJSONLDocsMissingFile(t *testing.T) {
	if _, err := readJSONLDocs(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
