package dblink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/blacklist"
)

type fakeExtractor struct {
	name  string
	edges []Edge
}

func (f fakeExtractor) Name() string { return f.name }
func (f fakeExtractor) Extract(ctx context.Context, in Inputs, out chan<- Edge) error {
	for _, e := range f.edges {
		out <- e
	}
	return nil
}

func TestEdgeCanonicalSwapsByFixedOrder(t *testing.T) {
	e := Edge{SrcType: accession.BioSample, SrcAcc: "SAMN1", DstType: accession.BioProject, DstAcc: "PRJNA1"}
	c := e.canonical()
	if c.SrcType != accession.BioProject || c.SrcAcc != "PRJNA1" {
		t.Errorf("expected bioproject to sort first, got %+v", c)
	}
}

func TestBuilderRunPersistsEdges(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "tmp.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	b := &Builder{
		Store: store,
		Extractors: []Extractor{
			fakeExtractor{name: "fake", edges: []Edge{
				{SrcType: accession.BioProject, SrcAcc: "PRJNA1", DstType: accession.BioSample, DstAcc: "SAMN1"},
			}},
		},
		TransactionSize: 10000,
	}

	if err := b.Run(context.Background(), Inputs{}, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 persisted edge, got %d", count)
	}
}

func TestFinalizeDropsBlacklistedAndDedupsEdges(t *testing.T) {
	dir := t.TempDir()
	tmpStore, err := Open(filepath.Join(dir, "tmp.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	b := &Builder{Store: tmpStore, TransactionSize: 10000}
	edges := []Edge{
		{SrcType: accession.BioProject, SrcAcc: "PRJNA1", DstType: accession.BioSample, DstAcc: "SAMN1"},
		{SrcType: accession.BioSample, SrcAcc: "SAMN1", DstType: accession.BioProject, DstAcc: "PRJNA1"}, // duplicate, reverse orientation
		{SrcType: accession.BioProject, SrcAcc: "PRJNA2", DstType: accession.BioSample, DstAcc: "SAMN2"},
	}
	ch := make(chan Edge, len(edges))
	for _, e := range edges {
		ch <- e
	}
	close(ch)
	if err := b.serialize(ch, 10000); err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	blPath := filepath.Join(dir, "bioproject.txt")
	if err := os.WriteFile(blPath, []byte("PRJNA2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bl, err := blacklist.Load(map[string]string{"bioproject": blPath})
	if err != nil {
		t.Fatalf("blacklist.Load failed: %v", err)
	}

	finalPath := filepath.Join(dir, "final.db")
	if err := Finalize(context.Background(), tmpStore, finalPath, bl, nil); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	tmpStore.Close()

	final, err := Open(finalPath)
	if err != nil {
		t.Fatalf("Open final failed: %v", err)
	}
	defer final.Close()

	var count int
	if err := final.db.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 surviving edge after dedup+blacklist, got %d", count)
	}
}

func TestDumpTSVSortsAndUnswaps(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	b := &Builder{Store: store, TransactionSize: 10000}
	ch := make(chan Edge, 3)
	ch <- Edge{SrcType: accession.BioProject, SrcAcc: "PRJNA2", DstType: accession.BioSample, DstAcc: "SAMN9"}
	ch <- Edge{SrcType: accession.BioProject, SrcAcc: "PRJNA1", DstType: accession.BioSample, DstAcc: "SAMN1"}
	ch <- Edge{SrcType: accession.BioSample, SrcAcc: "SAMN5", DstType: accession.BioProject, DstAcc: "PRJNA3"} // stored in reverse orientation
	close(ch)
	if err := b.serialize(ch, 10000); err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	outDir := filepath.Join(dir, "dump")
	pairs := []TSVPair{{SrcType: accession.BioProject, DstType: accession.BioSample}}
	if err := DumpTSV(store, pairs, outDir); err != nil {
		t.Fatalf("DumpTSV failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "bioproject_biosample.tsv"))
	if err != nil {
		t.Fatalf("failed to read dump: %v", err)
	}
	want := "PRJNA1\tSAMN1\nPRJNA2\tSAMN9\nPRJNA3\tSAMN5\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", string(data), want)
	}
}

func TestPairCountsGroupsByCanonicalTypePair(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	b := &Builder{Store: store, TransactionSize: 10000}
	ch := make(chan Edge, 3)
	ch <- Edge{SrcType: accession.BioProject, SrcAcc: "PRJNA1", DstType: accession.BioSample, DstAcc: "SAMN1"}
	ch <- Edge{SrcType: accession.BioProject, SrcAcc: "PRJNA2", DstType: accession.BioSample, DstAcc: "SAMN2"}
	ch <- Edge{SrcType: accession.BioSample, SrcAcc: "SAMN3", DstType: accession.SRARun, DstAcc: "DRR001"}
	close(ch)
	if err := b.serialize(ch, 10000); err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	counts, err := store.PairCounts()
	if err != nil {
		t.Fatalf("PairCounts failed: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 distinct type pairs, got %d: %+v", len(counts), counts)
	}
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	if total != 3 {
		t.Errorf("expected 3 total edges, got %d", total)
	}
}
