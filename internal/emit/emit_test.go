package emit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ddbj/dblink/internal/accstore"
	"github.com/ddbj/dblink/internal/blacklist"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/layout"
)

type fakeExtractor struct {
	edges []dblink.Edge
}

func (e *fakeExtractor) Name() string { return "fake" }
func (e *fakeExtractor) Extract(ctx context.Context, in dblink.Inputs, out chan<- dblink.Edge) error {
	for _, edge := range e.edges {
		out <- edge
	}
	return nil
}

func readJSONLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var docs []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		docs = append(docs, m)
	}
	return docs
}

func writeBPShard(t *testing.T, dir, accession, lastUpdate string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := `<PackageSet><Package>
  <Project>
    <ProjectID><ArchiveID accession="` + accession + `"/></ProjectID>
    <ProjectDescr><Title>T</Title><Description>D</Description><LocalID>hum0001</LocalID><Grant><Agency>NIH</Agency></Grant></ProjectDescr>
  </Project>
  <Submission last_update="` + lastUpdate + `">
    <Description><Organization><Name>Acme Lab</Name></Organization></Description>
  </Submission>
</Package></PackageSet>`
	path := filepath.Join(dir, "split_0000.xml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testDBLinkStore(t *testing.T, edges []dblink.Edge) *dblink.Store {
	t.Helper()
	store, err := dblink.Open(filepath.Join(t.TempDir(), "dblink.store"))
	if err != nil {
		t.Fatalf("dblink.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b := &dblink.Builder{Store: store, Extractors: []dblink.Extractor{&fakeExtractor{edges: edges}}, TransactionSize: 10000}
	if err := b.Run(context.Background(), dblink.Inputs{}, nil); err != nil {
		t.Fatalf("Builder.Run: %v", err)
	}
	return store
}

func TestEmitBioProjectShard_ClassifiesJoinsAndWrites(t *testing.T) {
	dir := t.TempDir()
	shardDir := filepath.Join(dir, "bioproject")
	shardPath := writeBPShard(t, shardDir, "PRJNA100", "2026-07-01T00:00:00Z")

	dl := testDBLinkStore(t, []dblink.Edge{
		{SrcType: 3, SrcAcc: "SAMN1", DstType: 1, DstAcc: "PRJNA100"}, // BioSample <-> BioProject
	})
	bl, err := blacklist.Load(map[string]string{"bioproject": filepath.Join(dir, "missing_blacklist.txt")})
	if err != nil {
		t.Fatalf("blacklist.Load: %v", err)
	}

	lt := layout.Layout{ResultDir: dir, Date: "20260801"}
	opts := Options{Layout: lt, Full: true, ParallelNum: 1}
	res := Resources{DBLink: dl, Blacklist: bl}

	results := EmitBioProject(context.Background(), []string{shardPath}, res, opts)
	if AnyFailed(results) {
		t.Fatalf("unexpected shard failure: %+v", results)
	}
	total := Totals(results)
	if total.Processed != 1 {
		t.Fatalf("expected 1 processed doc, got %+v", total)
	}

	docs := readJSONLines(t, lt.JSONLShardPath("bioproject", "bioproject", "bioproject", 0))
	if len(docs) != 1 {
		t.Fatalf("expected 1 JSONL line, got %d", len(docs))
	}
	doc := docs[0]
	if doc["accession"] != "PRJNA100" {
		t.Errorf("accession = %v, want PRJNA100", doc["accession"])
	}
	xrefs, _ := doc["dbXrefs"].([]interface{})
	if len(xrefs) != 1 || xrefs[0] != "biosample:SAMN1" {
		t.Errorf("expected dbXrefs = [biosample:SAMN1], got %v", doc["dbXrefs"])
	}
}

func TestEmitBioProjectShard_BlacklistedAccessionSkipped(t *testing.T) {
	dir := t.TempDir()
	shardDir := filepath.Join(dir, "bioproject")
	shardPath := writeBPShard(t, shardDir, "PRJNA200", "2026-07-01T00:00:00Z")

	blPath := filepath.Join(dir, "bioproject_blacklist.txt")
	if err := os.WriteFile(blPath, []byte("PRJNA200\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bl, err := blacklist.Load(map[string]string{"bioproject": blPath})
	if err != nil {
		t.Fatalf("blacklist.Load: %v", err)
	}

	lt := layout.Layout{ResultDir: dir, Date: "20260801"}
	opts := Options{Layout: lt, Full: true, ParallelNum: 1}
	results := EmitBioProject(context.Background(), []string{shardPath}, Resources{Blacklist: bl}, opts)
	if AnyFailed(results) {
		t.Fatalf("unexpected failure: %+v", results)
	}
	if Totals(results).Processed != 0 {
		t.Fatalf("expected blacklisted accession to be skipped, got %+v", Totals(results))
	}
}

func TestEmitBioProjectShard_IncrementalCutoffDropsStaleRecord(t *testing.T) {
	dir := t.TempDir()
	shardDir := filepath.Join(dir, "bioproject")
	shardPath := writeBPShard(t, shardDir, "PRJNA300", "2020-01-01T00:00:00Z")

	lt := layout.Layout{ResultDir: dir, Date: "20260801"}
	opts := Options{
		Layout:    lt,
		Full:      false,
		HasCutoff: true,
		Cutoff:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ParallelNum: 1,
	}
	results := EmitBioProject(context.Background(), []string{shardPath}, Resources{}, opts)
	if Totals(results).Processed != 0 {
		t.Fatalf("expected stale record dropped under incremental cutoff, got %+v", Totals(results))
	}
}

func TestEmitBioProjectShard_RegenerateFiltersToSuppliedAccessions(t *testing.T) {
	dir := t.TempDir()
	shardDir := filepath.Join(dir, "bioproject")
	shardPath := writeBPShard(t, shardDir, "PRJNA400", "2026-07-01T00:00:00Z")

	lt := layout.Layout{ResultDir: dir, Date: "20260801"}
	opts := Options{
		Layout:      lt,
		Full:        true,
		ParallelNum: 1,
		Regenerate:  true,
		Filter:      map[string]struct{}{"PRJNA999": {}},
	}
	results := EmitBioProject(context.Background(), []string{shardPath}, Resources{}, opts)
	if Totals(results).Processed != 0 {
		t.Fatalf("expected PRJNA400 excluded by filter, got %+v", Totals(results))
	}

	regenPath := lt.RegenerateShardPath("bioproject", "bioproject", 0)
	if _, err := os.Stat(regenPath); err != nil {
		t.Fatalf("expected an (empty) regenerate output file: %v", err)
	}
}

func TestLastRunRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_run.json")
	lr, err := LoadLastRun(path)
	if err != nil {
		t.Fatalf("LoadLastRun missing file: %v", err)
	}
	if lr.Get(Bioproject) != nil {
		t.Fatal("expected nil last-run for a fresh family")
	}

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	lr.Set(Bioproject, now)
	if err := lr.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	lr2, err := LoadLastRun(path)
	if err != nil {
		t.Fatalf("LoadLastRun: %v", err)
	}
	got := lr2.Get(Bioproject)
	if got == nil || !got.Equal(now) {
		t.Fatalf("Get(Bioproject) = %v, want %v", got, now)
	}
}

func TestEffectiveCutoff(t *testing.T) {
	lr := &LastRun{}
	if _, ok := EffectiveCutoff(lr, Biosample, 30); ok {
		t.Fatal("expected no cutoff when the family has never run")
	}

	last := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	lr.Set(Biosample, last)
	cutoff, ok := EffectiveCutoff(lr, Biosample, 30)
	if !ok {
		t.Fatal("expected a cutoff once the family has a last run")
	}
	want := last.AddDate(0, 0, -30)
	if !cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", cutoff, want)
	}
}

func TestRunPool_AggregatesAndIsolatesFailures(t *testing.T) {
	jobs := []string{"a", "b", "c"}
	results := RunPool(context.Background(), 2, jobs, func(ctx context.Context, path string, idx int) (Stats, error) {
		if path == "b" {
			return Stats{}, errors.New("boom")
		}
		return Stats{Processed: 1}, nil
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !AnyFailed(results) {
		t.Fatal("expected AnyFailed true")
	}
	if Totals(results).Processed != 2 {
		t.Fatalf("expected 2 successful shards processed, got %+v", Totals(results))
	}
}

func TestEmitSRA_AtomicAcrossSixIndices(t *testing.T) {
	dir := t.TempDir()
	accPath := filepath.Join(dir, "SRA_Accessions.tab")
	header := "Accession\tSubmission\tType\tUpdated\tPublished\tStudy\tExperiment\tSample\tAnalysis\tRun\n"
	row := "SRR000001\tSRA000001\tRUN\t2026-07-15\t2026-07-01\tSRP000001\tSRX000001\tSRS000001\t\tSRR000001\n"
	if err := os.WriteFile(accPath, []byte(header+row), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := accstore.Open(filepath.Join(dir, "accessions.store"))
	if err != nil {
		t.Fatalf("accstore.Open: %v", err)
	}
	defer store.Close()
	if _, err := store.Load(accPath, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	lt := layout.Layout{ResultDir: dir, Date: "20260801"}
	opts := Options{Layout: lt, Full: true, ParallelNum: 1}
	results := EmitSRA(context.Background(), store, 5000, Resources{}, opts, nil)
	if AnyFailed(results) {
		t.Fatalf("unexpected failure: %+v", results)
	}
	if Totals(results).Processed != 1 {
		t.Fatalf("expected 1 submission processed, got %+v", Totals(results))
	}

	for _, typ := range []string{"sra-submission", "sra-study", "sra-experiment", "sra-sample", "sra-run"} {
		path := lt.JSONLShardPath("sra", "sra", typ, 0)
		docs := readJSONLines(t, path)
		if len(docs) != 1 {
			t.Errorf("index %s: expected 1 doc, got %d", typ, len(docs))
		}
	}
}

func TestEmitSRA_FansOutEveryDownstreamAccessionNotJustOnePerType(t *testing.T) {
	dir := t.TempDir()
	accPath := filepath.Join(dir, "SRA_Accessions.tab")
	header := "Accession\tSubmission\tType\tUpdated\tPublished\tStudy\tExperiment\tSample\tAnalysis\tRun\n"
	rows := []string{
		"DRR000001\tDRA000001\tRUN\t2026-07-15\t2026-07-01\tDRP000001\tDRX000001\tDRS000001\t\tDRR000001\n",
		"DRR000002\tDRA000001\tRUN\t2026-07-15\t2026-07-01\tDRP000001\tDRX000001\tDRS000001\t\tDRR000002\n",
		"DRR000003\tDRA000001\tRUN\t2026-07-15\t2026-07-01\tDRP000002\tDRX000002\tDRS000002\t\tDRR000003\n",
		"DRR000004\tDRA000001\tRUN\t2026-07-15\t2026-07-01\tDRP000002\tDRX000002\tDRS000002\t\tDRR000004\n",
	}
	content := header
	for _, r := range rows {
		content += r
	}
	if err := os.WriteFile(accPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := accstore.Open(filepath.Join(dir, "accessions.store"))
	if err != nil {
		t.Fatalf("accstore.Open: %v", err)
	}
	defer store.Close()
	if _, err := store.Load(accPath, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	lt := layout.Layout{ResultDir: dir, Date: "20260801"}
	opts := Options{Layout: lt, Full: true, ParallelNum: 1}
	results := EmitSRA(context.Background(), store, 5000, Resources{}, opts, nil)
	if AnyFailed(results) {
		t.Fatalf("unexpected failure: %+v", results)
	}
	if Totals(results).Processed != 1 {
		t.Fatalf("expected 1 submission processed, got %+v", Totals(results))
	}

	want := map[string]int{
		"sra-submission": 1,
		"sra-study":      2,
		"sra-experiment": 2,
		"sra-sample":     2,
		"sra-run":        4,
	}
	total := 0
	for typ, count := range want {
		path := lt.JSONLShardPath("sra", "sra", typ, 0)
		docs := readJSONLines(t, path)
		if len(docs) != count {
			t.Errorf("index %s: expected %d docs, got %d", typ, count, len(docs))
		}
		total += len(docs)
	}
	if total != 11 {
		t.Errorf("expected 11 documents across all indices, got %d", total)
	}
}
