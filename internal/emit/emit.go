// Package emit implements spec.md §4.7, the JSONL materialization engine:
// per-family workers join shard XML (or the accessions store, for SRA)
// with the DBLink graph and the date cache, apply blacklists and the
// incremental cutoff, and write one JSON document per line under
// {result_dir}/{family}/jsonl/{YYYYMMDD}/{source}_{type}_{NNNN}.jsonl.
package emit

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ddbj/dblink/internal/blacklist"
	"github.com/ddbj/dblink/internal/datecache"
	"github.com/ddbj/dblink/internal/dblink"
)

// Family is one of the four JSONL-emitting entity families.
type Family string

const (
	Bioproject Family = "bioproject"
	Biosample  Family = "biosample"
	SRA        Family = "sra"
	JGA        Family = "jga"
)

// Resources bundles the read-only handles every worker opens once per
// process and reuses across shards (spec.md §4.7 "Worker model"): no
// per-shard process spawn, no cross-worker shared mutable state.
type Resources struct {
	DBLink    *dblink.Store
	Dates     *datecache.Store
	Blacklist *blacklist.Set
}

// Stats aggregates one shard's outcome for the run log and the step's
// overall pass/fail decision.
type Stats struct {
	Processed int
	Skipped   int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
}

// ShardResult is one worker's report for one shard path.
type ShardResult struct {
	Path  string
	Index int
	Stats Stats
	Err   error
}

// RunPool drains jobs across a fixed-size worker pool (default 4),
// grounded on internal/processor/pool_handler.go's fixed pool over a
// bounded job channel, expressed with errgroup.Group.SetLimit instead of
// a hand-rolled channel/WaitGroup pair. work is called once per shard
// path with its 0-based index (used to name the shard's output file); a
// shard that returns an error is reported in its ShardResult but does
// not stop other workers (spec.md §5 "Failure isolation") — work's own
// error is captured per-job, never returned to the group, so one shard's
// failure can't cancel the rest via errgroup's first-error cancellation.
func RunPool(ctx context.Context, parallelNum int, jobs []string, work func(ctx context.Context, path string, idx int) (Stats, error)) []ShardResult {
	if parallelNum <= 0 {
		parallelNum = 4
	}

	results := make([]ShardResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelNum)

	for i, p := range jobs {
		idx, path := i, p
		g.Go(func() error {
			stats, err := work(gctx, path, idx)
			results[idx] = ShardResult{Path: path, Index: idx, Stats: stats, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// AnyFailed reports whether any shard in results returned an error.
func AnyFailed(results []ShardResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// Totals sums every shard's Stats.
func Totals(results []ShardResult) Stats {
	var total Stats
	for _, r := range results {
		total.Add(r.Stats)
	}
	return total
}
