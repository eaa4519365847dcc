package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/accstore"
	"github.com/ddbj/dblink/internal/blacklist"
	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/datecache"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/emit"
	"github.com/ddbj/dblink/internal/runlog"
)

// pipelineRunStart is the start of the calendar run this invocation
// belongs to (spec.md §4.5's "strict prerequisite" ties the date cache's
// freshness to the run it serves, not to this one step's own start time).
func pipelineRunStart(cfg *config.Config) time.Time {
	t, err := time.Parse("20060102", cfg.Layout.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// openResources opens the three read-only handles an emission step joins
// against: the finalized DBLink store, the date cache (after checking it
// isn't stale), and the per-source blacklists. The returned close func is
// safe to call even when some handles failed to open.
func openResources(cfg *config.Config, requireDates bool) (emit.Resources, func(), error) {
	var res emit.Resources
	var closers []func() error

	dl, err := dblink.Open(cfg.Layout.DBLinkStorePath())
	if err == nil {
		res.DBLink = dl
		closers = append(closers, dl.Close)
	}

	if requireDates {
		if err := datecache.FailIfStale(cfg.Layout.DateCachePath(), pipelineRunStart(cfg)); err != nil {
			closeAllCloser(closers)
			return res, func() {}, err
		}
	}
	dates, err := datecache.Open(cfg.Layout.DateCachePath())
	if err == nil {
		res.Dates = dates
		closers = append(closers, dates.Close)
	}

	blacklists := map[string]string{}
	for _, source := range blacklistSources {
		blacklists[source] = cfg.Layout.BlacklistPath(source)
	}
	bl, err := blacklist.Load(blacklists)
	if err != nil {
		closeAllCloser(closers)
		return res, func() {}, err
	}
	res.Blacklist = bl

	return res, func() { closeAllCloser(closers) }, nil
}

func closeAllCloser(closers []func() error) {
	for _, c := range closers {
		_ = c()
	}
}

// generateFlags are the flags generate-{bp,bs,sra,jga}-jsonl share.
type generateFlags struct {
	full        bool
	resume      bool
	parallelNum int
}

var genFlags generateFlags

func registerGenerateFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&genFlags.full, "full", false, "Ignore last_run.json and re-emit every record")
	cmd.Flags().BoolVar(&genFlags.resume, "resume", false, "Require an existing last_run.json entry and use its cutoff explicitly")
	cmd.Flags().IntVar(&genFlags.parallelNum, "parallel-num", 0, "Worker pool size (default: emit.parallel_num)")
}

// resolveEmitOptions computes Options.{Full,Cutoff,HasCutoff} from the
// shared flags and last_run.json (spec.md §4.7 "Incremental cutoff").
func resolveEmitOptions(cfg *config.Config, lr *emit.LastRun, family emit.Family, log *runlog.Coordinator) (emit.Options, error) {
	parallel := genFlags.parallelNum
	if parallel <= 0 {
		parallel = cfg.Emit.ParallelNum
	}
	opts := emit.Options{Layout: cfg.Layout, Log: log, ParallelNum: parallel}

	if genFlags.full {
		opts.Full = true
		return opts, nil
	}

	cutoff, ok := emit.EffectiveCutoff(lr, family, cfg.Incremental.MarginDays)
	if genFlags.resume && !ok {
		return opts, fmt.Errorf("--resume requires an existing last_run.json entry for %s", family)
	}
	if !ok {
		opts.Full = true
		return opts, nil
	}
	opts.HasCutoff = true
	opts.Cutoff = cutoff
	return opts, nil
}

func globShards(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "split_*.xml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// emitRunFunc runs one family's emitter over already-resolved resources
// and options, returning its per-shard results.
type emitRunFunc func(ctx context.Context, cfg *config.Config, res emit.Resources, opts emit.Options) []emit.ShardResult

// newGenerateCmd builds one generate-{family}-jsonl subcommand: it loads
// last_run.json, resolves the incremental cutoff, runs the family's
// emitter, and on success records this run's start time as the new
// cutoff baseline (spec.md §4.7).
func newGenerateCmd(use string, family emit.Family, run emitRunFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Materialize %s JSONL documents", family),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(use, func(cfg *config.Config, log *runlog.Coordinator) error {
				started := time.Now()

				lr, err := emit.LoadLastRun(cfg.Layout.LastRunPath())
				if err != nil {
					return err
				}
				opts, err := resolveEmitOptions(cfg, lr, family, log)
				if err != nil {
					return err
				}

				res, closeRes, err := openResources(cfg, true)
				if err != nil {
					return err
				}
				defer closeRes()

				results := run(cmd.Context(), cfg, res, opts)
				if emit.AnyFailed(results) {
					return fmt.Errorf("%s: one or more shards failed", use)
				}
				totals := emit.Totals(results)
				log.Info(fmt.Sprintf("%s: %d processed, %d skipped", family, totals.Processed, totals.Skipped))

				lr.Set(family, started)
				return lr.Save(cfg.Layout.LastRunPath())
			})
		},
	}
	registerGenerateFlags(cmd)
	return cmd
}

var generateBPJSONLCmd = newGenerateCmd("generate-bp-jsonl", emit.Bioproject,
	func(ctx context.Context, cfg *config.Config, res emit.Resources, opts emit.Options) []emit.ShardResult {
		shards, err := globShards(cfg.Layout.TmpXMLDir("bp"))
		if err != nil {
			return []emit.ShardResult{{Err: err}}
		}
		return emit.EmitBioProject(ctx, shards, res, opts)
	})

var generateBSJSONLCmd = newGenerateCmd("generate-bs-jsonl", emit.Biosample,
	func(ctx context.Context, cfg *config.Config, res emit.Resources, opts emit.Options) []emit.ShardResult {
		shards, err := globShards(cfg.Layout.TmpXMLDir("bs"))
		if err != nil {
			return []emit.ShardResult{{Err: err}}
		}
		return emit.EmitBioSample(ctx, shards, res, opts)
	})

var generateSRAJSONLCmd = newGenerateCmd("generate-sra-jsonl", emit.SRA,
	func(ctx context.Context, cfg *config.Config, res emit.Resources, opts emit.Options) []emit.ShardResult {
		store, err := accstore.Open(cfg.Layout.AccessionsStorePath("sra"))
		if err != nil {
			return []emit.ShardResult{{Err: err}}
		}
		defer store.Close()

		var tarIdx *emit.TarIndex
		if idx, err := emit.LoadTarIndex(cfg.Layout.TarIndexPath(cfg.Layout.NCBITarPath()), cfg.Layout.NCBITarPath()); err == nil {
			tarIdx = idx
		}
		return emit.EmitSRA(ctx, store, cfg.Emit.BatchSize, res, opts, tarIdx)
	})

// jgaXMLPaths/jgaDateCSVPaths key each of the four JGA entity types to the
// flag variable holding its XML shard / date CSV path, populated by cobra
// when generate-jga-jsonl's flags are parsed.
var (
	jgaXMLPaths     = map[string]*string{}
	jgaDateCSVPaths = map[string]*string{}
)

func registerJGAInputFlags(cmd *cobra.Command) {
	for _, typ := range []string{"study", "dataset", "policy", "dac"} {
		xmlPath := new(string)
		csvPath := new(string)
		cmd.Flags().StringVar(xmlPath, "jga-"+typ+"-xml", "", fmt.Sprintf("Path to the jga %s XML shard", typ))
		cmd.Flags().StringVar(csvPath, "jga-"+typ+"-dates", "", fmt.Sprintf("Path to the jga %s date.csv", typ))
		jgaXMLPaths[typ] = xmlPath
		jgaDateCSVPaths[typ] = csvPath
	}
}

var generateJGAJSONLCmd = newGenerateCmd("generate-jga-jsonl", emit.JGA,
	func(ctx context.Context, cfg *config.Config, res emit.Resources, opts emit.Options) []emit.ShardResult {
		var inputs []emit.JGAInput
		for _, typ := range []string{"study", "dataset", "policy", "dac"} {
			xmlPath := *jgaXMLPaths[typ]
			if xmlPath == "" {
				continue
			}
			inputs = append(inputs, emit.JGAInput{XMLTag: typ, XMLPath: xmlPath, DateCSVPath: *jgaDateCSVPaths[typ]})
		}
		results := emit.EmitJGA(ctx, inputs, res, opts)
		if cfg.Emit.JGANonFatal {
			for i := range results {
				results[i].Err = nil
			}
		}
		return results
	})

func init() {
	registerJGAInputFlags(generateJGAJSONLCmd)
	rootCmd.AddCommand(generateBPJSONLCmd)
	rootCmd.AddCommand(generateBSJSONLCmd)
	rootCmd.AddCommand(generateSRAJSONLCmd)
	rootCmd.AddCommand(generateJGAJSONLCmd)
}

// regenerateFlags configure the regenerate-jsonl hotfix operation.
var regenerateFlags struct {
	typ           string
	accessions    string
	accessionFile string
	outputDir     string
}

// regenerateJSONLCmd materializes exactly the caller-supplied accessions
// into a dedicated output directory, bypassing last_run.json entirely
// (spec.md §4.7 "regenerate_jsonl ... never touches this file").
var regenerateJSONLCmd = &cobra.Command{
	Use:   "regenerate-jsonl",
	Short: "Re-materialize JSONL for a caller-supplied set of accessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("regenerate-jsonl", func(cfg *config.Config, log *runlog.Coordinator) error {
			filter, err := loadRegenerateFilter()
			if err != nil {
				return err
			}
			if len(filter) == 0 {
				return fmt.Errorf("regenerate-jsonl requires --accessions or --accession-file")
			}

			parallel := cfg.Emit.ParallelNum
			opts := emit.Options{
				Layout:      cfg.Layout,
				Full:        true,
				Log:         log,
				ParallelNum: parallel,
				Regenerate:  true,
				Filter:      filter,
				OutputDir:   regenerateFlags.outputDir,
			}

			res, closeRes, err := openResources(cfg, false)
			if err != nil {
				return err
			}
			defer closeRes()

			var results []emit.ShardResult
			switch regenerateFlags.typ {
			case "bioproject", "bp":
				shards, err := globShards(cfg.Layout.TmpXMLDir("bp"))
				if err != nil {
					return err
				}
				results = emit.EmitBioProject(cmd.Context(), shards, res, opts)
			case "biosample", "bs":
				shards, err := globShards(cfg.Layout.TmpXMLDir("bs"))
				if err != nil {
					return err
				}
				results = emit.EmitBioSample(cmd.Context(), shards, res, opts)
			case "sra":
				store, err := accstore.Open(cfg.Layout.AccessionsStorePath("sra"))
				if err != nil {
					return err
				}
				defer store.Close()
				results = emit.EmitSRA(cmd.Context(), store, cfg.Emit.BatchSize, res, opts, nil)
			default:
				return fmt.Errorf("unsupported --type %q (want bioproject|biosample|sra)", regenerateFlags.typ)
			}

			if emit.AnyFailed(results) {
				return fmt.Errorf("regenerate-jsonl: one or more shards failed")
			}
			totals := emit.Totals(results)
			log.Info(fmt.Sprintf("regenerate-jsonl: %d processed, %d skipped", totals.Processed, totals.Skipped))
			return nil
		})
	},
}

func loadRegenerateFilter() (map[string]struct{}, error) {
	filter := map[string]struct{}{}
	if regenerateFlags.accessions != "" {
		for _, acc := range strings.Split(regenerateFlags.accessions, ",") {
			acc = strings.TrimSpace(acc)
			if acc != "" {
				filter[acc] = struct{}{}
			}
		}
	}
	if regenerateFlags.accessionFile != "" {
		f, err := os.Open(regenerateFlags.accessionFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			acc := strings.TrimSpace(scanner.Text())
			if acc != "" {
				filter[acc] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	return filter, nil
}

func init() {
	regenerateJSONLCmd.Flags().StringVar(&regenerateFlags.typ, "type", "", "Entity family to regenerate: bioproject|biosample|sra")
	regenerateJSONLCmd.Flags().StringVar(&regenerateFlags.accessions, "accessions", "", "Comma-separated accession list")
	regenerateJSONLCmd.Flags().StringVar(&regenerateFlags.accessionFile, "accession-file", "", "Path to a newline-delimited accession list")
	regenerateJSONLCmd.Flags().StringVar(&regenerateFlags.outputDir, "output-dir", "", "Output directory (default: result/regenerate/{date})")
	rootCmd.AddCommand(regenerateJSONLCmd)
}
