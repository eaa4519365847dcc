package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/accstore"
	"github.com/ddbj/dblink/internal/blacklist"
	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/dblink"
	"github.com/ddbj/dblink/internal/dblink/extract"
	"github.com/ddbj/dblink/internal/runlog"
)

func dblinkTmpPath(cfg *config.Config) string { return cfg.Layout.DBLinkStorePath() + ".tmp" }
func dblinkLockPath(cfg *config.Config) string {
	return cfg.Layout.DBLinkStorePath() + ".lock"
}

// blacklistSources are the per-source blacklist files spec.md §4.6 names:
// one per emitted entity family, plus gea and metabobank.
var blacklistSources = []string{
	"bioproject", "biosample", "sra", "jga", "gea", "metabobank",
}

// initDBLinkDBCmd (re)creates the tmp DBLink store every create-dblink-*
// step builds into, under the single-writer lock (spec.md §4.4).
var initDBLinkDBCmd = &cobra.Command{
	Use:   "init-dblink-db",
	Short: "Create (or reset) the tmp DBLink relation store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lockedStep("init-dblink-db", dblinkLockPath(mustDefaultConfig()), func(cfg *config.Config, log *runlog.Coordinator) error {
			store, err := dblink.Open(dblinkTmpPath(cfg))
			if err != nil {
				return err
			}
			defer store.Close()
			log.Info("initialized tmp dblink store")
			return nil
		})
	},
}

// mustDefaultConfig loads the config for flag-independent setup like
// resolving the lock path before runStep itself has loaded it. Errors are
// swallowed here; the real Load inside runStep surfaces them properly.
func mustDefaultConfig() *config.Config {
	cfg, err := config.Load(configPath())
	if err != nil {
		return config.Default()
	}
	return cfg
}

// relationFlags are the flags every create-dblink-*-relations subcommand
// shares: where to find the shard trees and auxiliary files its extractor
// reads, plus how many parser goroutines to run.
type relationFlags struct {
	bpShardDir        string
	bsShardDir        string
	assemblySummary   string
	geaIDF            string
	metabobankIDF     string
	jgaStudyDataset   string
	jgaDatasetPolicy  string
	jgaPolicyDac      string
	jgaStudyPubmed    string
	jgaStudyHumid     string
	jgaDatasetPubmed  string
	jgaDatasetHumid   string
	preservedTSV      string
	accessionsStore   string
	workers           int
}

var relFlags relationFlags

func registerRelationFlags(cmd *cobra.Command, needs ...string) {
	want := make(map[string]bool, len(needs))
	for _, n := range needs {
		want[n] = true
	}
	if want["bp"] {
		cmd.Flags().StringVar(&relFlags.bpShardDir, "bp-shard-dir", "", "Directory of split BioProject XML shards")
	}
	if want["bs"] {
		cmd.Flags().StringVar(&relFlags.bsShardDir, "bs-shard-dir", "", "Directory of split BioSample XML shards")
	}
	if want["assembly"] {
		cmd.Flags().StringVar(&relFlags.assemblySummary, "assembly-summary", "", "Path to assembly_summary.txt")
	}
	if want["gea"] {
		cmd.Flags().StringVar(&relFlags.geaIDF, "gea-idf", "", "Path to the GEA IDF file")
	}
	if want["metabobank"] {
		cmd.Flags().StringVar(&relFlags.metabobankIDF, "metabobank-idf", "", "Path to the MetaboBank IDF file (unused by the extractor but accepted for symmetry)")
	}
	if want["jga"] {
		cmd.Flags().StringVar(&relFlags.jgaStudyDataset, "jga-study-dataset", "", "Path to the jga study<->dataset relation CSV")
		cmd.Flags().StringVar(&relFlags.jgaDatasetPolicy, "jga-dataset-policy", "", "Path to the jga dataset<->policy relation CSV")
		cmd.Flags().StringVar(&relFlags.jgaPolicyDac, "jga-policy-dac", "", "Path to the jga policy<->dac relation CSV")
		cmd.Flags().StringVar(&relFlags.jgaStudyPubmed, "jga-study-pubmed", "", "Path to the jga study<->pubmed relation CSV")
		cmd.Flags().StringVar(&relFlags.jgaStudyHumid, "jga-study-humid", "", "Path to the jga study<->hum-id relation CSV")
		cmd.Flags().StringVar(&relFlags.jgaDatasetPubmed, "jga-dataset-pubmed", "", "Path to the jga dataset<->pubmed relation CSV")
		cmd.Flags().StringVar(&relFlags.jgaDatasetHumid, "jga-dataset-humid", "", "Path to the jga dataset<->hum-id relation CSV")
	}
	if want["preserved"] {
		cmd.Flags().StringVar(&relFlags.preservedTSV, "preserved", "", "Path to the preserved-edges TSV for this relation")
	}
	if want["accstore"] {
		cmd.Flags().StringVar(&relFlags.accessionsStore, "accessions-store", "", "Path to the accessions store (default: the configured sra accessions store)")
	}
	cmd.Flags().IntVar(&relFlags.workers, "workers", 0, "Parser goroutines for this extractor (default: dblink.workers)")
}

func relationInputs(cfg *config.Config) (dblink.Inputs, error) {
	in := dblink.Inputs{
		ShardDirs: map[string]string{},
		AuxPaths:  map[string]string{},
		Workers:   relFlags.workers,
	}
	if in.Workers <= 0 {
		in.Workers = cfg.DBLink.Workers
	}
	if relFlags.bpShardDir != "" {
		in.ShardDirs["bioproject"] = relFlags.bpShardDir
	}
	if relFlags.bsShardDir != "" {
		in.ShardDirs["biosample"] = relFlags.bsShardDir
	}
	if relFlags.assemblySummary != "" {
		in.AuxPaths["assembly_summary"] = relFlags.assemblySummary
	}
	if relFlags.geaIDF != "" {
		in.AuxPaths["gea_idf"] = relFlags.geaIDF
	}
	for key, path := range map[string]string{
		"jga_study_dataset":  relFlags.jgaStudyDataset,
		"jga_dataset_policy": relFlags.jgaDatasetPolicy,
		"jga_policy_dac":     relFlags.jgaPolicyDac,
		"jga_study_pubmed":   relFlags.jgaStudyPubmed,
		"jga_study_humid":    relFlags.jgaStudyHumid,
		"jga_dataset_pubmed": relFlags.jgaDatasetPubmed,
		"jga_dataset_humid":  relFlags.jgaDatasetHumid,
	} {
		if path != "" {
			in.AuxPaths[key] = path
		}
	}
	if relFlags.preservedTSV != "" {
		edges, err := blacklist.LoadPreserved(relFlags.preservedTSV, nil)
		if err != nil {
			return in, err
		}
		for e := range edges {
			in.PreservedEdges = append(in.PreservedEdges, e)
		}
	}
	storePath := relFlags.accessionsStore
	if storePath == "" {
		storePath = cfg.Layout.AccessionsStorePath("sra")
	}
	if store, err := accstore.Open(storePath); err == nil {
		in.AccStore = store
	}
	return in, nil
}

// newRelationCmd builds one create-dblink-{name}-relations subcommand: it
// opens the tmp store, runs exactly one extractor (built fresh per run so
// its OnSkip reports through that run's log) through a Builder, and leaves
// skipped-extractor handling to the run log (spec.md §4.4, §9
// "per-extractor isolation").
func newRelationCmd(use, relationName string, newExtractor func(onSkip func(raw string, err error)) dblink.Extractor, needs ...string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Extract %s edges into the tmp DBLink store", relationName),
		RunE: func(cmd *cobra.Command, args []string) error {
			return lockedStep(use, dblinkLockPath(mustDefaultConfig()), func(cfg *config.Config, log *runlog.Coordinator) error {
				in, err := relationInputs(cfg)
				if err != nil {
					return err
				}
				if in.AccStore != nil {
					defer in.AccStore.Close()
				}

				store, err := dblink.Open(dblinkTmpPath(cfg))
				if err != nil {
					return err
				}
				defer store.Close()

				ex := newExtractor(func(raw string, err error) {
					log.LogClassifyError("skipped unclassifiable accession", err, runlog.WithAccession(raw))
				})
				b := &dblink.Builder{Store: store, Extractors: []dblink.Extractor{ex}, TransactionSize: cfg.DBLink.TransactionSize}
				onSkip := func(extractor string, reason error) {
					log.Error("extractor failed, continuing", reason, runlog.WithSource(extractor))
				}
				if err := b.Run(cmd.Context(), in, onSkip); err != nil {
					return err
				}
				log.Info(fmt.Sprintf("%s relation extraction complete", relationName))
				return nil
			})
		},
	}
	registerRelationFlags(cmd, needs...)
	return cmd
}

var (
	bpbsCmd = newRelationCmd("create-dblink-bp-bs-relations", "bp_bs", func(onSkip func(string, error)) dblink.Extractor {
		return &extract.BPBS{OnSkip: onSkip}
	}, "bp", "preserved")
	bpInternalCmd = newRelationCmd("create-dblink-bp-internal-relations", "bp_internal", func(onSkip func(string, error)) dblink.Extractor {
		return &extract.BPInternal{OnSkip: onSkip}
	}, "bp")
	assemblyMasterCmd = newRelationCmd("create-dblink-assembly-master-relations", "assembly_master", func(onSkip func(string, error)) dblink.Extractor {
		return &extract.AssemblyMaster{OnSkip: onSkip}
	}, "assembly")
	geaCmd = newRelationCmd("create-dblink-gea-relations", "gea", func(onSkip func(string, error)) dblink.Extractor {
		return &extract.GEA{OnSkip: onSkip}
	}, "gea")
	metabobankCmd = newRelationCmd("create-dblink-metabobank-relations", "metabobank", func(onSkip func(string, error)) dblink.Extractor {
		return &extract.MetaboBank{OnSkip: onSkip}
	}, "preserved")
	jgaRelationCmd = newRelationCmd("create-dblink-jga-relations", "jga", func(onSkip func(string, error)) dblink.Extractor {
		return &extract.JGA{OnSkip: onSkip}
	}, "jga")
	sraInternalCmd = newRelationCmd("create-dblink-sra-internal-relations", "sra_internal", func(onSkip func(string, error)) dblink.Extractor {
		return &extract.SRAInternal{OnSkip: onSkip}
	}, "accstore")
)

// finalizeDBLinkDBCmd canonicalizes, blacklist-filters, dedups, indexes,
// and atomically installs the tmp store as the pipeline's DBLink store
// (spec.md §4.4 "Finalization").
var finalizePreservedTSV string

var finalizeDBLinkDBCmd = &cobra.Command{
	Use:   "finalize-dblink-db",
	Short: "Finalize the tmp DBLink store into the pipeline's DBLink store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lockedStep("finalize-dblink-db", dblinkLockPath(mustDefaultConfig()), func(cfg *config.Config, log *runlog.Coordinator) error {
			blacklists := map[string]string{}
			for _, source := range blacklistSources {
				blacklists[source] = cfg.Layout.BlacklistPath(source)
			}
			bl, err := blacklist.Load(blacklists)
			if err != nil {
				return err
			}

			var preserved []blacklist.Edge
			if finalizePreservedTSV != "" {
				edges, err := blacklist.LoadPreserved(finalizePreservedTSV, nil)
				if err != nil {
					return err
				}
				for e := range edges {
					preserved = append(preserved, e)
				}
			}

			tmpStore, err := dblink.Open(dblinkTmpPath(cfg))
			if err != nil {
				return err
			}
			defer tmpStore.Close()

			if err := dblink.Finalize(cmd.Context(), tmpStore, cfg.Layout.DBLinkStorePath(), bl, preserved); err != nil {
				return err
			}
			log.Info("finalized dblink store")
			return nil
		})
	},
}

var tsvOutDir string

// dumpDBLinkFilesCmd writes the configured two-column TSV pairs the
// pipeline's downstream consumers (outside this module) read (spec.md
// §4.4 "TSV dump").
var dumpDBLinkFilesCmd = &cobra.Command{
	Use:   "dump-dblink-files",
	Short: "Dump the finalized DBLink store to per-pair TSV files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("dump-dblink-files", func(cfg *config.Config, log *runlog.Coordinator) error {
			store, err := dblink.Open(cfg.Layout.DBLinkStorePath())
			if err != nil {
				return err
			}
			defer store.Close()

			outDir := tsvOutDir
			if outDir == "" {
				outDir = cfg.Layout.ConstDir + "/dblink/tsv"
			}
			if err := dblink.DumpTSV(store, dblinkTSVPairs(), outDir); err != nil {
				return err
			}
			log.Info(fmt.Sprintf("dumped dblink TSV pairs to %s", outDir))
			return nil
		})
	},
}

// dblinkTSVPairs is the fixed set of relation pairs spec.md §4.4 dumps:
// every pair of accession types the extractors above can actually link.
func dblinkTSVPairs() []dblink.TSVPair {
	return []dblink.TSVPair{
		{SrcType: accession.BioProject, DstType: accession.BioSample},
		{SrcType: accession.BioProject, DstType: accession.UmbrellaBioProject},
		{SrcType: accession.BioProject, DstType: accession.HumID},
		{SrcType: accession.BioProject, DstType: accession.INSDCMaster},
		{SrcType: accession.BioSample, DstType: accession.INSDCMaster},
		{SrcType: accession.BioProject, DstType: accession.INSDCAssembly},
		{SrcType: accession.BioSample, DstType: accession.INSDCAssembly},
		{SrcType: accession.INSDCMaster, DstType: accession.INSDCAssembly},
		{SrcType: accession.BioProject, DstType: accession.GEA},
		{SrcType: accession.BioSample, DstType: accession.GEA},
		{SrcType: accession.BioProject, DstType: accession.MetaboBank},
		{SrcType: accession.BioSample, DstType: accession.MetaboBank},
		{SrcType: accession.SRASubmission, DstType: accession.SRAStudy},
		{SrcType: accession.SRASubmission, DstType: accession.SRAExperiment},
		{SrcType: accession.SRASubmission, DstType: accession.SRASample},
		{SrcType: accession.SRASubmission, DstType: accession.SRAAnalysis},
		{SrcType: accession.SRASubmission, DstType: accession.SRARun},
		{SrcType: accession.JGAStudy, DstType: accession.JGADataset},
		{SrcType: accession.JGADataset, DstType: accession.JGAPolicy},
		{SrcType: accession.JGAPolicy, DstType: accession.JGADAC},
	}
}

func init() {
	rootCmd.AddCommand(initDBLinkDBCmd)
	rootCmd.AddCommand(bpbsCmd)
	rootCmd.AddCommand(bpInternalCmd)
	rootCmd.AddCommand(assemblyMasterCmd)
	rootCmd.AddCommand(geaCmd)
	rootCmd.AddCommand(metabobankCmd)
	rootCmd.AddCommand(jgaRelationCmd)
	rootCmd.AddCommand(sraInternalCmd)
	finalizeDBLinkDBCmd.Flags().StringVar(&finalizePreservedTSV, "preserved", "", "Path to the preserved-edges TSV to exclude from blacklist filtering")
	rootCmd.AddCommand(finalizeDBLinkDBCmd)
	dumpDBLinkFilesCmd.Flags().StringVar(&tsvOutDir, "out-dir", "", "Output directory for the dumped TSV pairs")
	rootCmd.AddCommand(dumpDBLinkFilesCmd)
}
