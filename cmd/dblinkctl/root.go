package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/logstore"
	"github.com/ddbj/dblink/internal/runlog"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "dblinkctl",
	Short:   "Drive the DBLink cross-reference and JSONL pipeline",
	Version: "0.1.0",
	Long: `dblinkctl runs the DBLink pipeline's steps: reconciling BioProject,
BioSample, SRA/DRA, JGA, GEA, MetaboBank, and assembly cross-references
into the DBLink relation graph, and materializing per-entity JSONL search
documents for the configured sink.

Each subcommand is one pipeline step, run under its own coordinated run
log; an external scheduler invokes these in the order spec.md's pipeline
DAG defines.`,
	Example: `  dblinkctl prepare-bioproject-xml --input /data/bioproject.xml
  dblinkctl generate-bp-jsonl --full
  dblinkctl es-index --family bioproject`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to dblink.yaml (default: $DBLINK_CONFIG or ./dblink.yaml)")
}

// Execute runs the root command, returning the first step error so main
// can translate it into a non-zero exit code (spec.md §6).
func Execute() error {
	return rootCmd.Execute()
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetConfigPath()
}

// stepFunc is one pipeline step's body. Returning an error marks the step
// failed; a step may also call log.Error/Critical itself for finer-grained
// reporting while still returning nil to let other work in the same
// invocation continue.
type stepFunc func(cfg *config.Config, log *runlog.Coordinator) error

// runStep wraps fn in the run coordinator's lifecycle (spec.md §4.8):
// loads config, starts a run log under name, runs fn, and closes the log
// with the outcome fn and any logged errors imply.
func runStep(name string, fn stepFunc) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Layout.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	var opts []runlog.Option
	mirror, mirrorErr := logstore.Open(cfg.Layout.LogStorePath())
	if mirrorErr == nil {
		defer mirror.Close()
		opts = append(opts, runlog.WithMirror(mirror))
	}

	log, err := runlog.Start(cfg.Layout.LogsDir(), name, time.Now(), opts...)
	if err != nil {
		return fmt.Errorf("start run log: %w", err)
	}

	stepErr := fn(cfg, log)
	if stepErr != nil {
		log.Critical(name+" failed", stepErr)
	}

	outcome := runlog.Success
	if log.Failed() {
		outcome = runlog.Failed
	}
	if endErr := log.End(outcome); endErr != nil && stepErr == nil {
		stepErr = endErr
	}
	return stepErr
}

// lockedStep is runStep plus the single-writer DBLink lock, for steps that
// build into or finalize the tmp store (spec.md §4.4 "single-writer
// discipline").
func lockedStep(name, lockPath string, fn stepFunc) error {
	return runStep(name, func(cfg *config.Config, log *runlog.Coordinator) error {
		if err := log.Lock(lockPath); err != nil {
			return fmt.Errorf("acquire dblink lock: %w", err)
		}
		return fn(cfg, log)
	})
}
