package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ddbj/dblink/internal/blacklist"
	"github.com/ddbj/dblink/internal/config"
	"github.com/ddbj/dblink/internal/runlog"
	"github.com/ddbj/dblink/internal/sink"
)

var esIndexFlags struct {
	family string
	index  string
	dir    string
}

// esIndexCmd bulk-indexes one family's already-materialized JSONL shards
// into the search backend (spec.md §4.9 "es-index ... bulk-PUTs every
// shard under a family's dated JSONL directory").
var esIndexCmd = &cobra.Command{
	Use:   "es-index",
	Short: "Bulk-index a family's JSONL shards into the search backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("es-index", func(cfg *config.Config, log *runlog.Coordinator) error {
			if cfg.ESURL == "" {
				return fmt.Errorf("es_url is not configured")
			}
			if esIndexFlags.family == "" {
				return fmt.Errorf("--family is required")
			}
			index := esIndexFlags.index
			if index == "" {
				index = esIndexFlags.family
			}

			dir := esIndexFlags.dir
			if dir == "" {
				dir = cfg.Layout.JSONLDir(esIndexFlags.family)
			}
			shards, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
			if err != nil {
				return err
			}

			adapter := sink.New(cfg.ESURL, sink.Config{
				BatchSize:       cfg.Sink.BatchSize,
				MaxRetries:      cfg.Sink.MaxRetries,
				InitialBackoffS: cfg.Sink.InitialBackoffS,
				MaxBackoffS:     cfg.Sink.MaxBackoffS,
			}, log)

			var total int
			for _, shard := range shards {
				docs, err := readJSONLDocs(shard)
				if err != nil {
					return err
				}
				if err := adapter.PutBatch(cmd.Context(), index, docs); err != nil {
					return err
				}
				total += len(docs)
			}
			log.Info(fmt.Sprintf("es-index: indexed %d documents from %d shards into %q", total, len(shards), index))
			return nil
		})
	},
}

func readJSONLDocs(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		doc := make(json.RawMessage, len(line))
		copy(doc, line)
		docs = append(docs, doc)
	}
	return docs, scanner.Err()
}

var esDeleteFlags struct {
	source string
	index  string
}

// esDeleteBlacklistedCmd issues deletes for every accession on one
// source's blacklist (spec.md §9 "a dedicated es-delete-blacklisted CLI
// step, separate from es-index, issues deletes for every blacklisted
// accession once an operator adds it").
var esDeleteBlacklistedCmd = &cobra.Command{
	Use:   "es-delete-blacklisted",
	Short: "Delete every blacklisted accession for one source from the search backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("es-delete-blacklisted", func(cfg *config.Config, log *runlog.Coordinator) error {
			if cfg.ESURL == "" {
				return fmt.Errorf("es_url is not configured")
			}
			if esDeleteFlags.source == "" {
				return fmt.Errorf("--source is required")
			}
			index := esDeleteFlags.index
			if index == "" {
				index = esDeleteFlags.source
			}

			bl, err := blacklist.Load(map[string]string{esDeleteFlags.source: cfg.Layout.BlacklistPath(esDeleteFlags.source)})
			if err != nil {
				return err
			}
			ids := bl.Entries(esDeleteFlags.source)
			if len(ids) == 0 {
				log.Info(fmt.Sprintf("es-delete-blacklisted: no blacklisted %s accessions", esDeleteFlags.source))
				return nil
			}

			adapter := sink.New(cfg.ESURL, sink.Config{
				BatchSize:       cfg.Sink.BatchSize,
				MaxRetries:      cfg.Sink.MaxRetries,
				InitialBackoffS: cfg.Sink.InitialBackoffS,
				MaxBackoffS:     cfg.Sink.MaxBackoffS,
			}, log)
			if err := adapter.DeleteBatch(cmd.Context(), index, ids); err != nil {
				return err
			}
			log.Info(fmt.Sprintf("es-delete-blacklisted: deleted %d %s accessions from %q", len(ids), esDeleteFlags.source, index))
			return nil
		})
	},
}

func init() {
	esIndexCmd.Flags().StringVar(&esIndexFlags.family, "family", "", "Entity family whose JSONL shards to index (bioproject|biosample|sra|jga)")
	esIndexCmd.Flags().StringVar(&esIndexFlags.index, "index", "", "Search backend index name (default: --family)")
	esIndexCmd.Flags().StringVar(&esIndexFlags.dir, "dir", "", "Directory of JSONL shards to index (default: the family's dated JSONL directory)")
	rootCmd.AddCommand(esIndexCmd)

	esDeleteBlacklistedCmd.Flags().StringVar(&esDeleteFlags.source, "source", "", "Blacklist source to delete (bioproject|biosample|sra|jga|gea|metabobank)")
	esDeleteBlacklistedCmd.Flags().StringVar(&esDeleteFlags.index, "index", "", "Search backend index name (default: --source)")
	rootCmd.AddCommand(esDeleteBlacklistedCmd)
}
