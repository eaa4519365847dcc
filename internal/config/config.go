// Package config loads the DBLink pipeline's YAML configuration, layering
// environment overrides on top of sane defaults the way the teacher's
// internal/config.Config does for SRAKE.
package config

import (
	"fmt"
	"os"

	"github.com/ddbj/dblink/internal/layout"
	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration (spec.md §3, §6).
type Config struct {
	Layout      layout.Layout     `yaml:"-"`
	PostgresURL string            `yaml:"postgres_url"`
	ESURL       string            `yaml:"es_url"`
	Shard       ShardConfig       `yaml:"shard"`
	DBLink      DBLinkConfig      `yaml:"dblink"`
	Emit        EmitConfig        `yaml:"emit"`
	Sink        SinkConfig        `yaml:"sink"`
	Incremental IncrementalConfig `yaml:"incremental"`
}

// ShardConfig configures the XML/TSV stream splitter (spec.md §4.2).
type ShardConfig struct {
	RecordsPerShard int `yaml:"records_per_shard"`
}

// DBLinkConfig configures the relation-graph builder (spec.md §4.4).
type DBLinkConfig struct {
	TransactionSize int `yaml:"transaction_size"` // edges per serializer commit
	Workers         int `yaml:"workers"`          // parser goroutines per extractor
}

// EmitConfig configures the JSONL emitter worker pool (spec.md §4.7).
type EmitConfig struct {
	ParallelNum int  `yaml:"parallel_num"`
	BatchSize   int  `yaml:"batch_size"` // SRA submissions per shard file
	JGANonFatal bool `yaml:"jga_non_fatal"`
}

// SinkConfig configures the document-sink adapter's retry policy
// (spec.md §4.9).
type SinkConfig struct {
	BatchSize       int `yaml:"batch_size"`
	MaxRetries      int `yaml:"max_retries"`
	InitialBackoffS int `yaml:"initial_backoff_seconds"`
	MaxBackoffS     int `yaml:"max_backoff_seconds"`
}

// IncrementalConfig configures the last_run.json cutoff discipline
// (spec.md §4.7 "Incremental cutoff per family").
type IncrementalConfig struct {
	MarginDays int `yaml:"margin_days"`
}

// Default returns the pipeline defaults, with layout resolved from the
// environment per spec.md §6.
func Default() *Config {
	return &Config{
		Layout: layout.FromEnv(),
		Shard: ShardConfig{
			RecordsPerShard: 30000,
		},
		DBLink: DBLinkConfig{
			TransactionSize: 50000,
			Workers:         4,
		},
		Emit: EmitConfig{
			ParallelNum: 4,
			BatchSize:   5000,
			JGANonFatal: true,
		},
		Sink: SinkConfig{
			BatchSize:       5000,
			MaxRetries:      3,
			InitialBackoffS: 1,
			MaxBackoffS:     60,
		},
		Incremental: IncrementalConfig{
			MarginDays: 30,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies env
// overrides for connection strings that should not live on disk, mirroring
// the teacher's Load (internal/config/config.go).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.PostgresURL = v
	}
	if v := os.Getenv("ES_URL"); v != "" {
		cfg.ESURL = v
	}
	cfg.Layout = layout.FromEnv()

	return cfg, nil
}

// Save writes the configuration back to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the default config file path: the DBLINK_CONFIG
// env var when set, otherwise dblink.yaml in the current directory.
func GetConfigPath() string {
	if path := os.Getenv("DBLINK_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("dblink.yaml"); err == nil {
		return "dblink.yaml"
	}
	return "dblink.yaml"
}
