package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default returned nil")
	}
	if cfg.DBLink.TransactionSize != 50000 {
		t.Errorf("expected transaction_size 50000, got %d", cfg.DBLink.TransactionSize)
	}
	if cfg.Shard.RecordsPerShard != 30000 {
		t.Errorf("expected records_per_shard 30000, got %d", cfg.Shard.RecordsPerShard)
	}
	if cfg.Emit.ParallelNum != 4 {
		t.Errorf("expected parallel_num 4, got %d", cfg.Emit.ParallelNum)
	}
	if cfg.Incremental.MarginDays != 30 {
		t.Errorf("expected margin_days 30, got %d", cfg.Incremental.MarginDays)
	}
	if cfg.Sink.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Sink.MaxRetries)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load should return defaults for non-existent file, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config for non-existent file")
	}
}

func TestLoadValidFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
dblink:
  transaction_size: 1000
  workers: 8
incremental:
  margin_days: 7
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBLink.TransactionSize != 1000 {
		t.Errorf("expected transaction_size 1000, got %d", cfg.DBLink.TransactionSize)
	}
	if cfg.DBLink.Workers != 8 {
		t.Errorf("expected workers 8, got %d", cfg.DBLink.Workers)
	}
	if cfg.Incremental.MarginDays != 7 {
		t.Errorf("expected margin_days 7, got %d", cfg.Incremental.MarginDays)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: [broken"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.DBLink.TransactionSize = 999
	cfg.Emit.JGANonFatal = false

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DBLink.TransactionSize != 999 {
		t.Errorf("expected transaction_size 999, got %d", loaded.DBLink.TransactionSize)
	}
	if loaded.Emit.JGANonFatal {
		t.Error("expected jga_non_fatal to be false after save/load")
	}
}

func TestLoadEnvOverridesConnectionStrings(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://example/db")
	t.Setenv("ES_URL", "http://example:9200")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PostgresURL != "postgres://example/db" {
		t.Errorf("expected postgres_url override, got %q", cfg.PostgresURL)
	}
	if cfg.ESURL != "http://example:9200" {
		t.Errorf("expected es_url override, got %q", cfg.ESURL)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("DBLINK_CONFIG", "/custom/config.yaml")
	path := GetConfigPath()
	if path != "/custom/config.yaml" {
		t.Errorf("expected /custom/config.yaml, got %q", path)
	}
}
