package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sample visits below 2", func(c *Config) { c.Collector.SampleVisits = 1 }},
		{"zero consumer workers", func(c *Config) { c.Collector.ConsumerWorkers = 0 }},
		{"zero max pages", func(c *Config) { c.Pagination.MaxPages = 0 }},
		{"backoff factor below 1", func(c *Config) { c.Rate.BackoffFactor = 0.5 }},
		{"jitter above 1", func(c *Config) { c.Rate.JitterFraction = 1.5 }},
		{"unknown backend", func(c *Config) { c.Channel.Backend = "pigeon" }},
		{"file backend without dir", func(c *Config) { c.Channel.Backend = "file"; c.Channel.Dir = "" }},
		{"stream backend without uri", func(c *Config) { c.Channel.Backend = "stream"; c.Channel.StreamURI = "" }},
		{"empty checkpoint dir", func(c *Config) { c.Checkpoint.Dir = "" }},
		{"invalid blocklist regex", func(c *Config) { c.Recovery.BlockedURLPatterns = []string{"(["} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://example.com/list",
		"http://example.com:8080/list?page=1",
	}
	for _, u := range valid {
		if err := ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{
		"ftp://example.com/list",
		"example.com/list",
		"https://",
	}
	for _, u := range invalid {
		if err := ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) = nil, want error", u)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "linkwalk.yaml")
	yaml := `
collector:
  sample_visits: 4
  consumer_workers: 8
  output_path: ./out/items.jsonl
pagination:
  max_pages: 10
rate:
  base_delay: 2s
channel:
  backend: file
  dir: ./queue
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Collector.SampleVisits != 4 {
		t.Errorf("sample_visits = %d, want 4", cfg.Collector.SampleVisits)
	}
	if cfg.Collector.ConsumerWorkers != 8 {
		t.Errorf("consumer_workers = %d, want 8", cfg.Collector.ConsumerWorkers)
	}
	if cfg.Pagination.MaxPages != 10 {
		t.Errorf("max_pages = %d, want 10", cfg.Pagination.MaxPages)
	}
	if cfg.Rate.BaseDelay != 2*time.Second {
		t.Errorf("base_delay = %s, want 2s", cfg.Rate.BaseDelay)
	}
	if cfg.Channel.Backend != "file" {
		t.Errorf("backend = %s, want file", cfg.Channel.Backend)
	}

	if cfg.Collector.OutputPath != "./out/items.jsonl" {
		t.Errorf("output_path = %q, want ./out/items.jsonl", cfg.Collector.OutputPath)
	}

	// Unset keys fall back to defaults.
	if cfg.Rate.BackoffFactor != 1.5 {
		t.Errorf("backoff_factor = %v, want default 1.5", cfg.Rate.BackoffFactor)
	}
	if cfg.Collector.SummaryPath != "./output/summary.json" {
		t.Errorf("summary_path = %q, want default", cfg.Collector.SummaryPath)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for explicitly named missing config file")
	}
}
