package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  target_domain: example.edu
  seeds: ["https://example.edu/"]
  concurrency: 3
  batch_size: 6
  fetch_timeout_seconds: 10
  batch_delay_ms: 50
  retry_ceiling: 2
  min_text_length: 200
  checkpoint_every: 25
default_host:
  max_depth: 2
  base_priority: 10
hosts:
  - host: library.example.edu
    max_depth: 1
    base_priority: 5
rules:
  - pattern: '\.pdf$'
    exclude: true
priority_patterns:
  - pattern: '/notice/'
    score: 1500
fetcher:
  mode: headless
  headless_max_parallel: 2
  headless_no_sandbox: true
checkpoint:
  backend: sqlite
  path: state/checkpoint.db
sink:
  backend: local
  output_dir: out
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.TargetDomain != "example.edu" || len(cfg.Crawler.Seeds) != 1 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.Concurrency != 3 || cfg.Crawler.BatchSize != 6 || cfg.Crawler.RetryCeiling != 2 {
		t.Fatalf("unexpected crawler knobs: %+v", cfg.Crawler)
	}
	if cfg.DefaultHost.MaxDepth != 2 || cfg.DefaultHost.BasePriority != 10 {
		t.Fatalf("unexpected default host: %+v", cfg.DefaultHost)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0].Host != "library.example.edu" || cfg.Hosts[0].MaxDepth != 1 {
		t.Fatalf("expected host list override, got %+v", cfg.Hosts)
	}
	if len(cfg.Rules) != 1 || !cfg.Rules[0].Exclude {
		t.Fatalf("expected rules override, got %+v", cfg.Rules)
	}
	if len(cfg.PriorityPatterns) != 1 || cfg.PriorityPatterns[0].Score != 1500 {
		t.Fatalf("expected pattern override, got %+v", cfg.PriorityPatterns)
	}
	if cfg.Fetcher.Mode != "headless" || cfg.Checkpoint.Backend != "sqlite" {
		t.Fatalf("expected backend overrides, got %+v %+v", cfg.Fetcher, cfg.Checkpoint)
	}
	if !cfg.Fetcher.HeadlessNoSandbox {
		t.Fatalf("expected headless_no_sandbox override, got %+v", cfg.Fetcher)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if got := cfg.Crawler.FetchTimeout(); got != 10*time.Second {
		t.Fatalf("expected fetch timeout 10s, got %v", got)
	}
	if got := cfg.Crawler.BatchDelay(); got != 50*time.Millisecond {
		t.Fatalf("expected batch delay 50ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Crawler.CheckpointEvery != 100 || cfg.Crawler.RetryCeiling != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg.Crawler)
	}
	if cfg.Fetcher.HeadlessNoSandbox {
		t.Fatal("expected chrome sandbox enabled by default")
	}
	if cfg.Crawler.HighPriorityThreshold != 1000 || cfg.Crawler.SeedPriority != 2000 {
		t.Fatalf("unexpected priority defaults: %+v", cfg.Crawler)
	}
	if cfg.DefaultHost.MaxDepth != 25 || cfg.DefaultHost.BasePriority != 500 {
		t.Fatalf("unexpected default host: %+v", cfg.DefaultHost)
	}
	if len(cfg.Hosts) == 0 || len(cfg.Rules) == 0 || len(cfg.PriorityPatterns) == 0 {
		t.Fatalf("expected default tables to be populated")
	}
	if cfg.Crawler.BackoffInitial() != time.Second || cfg.Crawler.BackoffMax() != 30*time.Second {
		t.Fatalf("unexpected backoff defaults")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "domain", mutate: func(c *Config) { c.Crawler.TargetDomain = " " }, want: "target_domain"},
		{name: "seeds", mutate: func(c *Config) { c.Crawler.Seeds = nil }, want: "seeds"},
		{name: "concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "concurrency"},
		{name: "timeout", mutate: func(c *Config) { c.Crawler.FetchTimeoutSeconds = 0 }, want: "fetch_timeout"},
		{name: "ceiling", mutate: func(c *Config) { c.Crawler.RetryCeiling = 0 }, want: "retry_ceiling"},
		{name: "bad rule", mutate: func(c *Config) { c.Rules = []RuleConfig{{Pattern: "("}} }, want: "rules[0]"},
		{name: "bad pattern", mutate: func(c *Config) {
			c.PriorityPatterns = []PatternConfig{{Pattern: "[", Score: 1}}
		}, want: "priority_patterns[0]"},
		{name: "fetcher mode", mutate: func(c *Config) { c.Fetcher.Mode = "carrier-pigeon" }, want: "fetcher.mode"},
		{name: "checkpoint backend", mutate: func(c *Config) { c.Checkpoint.Backend = "s3" }, want: "checkpoint.backend"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Sink.Backend = "postgres" }, want: "postgres_dsn"},
		{name: "host name", mutate: func(c *Config) { c.Hosts = append(c.Hosts, c.DefaultHost) }, want: "host is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Hosts = append([]crawler.HostPolicy(nil), base.Hosts...)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
