// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler          CrawlerConfig        `mapstructure:"crawler"`
	DefaultHost      crawler.HostPolicy   `mapstructure:"default_host"`
	Hosts            []crawler.HostPolicy `mapstructure:"hosts"`
	Rules            []RuleConfig         `mapstructure:"rules"`
	PriorityPatterns []PatternConfig      `mapstructure:"priority_patterns"`
	Fetcher          FetcherConfig        `mapstructure:"fetcher"`
	Checkpoint       CheckpointConfig     `mapstructure:"checkpoint"`
	Corpus           CorpusConfig         `mapstructure:"corpus"`
	Sink             SinkConfig           `mapstructure:"sink"`
	Server           ServerConfig         `mapstructure:"server"`
	Logging          LoggingConfig        `mapstructure:"logging"`
}

// CrawlerConfig governs the crawl loop and frontier behavior.
type CrawlerConfig struct {
	TargetDomain          string   `mapstructure:"target_domain"`
	Seeds                 []string `mapstructure:"seeds"`
	SeedPriority          int      `mapstructure:"seed_priority"`
	HighPriorityThreshold int      `mapstructure:"high_priority_threshold"`
	NormalLaneCapacity    int      `mapstructure:"normal_lane_capacity"`
	ResortEveryBatches    int      `mapstructure:"resort_every_batches"`
	Concurrency           int      `mapstructure:"concurrency"`
	BatchSize             int      `mapstructure:"batch_size"`
	FetchTimeoutSeconds   int      `mapstructure:"fetch_timeout_seconds"`
	BatchDelayMs          int      `mapstructure:"batch_delay_ms"`
	RetryCeiling          int      `mapstructure:"retry_ceiling"`
	BackoffInitialMs      int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int      `mapstructure:"backoff_max_ms"`
	MinTextLength         int      `mapstructure:"min_text_length"`
	MaxPages              int      `mapstructure:"max_pages"`
	CheckpointEvery       int      `mapstructure:"checkpoint_every"`
	ProgressEvery         int      `mapstructure:"progress_every"`
	UserAgent             string   `mapstructure:"user_agent"`
}

// RuleConfig is one row of the ordered exclusion table. The first rule whose
// pattern matches a URL decides whether it is excluded.
type RuleConfig struct {
	Pattern string `mapstructure:"pattern"`
	Exclude bool   `mapstructure:"exclude"`
}

// PatternConfig assigns a priority score to URLs matching a pattern.
type PatternConfig struct {
	Pattern string `mapstructure:"pattern"`
	Score   int    `mapstructure:"score"`
}

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	Mode                string  `mapstructure:"mode"`
	PerHostRPS          float64 `mapstructure:"per_host_rps"`
	PerHostBurst        int     `mapstructure:"per_host_burst"`
	HeadlessMaxParallel int     `mapstructure:"headless_max_parallel"`
	HeadlessNoSandbox   bool    `mapstructure:"headless_no_sandbox"`
	RenderThreshold     int     `mapstructure:"render_threshold"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// CorpusConfig lists prior-corpus sources whose URLs are never re-crawled.
type CorpusConfig struct {
	URLFiles []string `mapstructure:"url_files"`
	PageDirs []string `mapstructure:"page_dirs"`
}

// SinkConfig selects where saved pages go.
type SinkConfig struct {
	Backend      string  `mapstructure:"backend"`
	OutputDir    string  `mapstructure:"output_dir"`
	PostgresDSN  string  `mapstructure:"postgres_dsn"`
	Table        string  `mapstructure:"table"`
	DedupContent bool    `mapstructure:"dedup_content"`
	DedupFPRate  float64 `mapstructure:"dedup_fp_rate"`
	DedupExpect  uint    `mapstructure:"dedup_expected_pages"`
}

// ServerConfig controls the optional status/metrics HTTP listener.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAMPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.target_domain", "daejin.ac.kr")
	v.SetDefault("crawler.seeds", []string{"https://www.daejin.ac.kr/"})
	v.SetDefault("crawler.seed_priority", 2000)
	v.SetDefault("crawler.high_priority_threshold", 1000)
	v.SetDefault("crawler.normal_lane_capacity", 10000)
	v.SetDefault("crawler.resort_every_batches", 10)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.batch_size", 8)
	v.SetDefault("crawler.fetch_timeout_seconds", 25)
	v.SetDefault("crawler.batch_delay_ms", 300)
	v.SetDefault("crawler.retry_ceiling", 3)
	v.SetDefault("crawler.backoff_initial_ms", 1000)
	v.SetDefault("crawler.backoff_max_ms", 30000)
	v.SetDefault("crawler.min_text_length", 150)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.checkpoint_every", 100)
	v.SetDefault("crawler.progress_every", 50)
	v.SetDefault("crawler.user_agent", "campus-crawler/0.1")
	v.SetDefault("default_host.max_depth", 25)
	v.SetDefault("default_host.base_priority", 500)
	v.SetDefault("hosts", []map[string]any{
		{"host": "www.daejin.ac.kr", "max_depth": 50, "base_priority": 1000},
		{"host": "ce.daejin.ac.kr", "max_depth": 50, "base_priority": 950},
		{"host": "library.daejin.ac.kr", "max_depth": 5, "base_priority": 100},
	})
	v.SetDefault("rules", []map[string]any{
		{"pattern": `(?i)\.(pdf|docx?|hwpx?|zip|exe|jpe?g|png|gif|mp4|avi|pptx?|xlsx?)(\?|$)`, "exclude": true},
		{"pattern": `(?i)/download\.do`, "exclude": true},
		{"pattern": `(?i)^https?://(groupware|webmail)\.`, "exclude": true},
		{"pattern": `(?i)^https?://sso\.[^/]+/login`, "exclude": true},
		{"pattern": `(?i)/(admin|login|logout|sso)(/|\.do|$)`, "exclude": true},
	})
	v.SetDefault("priority_patterns", []map[string]any{
		{"pattern": `/bbs/.*/artclView\.do`, "score": 1200},
		{"pattern": `/bbs/.*/`, "score": 1150},
		{"pattern": `/board/.*/`, "score": 1140},
		{"pattern": `/notice/`, "score": 1130},
		{"pattern": `/news/`, "score": 1120},
		{"pattern": `/subview\.do`, "score": 1100},
		{"pattern": `/(curriculum|professor|faculty)/`, "score": 1090},
	})
	v.SetDefault("fetcher.mode", "http")
	v.SetDefault("fetcher.per_host_rps", 0)
	v.SetDefault("fetcher.per_host_burst", 1)
	v.SetDefault("fetcher.headless_max_parallel", 4)
	v.SetDefault("fetcher.headless_no_sandbox", false)
	v.SetDefault("fetcher.render_threshold", 2048)
	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.path", "data/checkpoint.json")
	v.SetDefault("sink.backend", "local")
	v.SetDefault("sink.output_dir", "data/pages")
	v.SetDefault("sink.table", "crawled_pages")
	v.SetDefault("sink.dedup_content", false)
	v.SetDefault("sink.dedup_fp_rate", 0.001)
	v.SetDefault("sink.dedup_expected_pages", 100000)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	cr := c.Crawler
	if strings.TrimSpace(cr.TargetDomain) == "" {
		return fmt.Errorf("crawler.target_domain is required")
	}
	if len(cr.Seeds) == 0 {
		return fmt.Errorf("crawler.seeds must not be empty")
	}
	if cr.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if cr.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if cr.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	if cr.BatchDelayMs < 0 {
		return fmt.Errorf("crawler.batch_delay_ms must be >= 0")
	}
	if cr.RetryCeiling <= 0 {
		return fmt.Errorf("crawler.retry_ceiling must be > 0")
	}
	if cr.NormalLaneCapacity <= 0 {
		return fmt.Errorf("crawler.normal_lane_capacity must be > 0")
	}
	if cr.CheckpointEvery <= 0 {
		return fmt.Errorf("crawler.checkpoint_every must be > 0")
	}
	if cr.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.DefaultHost.MaxDepth < 0 {
		return fmt.Errorf("default_host.max_depth must be >= 0")
	}
	for i, h := range c.Hosts {
		if h.Host == "" {
			return fmt.Errorf("hosts[%d].host is required", i)
		}
		if h.MaxDepth < 0 {
			return fmt.Errorf("hosts[%d].max_depth must be >= 0", i)
		}
	}
	for i, r := range c.Rules {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("rules[%d].pattern: %w", i, err)
		}
	}
	for i, p := range c.PriorityPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("priority_patterns[%d].pattern: %w", i, err)
		}
	}
	switch c.Fetcher.Mode {
	case "http":
	case "headless", "auto":
		if c.Fetcher.HeadlessMaxParallel <= 0 {
			return fmt.Errorf("fetcher.headless_max_parallel must be > 0 when mode is %s", c.Fetcher.Mode)
		}
	default:
		return fmt.Errorf("fetcher.mode must be http, headless or auto, got %q", c.Fetcher.Mode)
	}
	switch c.Checkpoint.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("checkpoint.backend must be file or sqlite, got %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint.path is required")
	}
	switch c.Sink.Backend {
	case "local":
		if c.Sink.OutputDir == "" {
			return fmt.Errorf("sink.output_dir is required for the local sink")
		}
	case "postgres":
		if c.Sink.PostgresDSN == "" {
			return fmt.Errorf("sink.postgres_dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("sink.backend must be local or postgres, got %q", c.Sink.Backend)
	}
	if c.Sink.DedupContent && (c.Sink.DedupFPRate <= 0 || c.Sink.DedupFPRate >= 1) {
		return fmt.Errorf("sink.dedup_fp_rate must be in (0, 1)")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// FetchTimeout returns the per-fetch deadline.
func (c CrawlerConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// BatchDelay returns the politeness pause applied after every batch.
func (c CrawlerConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

// BackoffInitial returns the base retry delay.
func (c CrawlerConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c CrawlerConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
