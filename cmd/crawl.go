package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/api"
	"github.com/JakeFAU/campus-crawler/internal/checkpoint"
	"github.com/JakeFAU/campus-crawler/internal/checkpoint/sqlite"
	"github.com/JakeFAU/campus-crawler/internal/clock/system"
	"github.com/JakeFAU/campus-crawler/internal/config"
	"github.com/JakeFAU/campus-crawler/internal/corpus"
	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/dedup"
	"github.com/JakeFAU/campus-crawler/internal/engine"
	"github.com/JakeFAU/campus-crawler/internal/extract"
	"github.com/JakeFAU/campus-crawler/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/campus-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/campus-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/campus-crawler/internal/frontier"
	"github.com/JakeFAU/campus-crawler/internal/hash/sha256"
	"github.com/JakeFAU/campus-crawler/internal/headless/detector"
	"github.com/JakeFAU/campus-crawler/internal/id/uuid"
	"github.com/JakeFAU/campus-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/campus-crawler/internal/policy/retry"
	"github.com/JakeFAU/campus-crawler/internal/policy/urlpolicy"
	"github.com/JakeFAU/campus-crawler/internal/sink/dedupe"
	"github.com/JakeFAU/campus-crawler/internal/sink/local"
	"github.com/JakeFAU/campus-crawler/internal/sink/postgres"
)

const shutdownTimeout = 10 * time.Second

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts or resumes the crawl",
		Long: `Runs the crawl loop until the frontier is exhausted, the page ceiling
is reached, or the process receives SIGINT/SIGTERM. On interruption the batch
in flight is finished and a final checkpoint is written; a second signal
terminates immediately.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().Int("max-pages", 0, "stop after this many saved pages (overrides crawler.max_pages)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	logger := appInstance.Logger
	if cmd.Flags().Changed("max-pages") {
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		if maxPages < 0 {
			return fmt.Errorf("--max-pages must be >= 0")
		}
		cfg.Crawler.MaxPages = maxPages
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Restore default signal handling once the first signal arrives.
	context.AfterFunc(ctx, stop)

	session, err := buildSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	if cfg.Server.Enabled {
		srv := startStatusServer(cfg.Server.Port, session.engine, logger.Named("api"))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown failed", zap.Error(err))
			}
		}()
	}

	progress, err := session.engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl command finished",
		zap.String("session_id", progress.SessionID),
		zap.Int("saved", progress.Saved),
		zap.Int("processed", progress.Processed),
	)
	return nil
}

// crawlSession owns the engine and the resources its collaborators hold open.
type crawlSession struct {
	engine  *engine.Engine
	closers []func()
}

// Close releases resources in reverse acquisition order.
func (s *crawlSession) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildSession(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *crawlSession, err error) {
	s := &crawlSession{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	policy, err := urlpolicy.New(policyConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init url policy: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.Fetcher.PerHostRPS,
		Burst:      cfg.Fetcher.PerHostBurst,
	})
	fetcher, err := buildFetcher(cfg, limiter, logger, s)
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(ctx, cfg, s)
	if err != nil {
		return nil, err
	}

	store, err := buildCheckpointStore(cfg.Checkpoint, logger, s)
	if err != nil {
		return nil, err
	}

	known, err := corpus.NewLoader(logger.Named("corpus")).Load(cfg.Corpus.URLFiles, cfg.Corpus.PageDirs)
	if err != nil {
		return nil, fmt.Errorf("load prior corpus: %w", err)
	}

	cr := cfg.Crawler
	s.engine, err = engine.New(engine.Config{
		BatchSize:       cr.BatchSize,
		Concurrency:     cr.Concurrency,
		FetchTimeout:    cr.FetchTimeout(),
		BatchDelay:      cr.BatchDelay(),
		MinTextLength:   cr.MinTextLength,
		MaxPages:        cr.MaxPages,
		CheckpointEvery: cr.CheckpointEvery,
		ResortEvery:     cr.ResortEveryBatches,
		ProgressEvery:   cr.ProgressEvery,
	}, engine.Deps{
		Policy: policy,
		Frontier: frontier.New(frontier.Config{
			HighPriorityThreshold: cr.HighPriorityThreshold,
			NormalCapacity:        cr.NormalLaneCapacity,
		}),
		Dedup: dedup.New(),
		Retry: retry.New(retry.Config{
			Ceiling:   cr.RetryCeiling,
			BaseDelay: cr.BackoffInitial(),
			MaxDelay:  cr.BackoffMax(),
		}),
		Fetcher:     fetcher,
		Extractor:   extract.New(),
		Sink:        sink,
		Checkpoints: store,
		Clock:       system.New(),
		IDs:         uuid.New(),
		Known:       known,
		Logger:      logger.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return s, nil
}

func policyConfig(cfg config.Config) urlpolicy.Config {
	rules := make([]urlpolicy.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, urlpolicy.Rule{Pattern: r.Pattern, Exclude: r.Exclude})
	}
	patterns := make([]urlpolicy.PriorityPattern, 0, len(cfg.PriorityPatterns))
	for _, p := range cfg.PriorityPatterns {
		patterns = append(patterns, urlpolicy.PriorityPattern{Pattern: p.Pattern, Score: p.Score})
	}
	return urlpolicy.Config{
		TargetDomain:     cfg.Crawler.TargetDomain,
		Seeds:            cfg.Crawler.Seeds,
		SeedPriority:     cfg.Crawler.SeedPriority,
		DefaultHost:      cfg.DefaultHost,
		Hosts:            cfg.Hosts,
		Rules:            rules,
		PriorityPatterns: patterns,
	}
}

func buildFetcher(cfg config.Config, limiter *ratelimit.Limiter, logger *zap.Logger, s *crawlSession) (crawler.Fetcher, error) {
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.FetchTimeout(),
		Limiter:   limiter,
	})
	if cfg.Fetcher.Mode == "http" {
		return plain, nil
	}

	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Fetcher.HeadlessMaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: cfg.Crawler.FetchTimeout(),
		Limiter:           limiter,
		NoSandbox:         cfg.Fetcher.HeadlessNoSandbox,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	s.closers = append(s.closers, browser.Close)
	if cfg.Fetcher.Mode == "headless" {
		return browser, nil
	}
	return auto.New(plain, browser, detector.NewHeuristic(cfg.Fetcher.RenderThreshold), logger.Named("fetcher")), nil
}

func buildSink(ctx context.Context, cfg config.Config, s *crawlSession) (crawler.Sink, error) {
	var sink crawler.Sink
	switch cfg.Sink.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{DSN: cfg.Sink.PostgresDSN, Table: cfg.Sink.Table})
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		s.closers = append(s.closers, pg.Close)
		sink = pg
	default:
		fs, err := local.New(local.Config{OutputDir: cfg.Sink.OutputDir})
		if err != nil {
			return nil, fmt.Errorf("init local sink: %w", err)
		}
		sink = fs
	}
	if !cfg.Sink.DedupContent {
		return sink, nil
	}
	wrapped, err := dedupe.New(sink, sha256.New(), dedupe.Config{
		ExpectedPages: cfg.Sink.DedupExpect,
		FPRate:        cfg.Sink.DedupFPRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init content dedupe: %w", err)
	}
	return wrapped, nil
}

func buildCheckpointStore(cfg config.CheckpointConfig, logger *zap.Logger, s *crawlSession) (checkpoint.Store, error) {
	if cfg.Backend == "sqlite" {
		store, err := sqlite.Open(cfg.Path, logger.Named("checkpoint"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite checkpoint: %w", err)
		}
		s.closers = append(s.closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close checkpoint store failed", zap.Error(err))
			}
		})
		return store, nil
	}
	store, err := checkpoint.NewFileStore(cfg.Path, logger.Named("checkpoint"))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	return store, nil
}

func startStatusServer(port int, progress api.ProgressProvider, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(progress, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return srv
}
