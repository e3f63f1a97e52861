// Package engine drives a crawl session: it restores progress, seeds the
// frontier, fetches batches in parallel and applies every result on a single
// coordinating goroutine.
//
// The frontier, dedup store and retry counters are owned by the goroutine
// that calls Init, Step and Run. Fetch workers only return results. Stop may
// be called from any goroutine and is observed between batches; a batch that
// is already running always completes so no fetched page is wasted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/campus-crawler/internal/checkpoint"
	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/dedup"
	"github.com/JakeFAU/campus-crawler/internal/frontier"
	"github.com/JakeFAU/campus-crawler/internal/logging"
	"github.com/JakeFAU/campus-crawler/internal/metrics"
	"github.com/JakeFAU/campus-crawler/internal/policy/retry"
	"github.com/JakeFAU/campus-crawler/internal/policy/urlpolicy"
)

// Config tunes the crawl loop.
type Config struct {
	BatchSize    int
	Concurrency  int
	FetchTimeout time.Duration
	BatchDelay   time.Duration
	// MinTextLength is the shortest extracted text, in characters, worth saving.
	MinTextLength int
	// MaxPages stops the crawl once this many pages are saved. Zero means no limit.
	MaxPages int
	// CheckpointEvery saves a checkpoint after this many newly saved pages.
	CheckpointEvery int
	// ResortEvery reorders the normal lane after this many batches.
	ResortEvery int
	// ProgressEvery logs a progress summary after this many processed URLs.
	ProgressEvery int
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Policy      *urlpolicy.Policy
	Frontier    *frontier.Frontier
	Dedup       *dedup.Store
	Retry       *retry.Policy
	Fetcher     crawler.Fetcher
	Extractor   crawler.Extractor
	Sink        crawler.Sink
	Checkpoints checkpoint.Store
	Clock       crawler.Clock
	IDs         crawler.IDGenerator
	// Known lists prior-corpus URLs that must never be fetched.
	Known  []string
	Logger *zap.Logger
}

type deferredTarget struct {
	target crawler.CrawlTarget
	due    time.Time
}

type fetchResult struct {
	target crawler.CrawlTarget
	resp   crawler.FetchResponse
	err    error
}

// Engine is one crawl session.
type Engine struct {
	cfg         Config
	policy      *urlpolicy.Policy
	frontier    *frontier.Frontier
	dedup       *dedup.Store
	retry       *retry.Policy
	fetcher     crawler.Fetcher
	extractor   crawler.Extractor
	sink        crawler.Sink
	checkpoints checkpoint.Store
	clock       crawler.Clock
	ids         crawler.IDGenerator
	known       []string
	logger      *zap.Logger

	initialized  bool
	phase        crawler.Phase
	sessionID    string
	sessionStart time.Time
	processed    int
	savedPages   int
	domainStats  map[string]int
	deferred     []deferredTarget
	batches      int
	lastSaveMark int
	lastLogMark  int

	stopping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	progress atomic.Pointer[crawler.Progress]
}

// New validates deps and returns an Engine in the init phase.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Policy == nil:
		return nil, errors.New("engine: policy is required")
	case deps.Fetcher == nil:
		return nil, errors.New("engine: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("engine: extractor is required")
	case deps.Sink == nil:
		return nil, errors.New("engine: sink is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("engine: checkpoint store is required")
	case deps.Clock == nil:
		return nil, errors.New("engine: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("engine: id generator is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 25 * time.Second
	}
	if deps.Frontier == nil {
		deps.Frontier = frontier.New(frontier.Config{})
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New()
	}
	if deps.Retry == nil {
		deps.Retry = retry.New(retry.Config{})
	}
	metrics.Init()

	e := &Engine{
		cfg:         cfg,
		policy:      deps.Policy,
		frontier:    deps.Frontier,
		dedup:       deps.Dedup,
		retry:       deps.Retry,
		fetcher:     deps.Fetcher,
		extractor:   deps.Extractor,
		sink:        deps.Sink,
		checkpoints: deps.Checkpoints,
		clock:       deps.Clock,
		ids:         deps.IDs,
		known:       deps.Known,
		logger:      logging.OrNop(deps.Logger),
		phase:       crawler.PhaseInit,
		domainStats: map[string]int{},
		stopCh:      make(chan struct{}),
	}
	e.publish()
	return e, nil
}

// Init restores the last checkpoint, loads the prior corpus and seeds the
// frontier. It is called by Run when the caller has not done so.
func (e *Engine) Init(ctx context.Context) error {
	if e.initialized {
		return nil
	}
	e.dedup.LoadKnown(e.known)

	state, err := e.checkpoints.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if state.Empty() {
		id, err := e.ids.NewID()
		if err != nil {
			return fmt.Errorf("new session id: %w", err)
		}
		e.sessionID = id
		e.sessionStart = e.clock.Now()
	} else {
		e.restore(state)
	}

	seeded := 0
	for _, seed := range e.policy.Seeds() {
		if e.admit(seed, 0) {
			seeded++
		}
	}
	e.initialized = true

	pri, normal := e.frontier.Lens()
	e.logger.Info("crawl initialized",
		zap.String("session_id", e.sessionID),
		zap.Bool("resumed", !state.Empty()),
		zap.Int("seeded", seeded),
		zap.Int("known", len(e.known)),
		zap.Int("priority_queue", pri),
		zap.Int("normal_queue", normal),
	)
	e.publish()
	return nil
}

func (e *Engine) restore(state checkpoint.State) {
	e.dedup.Restore(dedup.Snapshot{
		Visited:  state.Visited,
		Saved:    state.Saved,
		Failed:   state.Failed,
		Attempts: state.RetryCounts,
	})

	entries := make([]crawler.QueuedTarget, 0, len(state.Frontier))
	for _, q := range state.Frontier {
		if !e.dedup.IsNew(q.URL) || !e.policy.IsAdmissible(q.URL, q.Depth) {
			continue
		}
		entries = append(entries, q)
	}
	e.frontier.Restore(entries)

	e.sessionID = state.SessionID
	if e.sessionID == "" {
		if id, err := e.ids.NewID(); err == nil {
			e.sessionID = id
		}
	}
	e.sessionStart = state.SessionStart
	if e.sessionStart.IsZero() {
		e.sessionStart = e.clock.Now()
	}
	e.processed = state.Processed
	e.savedPages = state.SavedPages
	e.lastSaveMark = state.SavedPages
	e.lastLogMark = state.Processed
	e.domainStats = maps.Clone(state.DomainStats)
	if e.domainStats == nil {
		e.domainStats = map[string]int{}
	}
	e.logger.Info("resuming from checkpoint",
		zap.String("session_id", e.sessionID),
		zap.Int("visited", len(state.Visited)),
		zap.Int("saved_pages", state.SavedPages),
		zap.Int("failed", len(state.Failed)),
		zap.Int("frontier", len(entries)),
		zap.Time("checkpoint_at", state.CheckpointAt),
	)
}

// admit enqueues an already normalized url when policy and dedup allow it.
func (e *Engine) admit(url string, depth int) bool {
	if !e.policy.IsAdmissible(url, depth) || !e.dedup.IsNew(url) || e.frontier.Contains(url) {
		return false
	}
	_, err := e.frontier.Enqueue(crawler.CrawlTarget{
		URL:      url,
		Depth:    depth,
		Priority: e.policy.Priority(url),
	})
	switch {
	case errors.Is(err, frontier.ErrLaneFull):
		metrics.ObserveDropped()
		return false
	case err != nil:
		return false
	}
	return true
}

// Run crawls until the frontier and retry queue are empty, the page ceiling
// is reached, ctx is canceled or Stop is called. It always finishes with a
// checkpoint and returns the final progress summary.
func (e *Engine) Run(ctx context.Context) (crawler.Progress, error) {
	if err := e.Init(ctx); err != nil {
		return e.Progress(), err
	}
	e.setPhase(crawler.PhaseRunning)

	for !e.stopRequested(ctx) {
		if e.cfg.MaxPages > 0 && e.savedPages >= e.cfg.MaxPages {
			e.logger.Info("page ceiling reached", zap.Int("max_pages", e.cfg.MaxPages))
			break
		}
		if e.frontier.Len() == 0 {
			next, ok := e.nextDue()
			if !ok {
				break
			}
			e.sleep(ctx, next.Sub(e.clock.Now()))
			e.promoteDue(e.clock.Now())
			continue
		}
		e.Step(ctx)
		if e.frontier.Len() > 0 || len(e.deferred) > 0 {
			e.sleep(ctx, e.cfg.BatchDelay)
		}
	}

	e.setPhase(crawler.PhaseDraining)
	if e.stopRequested(ctx) {
		e.logger.Info("stop requested, saving checkpoint")
	}
	e.checkpoint(context.WithoutCancel(ctx))
	e.setPhase(crawler.PhaseStopped)

	final := e.Progress()
	e.logger.Info("crawl finished", progressFields(final)...)
	return final, nil
}

// Stop asks Run to finish after the current batch. Safe to call repeatedly
// and from any goroutine.
func (e *Engine) Stop() {
	e.stopping.Store(true)
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return e.stopping.Load() || ctx.Err() != nil
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-e.stopCh:
	}
}

// Step runs exactly one batch and returns how many URLs it processed.
func (e *Engine) Step(ctx context.Context) int {
	e.promoteDue(e.clock.Now())

	batch := e.frontier.DequeueBatch(e.cfg.BatchSize)
	claimed := batch[:0]
	for _, t := range batch {
		if !e.dedup.Claim(t.URL) {
			e.logger.Debug("skip target no longer new", zap.String("url", t.URL))
			continue
		}
		claimed = append(claimed, t)
	}

	results := e.fetchAll(ctx, claimed)
	for _, r := range results {
		e.apply(ctx, r)
	}

	e.batches++
	if e.cfg.ResortEvery > 0 && e.batches%e.cfg.ResortEvery == 0 {
		e.frontier.Resort()
	}
	if e.cfg.CheckpointEvery > 0 && e.savedPages-e.lastSaveMark >= e.cfg.CheckpointEvery {
		e.checkpoint(context.WithoutCancel(ctx))
	}
	e.publish()
	if e.cfg.ProgressEvery > 0 && e.processed-e.lastLogMark >= e.cfg.ProgressEvery {
		e.lastLogMark = e.processed
		e.logger.Info("crawl progress", progressFields(e.Progress())...)
	}
	return len(results)
}

// fetchAll fetches targets in parallel. Fetches run on a context detached
// from ctx so a stop signal never cuts a download short; each is bounded by
// the fetch timeout instead.
func (e *Engine) fetchAll(ctx context.Context, targets []crawler.CrawlTarget) []fetchResult {
	results := make([]fetchResult, len(targets))
	if len(targets) == 0 {
		return results
	}
	detached := context.WithoutCancel(ctx)
	var inFlight atomic.Int64

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			metrics.SetInFlight(int(inFlight.Add(1)))
			defer func() { metrics.SetInFlight(int(inFlight.Add(-1))) }()

			fctx, cancel := context.WithTimeout(detached, e.cfg.FetchTimeout)
			defer cancel()
			start := time.Now()
			resp, err := e.fetcher.Fetch(fctx, t.URL)
			metrics.ObserveFetch(t.URL, fetchOutcome(err), time.Since(start))
			results[i] = fetchResult{target: t, resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case crawler.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}

func (e *Engine) apply(ctx context.Context, r fetchResult) {
	e.processed++
	if r.err != nil {
		e.handleFailure(r.target, r.err)
		return
	}

	t := r.target
	base := t.URL
	if r.resp.URL != "" {
		base = r.resp.URL
	}
	ext, err := e.extractor.Extract(r.resp.Body, base)
	if err != nil {
		e.logger.Warn("extraction failed", zap.String("url", t.URL), zap.Error(err))
		metrics.ObserveFailed("extraction")
		e.dedup.MarkVisited(t.URL)
		return
	}

	e.save(ctx, r, ext)
	e.enqueueLinks(t, base, ext.Links)
}

func (e *Engine) save(ctx context.Context, r fetchResult, ext crawler.Extraction) {
	t := r.target
	text := strings.TrimSpace(ext.Text)
	length := utf8.RuneCountInString(text)
	if length < e.cfg.MinTextLength {
		e.logger.Debug("text below threshold", zap.String("url", t.URL), zap.Int("length", length))
		e.dedup.MarkVisited(t.URL)
		return
	}

	host := urlpolicy.Host(t.URL)
	page := crawler.Page{
		Meta: crawler.PageMetadata{
			URL:        t.URL,
			FinalURL:   r.resp.URL,
			Title:      ext.Title,
			Depth:      t.Depth,
			Host:       host,
			Priority:   t.Priority,
			StatusCode: r.resp.StatusCode,
			Length:     length,
			FetchedAt:  e.clock.Now(),
			SessionID:  e.sessionID,
		},
		Text: text,
	}
	err := e.sink.Save(context.WithoutCancel(ctx), page)
	switch {
	case err == nil:
		e.dedup.MarkSaved(t.URL)
		e.savedPages++
		e.domainStats[host]++
		metrics.ObserveSaved(t.URL)
		e.logger.Debug("page saved", zap.String("url", t.URL), zap.Int("depth", t.Depth), zap.Int("length", length))
	case errors.Is(err, crawler.ErrDuplicateContent):
		e.logger.Debug("duplicate content skipped", zap.String("url", t.URL))
		e.dedup.MarkVisited(t.URL)
	default:
		e.logger.Error("save failed", zap.String("url", t.URL), zap.Error(err))
		metrics.ObserveFailed("persistence")
		e.dedup.MarkVisited(t.URL)
	}
}

func (e *Engine) enqueueLinks(parent crawler.CrawlTarget, base string, links []string) {
	added := 0
	for _, raw := range links {
		u, err := urlpolicy.Normalize(raw, base)
		if err != nil {
			continue
		}
		if e.admit(u, parent.Depth+1) {
			added++
		}
	}
	if added > 0 {
		e.logger.Debug("links enqueued", zap.String("url", parent.URL), zap.Int("added", added))
	}
}

func (e *Engine) handleFailure(t crawler.CrawlTarget, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidURL):
		e.logger.Warn("invalid url dropped", zap.String("url", t.URL), zap.Error(err))
		metrics.ObserveFailed("invalid_url")
		e.dedup.MarkFailed(t.URL)
	case !crawler.IsTransient(err):
		e.logger.Warn("permanent fetch failure", zap.String("url", t.URL), zap.Error(err))
		metrics.ObserveFailed("permanent")
		e.dedup.MarkFailed(t.URL)
	default:
		attempts := e.dedup.RecordAttempt(t.URL)
		if e.retry.Exhausted(attempts) {
			e.logger.Warn("retries exhausted", zap.String("url", t.URL), zap.Int("attempts", attempts), zap.Error(err))
			metrics.ObserveFailed("retries_exhausted")
			e.dedup.MarkFailed(t.URL)
			return
		}
		delay := e.retry.Backoff(attempts)
		e.deferred = append(e.deferred, deferredTarget{target: t, due: e.clock.Now().Add(delay)})
		metrics.ObserveRetry()
		e.logger.Info("fetch failed, retry scheduled",
			zap.String("url", t.URL),
			zap.Int("attempts", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
}

// promoteDue moves deferred retries whose backoff has elapsed back into the
// frontier.
func (e *Engine) promoteDue(now time.Time) {
	if len(e.deferred) == 0 {
		return
	}
	kept := e.deferred[:0]
	for _, d := range e.deferred {
		if d.due.After(now) {
			kept = append(kept, d)
			continue
		}
		e.dedup.Release(d.target.URL)
		if _, err := e.frontier.Enqueue(d.target); err != nil {
			metrics.ObserveDropped()
			e.logger.Warn("retry dropped, frontier full", zap.String("url", d.target.URL), zap.Error(err))
		}
	}
	clear(e.deferred[len(kept):])
	e.deferred = kept
}

func (e *Engine) nextDue() (time.Time, bool) {
	if len(e.deferred) == 0 {
		return time.Time{}, false
	}
	next := e.deferred[0].due
	for _, d := range e.deferred[1:] {
		if d.due.Before(next) {
			next = d.due
		}
	}
	return next, true
}

// Snapshot returns the durable crawl state. Deferred retries are folded back
// into the frontier so a resumed crawl attempts them again.
func (e *Engine) Snapshot() checkpoint.State {
	snap := e.dedup.Snapshot()
	entries := e.frontier.Entries()
	for _, d := range e.deferred {
		entries = append(entries, crawler.QueuedTarget{CrawlTarget: d.target, Lane: e.frontier.LaneFor(d.target.Priority)})
	}
	return checkpoint.State{
		Version:      checkpoint.Version,
		SessionID:    e.sessionID,
		Visited:      snap.Visited,
		Saved:        snap.Saved,
		Failed:       snap.Failed,
		RetryCounts:  snap.Attempts,
		Frontier:     entries,
		SavedPages:   e.savedPages,
		Processed:    e.processed,
		DomainStats:  maps.Clone(e.domainStats),
		SessionStart: e.sessionStart,
		CheckpointAt: e.clock.Now(),
	}
}

func (e *Engine) checkpoint(ctx context.Context) {
	err := e.checkpoints.Save(ctx, e.Snapshot())
	metrics.ObserveCheckpoint(err)
	if err != nil {
		e.logger.Error("checkpoint failed, continuing with in-memory state", zap.Error(err))
		return
	}
	e.lastSaveMark = e.savedPages
	e.logger.Info("checkpoint saved", zap.Int("saved_pages", e.savedPages), zap.Int("processed", e.processed))
}

func (e *Engine) setPhase(p crawler.Phase) {
	e.phase = p
	e.publish()
}

// publish refreshes the progress value readable from other goroutines.
func (e *Engine) publish() {
	visited, _, failed, known := e.dedup.Counts()
	pri, normal := e.frontier.Lens()
	metrics.SetFrontierDepth(string(crawler.LanePriority), pri)
	metrics.SetFrontierDepth(string(crawler.LaneNormal), normal)
	var elapsed time.Duration
	if !e.sessionStart.IsZero() {
		elapsed = e.clock.Now().Sub(e.sessionStart)
	}
	e.progress.Store(&crawler.Progress{
		SessionID:     e.sessionID,
		Phase:         e.phase,
		Processed:     e.processed,
		Saved:         e.savedPages,
		Failed:        failed,
		Visited:       visited,
		Known:         known,
		PriorityQueue: pri,
		NormalQueue:   normal,
		Deferred:      len(e.deferred),
		Dropped:       e.frontier.Dropped(),
		DomainStats:   maps.Clone(e.domainStats),
		SessionStart:  e.sessionStart,
		Elapsed:       elapsed,
	})
}

// Progress returns the latest published summary. Safe for concurrent use.
func (e *Engine) Progress() crawler.Progress {
	if p := e.progress.Load(); p != nil {
		return *p
	}
	return crawler.Progress{Phase: crawler.PhaseInit}
}

func progressFields(p crawler.Progress) []zap.Field {
	return []zap.Field{
		zap.String("session_id", p.SessionID),
		zap.String("phase", string(p.Phase)),
		zap.Int("processed", p.Processed),
		zap.Int("saved", p.Saved),
		zap.Int("visited", p.Visited),
		zap.Int("failed", p.Failed),
		zap.Int("priority_queue", p.PriorityQueue),
		zap.Int("normal_queue", p.NormalQueue),
		zap.Int("deferred", p.Deferred),
		zap.Int("dropped", p.Dropped),
		zap.Any("domains", p.DomainStats),
		zap.Duration("elapsed", p.Elapsed),
	}
}
