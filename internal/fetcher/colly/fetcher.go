// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// DefaultTimeout bounds a request when Config.Timeout is zero.
const DefaultTimeout = 25 * time.Second

// Waiter delays a request until the target host may be contacted again.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Limiter   Waiter
	Headers   http.Header
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

var _ crawler.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the collector callbacks observe for one visit.
type fetchState struct {
	result crawler.FetchResponse
	status int
	err    error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Responses with status >= 400 and
// transport failures come back as *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResponse, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
			return crawler.FetchResponse{}, crawler.NewTransportError(url, err)
		}
	}

	state := &fetchState{}
	collector := f.buildCollector(ctx, time.Now(), state)
	if err := f.runCollector(ctx, collector, url); err != nil && state.err == nil {
		state.err = err
	}
	if state.err != nil {
		return crawler.FetchResponse{}, classify(url, state.status, state.err)
	}
	if state.result.StatusCode >= http.StatusBadRequest {
		return crawler.FetchResponse{}, crawler.NewStatusError(url, state.result.StatusCode)
	}
	return state.result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, start time.Time, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, start time.Time, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func classify(url string, status int, err error) error {
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if status >= http.StatusBadRequest {
		return crawler.NewStatusError(url, status)
	}
	return crawler.NewTransportError(url, fmt.Errorf("colly visit: %w", err))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
