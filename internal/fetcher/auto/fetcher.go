// Package auto fetches over plain HTTP and falls back to a headless browser
// when the response looks like an unrendered script shell.
package auto

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/logging"
)

// Detector decides whether a response needs rendering.
type Detector interface {
	NeedsRender(resp crawler.FetchResponse) bool
}

// Fetcher tries Primary first and promotes to Headless when Detector asks.
type Fetcher struct {
	primary  crawler.Fetcher
	headless crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New composes an auto fetcher.
func New(primary, headless crawler.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	return &Fetcher{primary: primary, headless: headless, detector: detector, logger: logging.OrNop(logger)}
}

// Fetch returns the plain response unless it needs rendering. A failed
// render falls back to the plain response.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResponse, error) {
	resp, err := f.primary.Fetch(ctx, url)
	if err != nil || f.headless == nil || f.detector == nil || !f.detector.NeedsRender(resp) {
		return resp, err
	}
	rendered, rerr := f.headless.Fetch(ctx, url)
	if rerr != nil {
		f.logger.Debug("headless render failed, keeping plain response", zap.String("url", url), zap.Error(rerr))
		return resp, nil
	}
	rendered.Duration += resp.Duration
	return rendered, nil
}
