// Package dedupe wraps a sink and skips pages whose text was already saved
// under another URL. Campus sites serve the same notice under many query
// string variants; a bloom filter over the text digest catches most of them.
package dedupe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// Config sizes the filter.
type Config struct {
	ExpectedPages uint
	FPRate        float64
}

// Sink forwards pages with unseen text to next.
type Sink struct {
	next   crawler.Sink
	hasher crawler.Hasher

	mu     sync.Mutex
	filter *bloom.BloomFilter
}

var _ crawler.Sink = (*Sink)(nil)

// New wraps next.
func New(next crawler.Sink, hasher crawler.Hasher, cfg Config) (*Sink, error) {
	if next == nil || hasher == nil {
		return nil, fmt.Errorf("dedupe sink needs a next sink and a hasher")
	}
	if cfg.ExpectedPages == 0 {
		cfg.ExpectedPages = 100_000
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = 0.001
	}
	return &Sink{
		next:   next,
		hasher: hasher,
		filter: bloom.NewWithEstimates(cfg.ExpectedPages, cfg.FPRate),
	}, nil
}

// Save returns crawler.ErrDuplicateContent when the text digest was seen.
// The digest is recorded only after next accepts the page.
func (s *Sink) Save(ctx context.Context, page crawler.Page) error {
	digest, err := s.hasher.Hash([]byte(strings.TrimSpace(page.Text)))
	if err != nil {
		return fmt.Errorf("%w: hash page text: %w", crawler.ErrPersistence, err)
	}
	s.mu.Lock()
	seen := s.filter.TestString(digest)
	s.mu.Unlock()
	if seen {
		return fmt.Errorf("%s: %w", page.Meta.URL, crawler.ErrDuplicateContent)
	}
	if err := s.next.Save(ctx, page); err != nil {
		return err
	}
	s.mu.Lock()
	s.filter.AddString(digest)
	s.mu.Unlock()
	return nil
}
