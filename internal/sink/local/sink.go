// Package local writes saved pages as text files on the local filesystem.
//
// Each page becomes <dir>/<host>/<key>.txt, where key is derived from the
// URL, so saving the same URL twice overwrites the same file. The text file
// starts with a header block:
//
//	[URL] https://www.example.edu/notice/1
//	[DEPTH] 2
//	[DOMAIN] www.example.edu
//	[TIMESTAMP] 2026-03-01T09:00:00Z
//	[LENGTH] 1532
//
// followed by a blank line and the page text. A <key>.json sidecar holds the
// full metadata.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/hash/sha256"
)

// Config captures the parameters for the local sink.
type Config struct {
	// OutputDir is the root directory pages are written under.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// Sink writes pages to the local filesystem.
type Sink struct {
	baseDir string
}

var _ crawler.Sink = (*Sink)(nil)

// New creates the output directory if needed and checks it is writable.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	info, err := os.Stat(cfg.OutputDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.OutputDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %s is not a directory", cfg.OutputDir)
	}

	marker := filepath.Join(cfg.OutputDir, ".writable_test")
	if err := os.WriteFile(marker, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return nil, fmt.Errorf("clean up writable check file: %w", err)
	}
	return &Sink{baseDir: cfg.OutputDir}, nil
}

// Dir returns the output root.
func (s *Sink) Dir() string {
	return s.baseDir
}

// PathFor returns the text file path a URL is saved to.
func (s *Sink) PathFor(meta crawler.PageMetadata) string {
	host := meta.Host
	if host == "" {
		host = "unknown"
	}
	host = strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_").Replace(host)
	return filepath.Join(s.baseDir, host, sha256.Key(meta.URL)+".txt")
}

// Save writes the text file and its metadata sidecar.
func (s *Sink) Save(ctx context.Context, page crawler.Page) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrPersistence, err)
	}
	if strings.TrimSpace(page.Meta.URL) == "" {
		return fmt.Errorf("%w: page url is required", crawler.ErrPersistence)
	}

	textPath := s.PathFor(page.Meta)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(textPath), cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("%w: path traversal detected", crawler.ErrPersistence)
	}
	if err := os.MkdirAll(filepath.Dir(textPath), 0o750); err != nil {
		return fmt.Errorf("%w: create host directory: %w", crawler.ErrPersistence, err)
	}

	meta := page.Meta
	if meta.Length == 0 {
		meta.Length = len([]rune(page.Text))
	}
	if err := writeFile(textPath, []byte(render(meta, page.Text))); err != nil {
		return fmt.Errorf("%w: write page: %w", crawler.ErrPersistence, err)
	}

	sidecar, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %w", crawler.ErrPersistence, err)
	}
	if err := writeFile(strings.TrimSuffix(textPath, ".txt")+".json", sidecar); err != nil {
		return fmt.Errorf("%w: write metadata: %w", crawler.ErrPersistence, err)
	}
	return nil
}

func render(meta crawler.PageMetadata, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[URL] %s\n", meta.URL)
	fmt.Fprintf(&b, "[DEPTH] %d\n", meta.Depth)
	fmt.Fprintf(&b, "[DOMAIN] %s\n", meta.Host)
	fmt.Fprintf(&b, "[TIMESTAMP] %s\n", meta.FetchedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "[LENGTH] %d\n\n", meta.Length)
	b.WriteString(text)
	b.WriteByte('\n')
	return b.String()
}

// writeFile replaces path via a sibling temp file so readers never see a
// partial page.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
