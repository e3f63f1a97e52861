// Package corpus loads the URLs of a previously completed crawl so the
// current run never fetches them again.
//
// Two sources are supported: JSON URL lists (either a bare array or an object
// with a "urls" array) and directories of saved page files whose first line
// is a "[URL] <address>" header, the format written by the local sink.
package corpus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/logging"
	"github.com/JakeFAU/campus-crawler/internal/policy/urlpolicy"
)

// URLHeader prefixes the first line of a saved page file.
const URLHeader = "[URL] "

// maxHeaderLine bounds how much of a page file is read looking for the header.
const maxHeaderLine = 8 << 10

var errHeaderTooLong = errors.New("first line exceeds header limit")

type urlList struct {
	URLs []string `json:"urls"`
}

// Loader reads prior-corpus sources.
type Loader struct {
	logger *zap.Logger
}

// NewLoader returns a Loader.
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logging.OrNop(logger)}
}

// Load reads every source and returns the de-duplicated, normalized URLs.
// A missing source is logged and skipped; unreadable files are errors.
func (l *Loader) Load(urlFiles, pageDirs []string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	add := func(raw string) {
		u, err := urlpolicy.Normalize(raw, "")
		if err != nil {
			l.logger.Debug("skip invalid corpus url", zap.String("url", raw), zap.Error(err))
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	for _, path := range urlFiles {
		urls, err := readURLFile(path)
		if os.IsNotExist(err) {
			l.logger.Warn("prior corpus file missing", zap.String("path", path))
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, u := range urls {
			add(u)
		}
	}
	for _, dir := range pageDirs {
		count := 0
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
				return nil
			}
			u, ok, err := readPageHeader(path)
			if errors.Is(err, errHeaderTooLong) {
				l.logger.Warn("skip page file without url header", zap.String("path", path), zap.Error(err))
				return nil
			}
			if err != nil {
				return err
			}
			if ok {
				add(u)
				count++
			}
			return nil
		})
		if os.IsNotExist(err) {
			l.logger.Warn("prior corpus dir missing", zap.String("dir", dir))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan corpus dir %s: %w", dir, err)
		}
		l.logger.Info("prior corpus dir scanned", zap.String("dir", dir), zap.Int("pages", count))
	}
	return out, nil
}

func readURLFile(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var urls []string
		if err := json.Unmarshal(data, &urls); err != nil {
			return nil, fmt.Errorf("decode url array %s: %w", path, err)
		}
		return urls, nil
	}
	var list urlList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode url list %s: %w", path, err)
	}
	return list.URLs, nil
}

func readPageHeader(path string) (string, bool, error) {
	f, err := os.Open(path) //nolint:gosec // walked from an operator supplied dir
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	line, err := bufio.NewReader(io.LimitReader(f, maxHeaderLine)).ReadString('\n')
	switch {
	case err == nil:
	case !errors.Is(err, io.EOF):
		return "", false, fmt.Errorf("read %s: %w", path, err)
	case len(line) >= maxHeaderLine:
		return "", false, errHeaderTooLong
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
	if !strings.HasPrefix(line, URLHeader) {
		return "", false, nil
	}
	return strings.TrimSpace(strings.TrimPrefix(line, URLHeader)), true, nil
}
