package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadURLFilesAndPageDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "existing_urls.json"),
		`{"total_count": 3, "last_updated": "2025-07-01", "urls": ["https://Example.edu/a#x", "https://example.edu/b", "mailto:x@example.edu"]}`)
	write(t, filepath.Join(dir, "array.json"), `["https://example.edu/b", "https://example.edu/c"]`)
	write(t, filepath.Join(dir, "pages", "p1.txt"), "[URL] https://example.edu/d\n[DEPTH] 1\n\nbody")
	write(t, filepath.Join(dir, "pages", "sub", "p2.TXT"), "\uFEFF[URL] https://example.edu/e?b=2&a=1\n")
	write(t, filepath.Join(dir, "pages", "notes.txt"), "no header here\n")
	write(t, filepath.Join(dir, "pages", "p3.json"), `{"url": "https://example.edu/ignored"}`)

	urls, err := NewLoader(zap.NewNop()).Load(
		[]string{filepath.Join(dir, "existing_urls.json"), filepath.Join(dir, "array.json"), filepath.Join(dir, "missing.json")},
		[]string{filepath.Join(dir, "pages"), filepath.Join(dir, "nope")},
	)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"https://example.edu/a",
		"https://example.edu/b",
		"https://example.edu/c",
		"https://example.edu/d",
		"https://example.edu/e?a=1&b=2",
	}, urls)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	write(t, path, `{"urls": [`)
	_, err := NewLoader(nil).Load([]string{path}, nil)
	require.Error(t, err)
}

func TestLoadSkipsOversizedFirstLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "minified.txt"), strings.Repeat("x", 100<<10)+"\n")
	write(t, filepath.Join(dir, "long-url.txt"), "[URL] https://example.edu/"+strings.Repeat("a", 70<<10)+"\n")
	write(t, filepath.Join(dir, "ok.txt"), "[URL] https://example.edu/kept\nbody")

	urls, err := NewLoader(zap.NewNop()).Load(nil, []string{dir})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.edu/kept"}, urls)
}
