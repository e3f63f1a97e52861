// Package detector decides when a plain HTTP response must be re-fetched
// through the headless renderer.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// DefaultThreshold is the body size below which a script-heavy page is
// assumed to be an empty shell.
const DefaultThreshold = 2048

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// shellMarkers are fragments of client-rendered or script-redirect pages.
var shellMarkers = [][]byte{
	[]byte("id=\"__next\""),
	[]byte("id=\"root\"></div>"),
	[]byte("id=\"app\"></div>"),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("<frameset"),
	[]byte("location.href="),
	[]byte("location.replace("),
}

// NeedsRender reports whether resp looks like a page whose text only
// appears after JavaScript runs.
func (h *Heuristic) NeedsRender(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || !isHTML(resp.Headers) {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	compact := bytes.ReplaceAll(lower, []byte(" "), nil)
	for _, marker := range shellMarkers {
		if bytes.Contains(compact, bytes.ReplaceAll(marker, []byte(" "), nil)) {
			return true
		}
	}
	return false
}

func isHTML(h http.Header) bool {
	ct := h.Get("Content-Type")
	return ct == "" || strings.Contains(strings.ToLower(ct), "html")
}

// scriptDensityHigh reports whether <script> blocks cover at least a quarter
// of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := strings.Index(lower[start:], closeTag)
		if end == -1 {
			covered += total - start
			break
		}
		next := start + end + len(closeTag)
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
