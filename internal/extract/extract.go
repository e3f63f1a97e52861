// Package extract pulls readable text and outbound links out of HTML pages.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/policy/urlpolicy"
)

// noiseSelector lists elements whose text never belongs in the corpus.
const noiseSelector = "script,style,noscript,iframe,nav,header,footer,aside"

// MinLineLength is the shortest trimmed line kept in extracted text.
const MinLineLength = 3

var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "main": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"li": {}, "ul": {}, "ol": {}, "table": {}, "tr": {}, "td": {}, "th": {},
	"dl": {}, "dt": {}, "dd": {}, "blockquote": {}, "pre": {},
	"figure": {}, "figcaption": {}, "form": {}, "address": {},
}

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// HTML implements crawler.Extractor with goquery.
type HTML struct{}

var _ crawler.Extractor = HTML{}

// New returns an HTML extractor.
func New() HTML {
	return HTML{}
}

// Extract returns the page title, the cleaned visible text, and every
// distinct link resolved against baseURL (or the document's <base href>).
func (HTML) Extract(body []byte, baseURL string) (crawler.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("%w: parse html: %w", crawler.ErrExtraction, err)
	}

	base := baseURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := urlpolicy.Normalize(href, baseURL); err == nil {
			base = resolved
		}
	}

	out := crawler.Extraction{
		Title: strings.Join(strings.Fields(doc.Find("title").First().Text()), " "),
		Links: links(doc, base),
	}

	doc.Find(noiseSelector).Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	walk(root, &b)
	out.Text = cleanLines(b.String())
	return out, nil
}

func links(doc *goquery.Document, base string) []string {
	seen := map[string]struct{}{}
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || hasSkippedScheme(href) {
			return
		}
		u, err := urlpolicy.Normalize(href, base)
		if err != nil {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	})
	return out
}

func hasSkippedScheme(href string) bool {
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

func walk(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch name {
		case "#text":
			b.WriteString(c.Text())
		case "#comment":
		case "br":
			b.WriteByte('\n')
		default:
			_, block := blockTags[name]
			if block {
				b.WriteByte('\n')
			}
			walk(c, b)
			if block {
				b.WriteByte('\n')
			}
		}
	})
}

func cleanLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if utf8.RuneCountInString(line) < MinLineLength {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
