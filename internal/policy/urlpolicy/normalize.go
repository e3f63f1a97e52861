package urlpolicy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// Normalize resolves raw against base (when base is non-empty) and returns
// the canonical form used as crawl identity. It lowercases the scheme and
// host, removes default ports, strips the fragment, turns an empty path into
// "/" and sorts query parameters. Opaque references such as mailto: or
// javascript: and URLs without a host yield crawler.ErrInvalidURL.
func Normalize(raw, base string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url: %w", crawler.ErrInvalidURL)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, crawler.ErrInvalidURL)
	}
	u := ref
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base %q: %w", base, crawler.ErrInvalidURL)
		}
		u = b.ResolveReference(ref)
	}
	if u.Opaque != "" || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not a hierarchical url %q: %w", raw, crawler.ErrInvalidURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	if u.RawQuery != "" {
		if q, err := url.ParseQuery(u.RawQuery); err == nil {
			u.RawQuery = q.Encode()
		}
	}
	u.ForceQuery = false

	return u.String(), nil
}

// Host returns the lowercase hostname of a URL, or "" when it cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
