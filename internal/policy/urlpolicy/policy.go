// Package urlpolicy decides which URLs the crawler may visit, how deep, and
// in which order. Everything here is pure and driven by configuration tables.
package urlpolicy

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// Rule is one entry of the ordered exclusion table. The first rule whose
// pattern matches decides: Exclude rejects the URL, otherwise it is allowed
// without consulting later rules.
type Rule struct {
	Pattern string
	Exclude bool
}

// PriorityPattern scores URLs that match a known high-value shape.
type PriorityPattern struct {
	Pattern string
	Score   int
}

// Config describes the crawl boundary and ordering tables.
type Config struct {
	TargetDomain     string
	Seeds            []string
	SeedPriority     int
	DefaultHost      crawler.HostPolicy
	Hosts            []crawler.HostPolicy
	Rules            []Rule
	PriorityPatterns []PriorityPattern
}

type compiledRule struct {
	re      *regexp.Regexp
	exclude bool
}

type compiledPattern struct {
	re    *regexp.Regexp
	score int
}

// Policy answers admissibility and priority questions for normalized URLs.
type Policy struct {
	domain       string
	seeds        map[string]struct{}
	seedOrder    []string
	seedPriority int
	defaultHost  crawler.HostPolicy
	hosts        map[string]crawler.HostPolicy
	rules        []compiledRule
	patterns     []compiledPattern
}

// New compiles cfg into a Policy.
func New(cfg Config) (*Policy, error) {
	domain := strings.Trim(strings.ToLower(strings.TrimSpace(cfg.TargetDomain)), ".")
	if domain == "" {
		return nil, fmt.Errorf("target domain is required")
	}
	p := &Policy{
		domain:       domain,
		seeds:        make(map[string]struct{}, len(cfg.Seeds)),
		seedPriority: cfg.SeedPriority,
		defaultHost:  cfg.DefaultHost,
		hosts:        make(map[string]crawler.HostPolicy, len(cfg.Hosts)),
	}
	for _, h := range cfg.Hosts {
		host := strings.ToLower(strings.TrimSpace(h.Host))
		h.Host = host
		p.hosts[host] = h
	}
	for _, seed := range cfg.Seeds {
		normalized, err := Normalize(seed, "")
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", seed, err)
		}
		if _, dup := p.seeds[normalized]; dup {
			continue
		}
		p.seeds[normalized] = struct{}{}
		p.seedOrder = append(p.seedOrder, normalized)
	}
	for _, r := range cfg.Rules {
		if err := p.AddRule(r); err != nil {
			return nil, err
		}
	}
	for _, pp := range cfg.PriorityPatterns {
		re, err := regexp.Compile(pp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile priority pattern %q: %w", pp.Pattern, err)
		}
		p.patterns = append(p.patterns, compiledPattern{re: re, score: pp.Score})
	}
	return p, nil
}

// AddRule appends a matcher to the end of the exclusion table.
func (p *Policy) AddRule(r Rule) error {
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("compile rule %q: %w", r.Pattern, err)
	}
	p.rules = append(p.rules, compiledRule{re: re, exclude: r.Exclude})
	return nil
}

// Seeds returns the normalized seed URLs in configured order, without
// duplicates.
func (p *Policy) Seeds() []string {
	return slices.Clone(p.seedOrder)
}

// IsSeed reports whether the normalized URL was configured as a seed.
func (p *Policy) IsSeed(normalized string) bool {
	_, ok := p.seeds[normalized]
	return ok
}

// InDomain reports whether host is the target domain or one of its subdomains.
func (p *Policy) InDomain(host string) bool {
	host = strings.ToLower(host)
	return host == p.domain || strings.HasSuffix(host, "."+p.domain)
}

// Excluded reports whether the first matching rule rejects the URL.
func (p *Policy) Excluded(normalized string) bool {
	for _, r := range p.rules {
		if r.re.MatchString(normalized) {
			return r.exclude
		}
	}
	return false
}

// IsAdmissible reports whether a normalized URL at the given depth may enter
// the frontier.
func (p *Policy) IsAdmissible(normalized string, depth int) bool {
	if depth < 0 {
		return false
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if !p.InDomain(host) {
		return false
	}
	if p.Excluded(normalized) {
		return false
	}
	return depth <= p.HostPolicy(host).MaxDepth
}

// Priority scores a normalized URL; higher is fetched sooner.
func (p *Policy) Priority(normalized string) int {
	if p.IsSeed(normalized) {
		return p.seedPriority
	}
	for _, pat := range p.patterns {
		if pat.re.MatchString(normalized) {
			return pat.score
		}
	}
	return p.HostPolicy(Host(normalized)).BasePriority
}

// HostPolicy looks up the limits for host by exact match, falling back to the default.
func (p *Policy) HostPolicy(host string) crawler.HostPolicy {
	host = strings.ToLower(host)
	if h, ok := p.hosts[host]; ok {
		return h
	}
	def := p.defaultHost
	def.Host = host
	return def
}
