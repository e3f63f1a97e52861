package urlpolicy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(Config{
		TargetDomain: "Example.EDU",
		Seeds:        []string{"https://example.edu"},
		SeedPriority: 2000,
		DefaultHost:  crawler.HostPolicy{MaxDepth: 2, BasePriority: 500},
		Hosts: []crawler.HostPolicy{
			{Host: "LIB.example.edu", MaxDepth: 1, BasePriority: 100},
		},
		Rules: []Rule{
			{Pattern: `/public/.*\.pdf$`, Exclude: false},
			{Pattern: `(?i)\.pdf$`, Exclude: true},
			{Pattern: `/login`, Exclude: true},
		},
		PriorityPatterns: []PriorityPattern{
			{Pattern: `/notice/\d+$`, Score: 1300},
			{Pattern: `/notice/`, Score: 1100},
		},
	})
	require.NoError(t, err)
	return p
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		base string
		want string
	}{
		{name: "lowercase and default port", raw: "HTTP://Example.EDU:80/a#frag", want: "http://example.edu/a"},
		{name: "https default port", raw: "https://example.edu:443/x", want: "https://example.edu/x"},
		{name: "empty path", raw: "https://example.edu", want: "https://example.edu/"},
		{name: "relative with sorted query", raw: "../b?z=1&a=2", base: "https://example.edu/x/y/", want: "https://example.edu/x/b?a=2&z=1"},
		{name: "fragment only", raw: "#none", base: "https://example.edu/p", want: "https://example.edu/p"},
		{name: "absolute ignores base", raw: "https://sub.example.edu/q", base: "https://example.edu/", want: "https://sub.example.edu/q"},
		{name: "non default port kept", raw: "http://example.edu:8080/", want: "http://example.edu:8080/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tc.raw, tc.base)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "mailto:someone@example.edu", "javascript:void(0)", "tel:0101234", "http://[::1", "/relative/without/base"} {
		_, err := Normalize(raw, "")
		require.ErrorIs(t, err, crawler.ErrInvalidURL, raw)
	}
	_, err := Normalize("page", "http://[::1")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	first, err := Normalize("HTTPS://Example.edu:443/a/../b?y=2&x=1#top", "")
	require.NoError(t, err)
	second, err := Normalize(first, "")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestIsAdmissible(t *testing.T) {
	t.Parallel()

	p := newTestPolicy(t)
	cases := []struct {
		url   string
		depth int
		want  bool
	}{
		{"https://example.edu/a", 2, true},
		{"https://example.edu/a", 3, false},
		{"https://example.edu/a", -1, false},
		{"https://sub.example.edu/a", 0, true},
		{"https://other.org/", 0, false},
		{"https://notexample.edu/", 0, false},
		{"ftp://example.edu/file", 0, false},
		{"https://example.edu/docs/report.PDF", 0, false},
		{"https://example.edu/public/report.pdf", 0, true},
		{"https://example.edu/login?next=/", 0, false},
		{"https://lib.example.edu/book", 1, true},
		{"https://lib.example.edu/book", 2, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, p.IsAdmissible(tc.url, tc.depth), "%s@%d", tc.url, tc.depth)
	}
}

func TestPriorityPrecedence(t *testing.T) {
	t.Parallel()

	p := newTestPolicy(t)
	require.Equal(t, 2000, p.Priority("https://example.edu/"))
	require.True(t, p.IsSeed("https://example.edu/"))
	require.Equal(t, 1300, p.Priority("https://example.edu/notice/12"))
	require.Equal(t, 1100, p.Priority("https://example.edu/notice/list"))
	require.Equal(t, 500, p.Priority("https://example.edu/about"))
	require.Equal(t, 100, p.Priority("https://lib.example.edu/about"))
}

func TestHostPolicyFallback(t *testing.T) {
	t.Parallel()

	p := newTestPolicy(t)
	lib := p.HostPolicy("LIB.EXAMPLE.EDU")
	require.Equal(t, 1, lib.MaxDepth)
	def := p.HostPolicy("www.example.edu")
	require.Equal(t, "www.example.edu", def.Host)
	require.Equal(t, 2, def.MaxDepth)
	require.Equal(t, 500, def.BasePriority)
}

func TestAddRuleExtendsTable(t *testing.T) {
	t.Parallel()

	p := newTestPolicy(t)
	require.True(t, p.IsAdmissible("https://example.edu/calendar/2020", 0))
	require.NoError(t, p.AddRule(Rule{Pattern: `/calendar/\d{4}`, Exclude: true}))
	require.False(t, p.IsAdmissible("https://example.edu/calendar/2020", 0))
	require.Error(t, p.AddRule(Rule{Pattern: "("}))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{TargetDomain: "example.edu", Seeds: []string{"mailto:x@y"}})
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
	_, err = New(Config{TargetDomain: "example.edu", PriorityPatterns: []PriorityPattern{{Pattern: "["}}})
	require.Error(t, err)
}

func TestSeedsKeepConfiguredOrder(t *testing.T) {
	t.Parallel()

	raw := []string{
		"https://example.edu/s3",
		"https://example.edu/s0",
		"HTTPS://EXAMPLE.EDU/s7#top",
		"https://example.edu/s1",
		"https://example.edu/s0",
		"https://example.edu/s5",
	}
	p, err := New(Config{TargetDomain: "example.edu", Seeds: raw})
	require.NoError(t, err)

	want := []string{
		"https://example.edu/s3",
		"https://example.edu/s0",
		"https://example.edu/s7",
		"https://example.edu/s1",
		"https://example.edu/s5",
	}
	for range 20 {
		require.Equal(t, want, p.Seeds())
	}

	got := p.Seeds()
	got[0] = "mutated"
	require.Equal(t, want, p.Seeds())
}
