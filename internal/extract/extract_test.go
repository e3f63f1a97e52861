package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

const page = `<!doctype html>
<html><head><title>  학사 공지
 사항 </title><style>.x{color:red}</style></head>
<body>
<header>Site Header Menu</header>
<nav><a href="/nav">Navigation link</a></nav>
<div id="content">
  <h1>입학 안내</h1>
  <p>2026학년도 신입생 모집 요강을 안내합니다.<br>자세한 내용은 첨부를 확인하세요.</p>
  <p>ok</p>
  <ul><li><a href="notice/view.do?b=2&a=1#top">공지 보기</a></li>
      <li><a href="https://Other.example.org:443/x">외부</a></li>
      <li><a href="javascript:void(0)">script</a></li>
      <li><a href="mailto:admin@example.edu">mail</a></li>
      <li><a href="#section">anchor</a></li>
      <li><a href="notice/view.do?a=1&b=2">duplicate</a></li></ul>
  <script>var hidden = "do not keep";</script>
  <!-- comment text -->
</div>
<footer>Copyright footer</footer>
</body></html>`

func TestExtractTextAndLinks(t *testing.T) {
	t.Parallel()

	got, err := New().Extract([]byte(page), "https://www.example.edu/board/list.do")
	require.NoError(t, err)

	require.Equal(t, "학사 공지 사항", got.Title)
	// links are collected before chrome such as <nav> is stripped
	require.Equal(t, []string{
		"https://www.example.edu/nav",
		"https://www.example.edu/board/notice/view.do?a=1&b=2",
		"https://other.example.org/x",
	}, got.Links)

	require.Contains(t, got.Text, "입학 안내")
	require.Contains(t, got.Text, "2026학년도 신입생 모집 요강을 안내합니다.\n자세한 내용은 첨부를 확인하세요.")
	require.NotContains(t, got.Text, "Site Header")
	require.NotContains(t, got.Text, "Navigation")
	require.NotContains(t, got.Text, "footer")
	require.NotContains(t, got.Text, "hidden")
	require.NotContains(t, got.Text, "comment text")
	for _, line := range splitLines(got.Text) {
		require.GreaterOrEqual(t, len([]rune(line)), MinLineLength, line)
	}
}

func TestExtractHonorsBaseHref(t *testing.T) {
	t.Parallel()

	body := `<html><head><base href="https://ce.example.edu/dept/"></head><body><a href="intro.html">x</a></body></html>`
	got, err := New().Extract([]byte(body), "https://www.example.edu/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://ce.example.edu/dept/intro.html"}, got.Links)
	require.Empty(t, got.Text)
}

func TestExtractPlainFragment(t *testing.T) {
	t.Parallel()

	got, err := New().Extract([]byte("just some loose text"), "https://www.example.edu/")
	require.NoError(t, err)
	require.Equal(t, "just some loose text", got.Text)
	require.Empty(t, got.Links)
	var _ crawler.Extractor = New()
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
