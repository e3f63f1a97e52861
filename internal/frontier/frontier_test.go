package frontier

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

func target(url string, priority int) crawler.CrawlTarget {
	return crawler.CrawlTarget{URL: url, Priority: priority}
}

func urls(ts []crawler.CrawlTarget) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.URL)
	}
	return out
}

func TestEnqueueRoutesByThreshold(t *testing.T) {
	t.Parallel()

	f := New(Config{HighPriorityThreshold: 1000})
	lane, err := f.Enqueue(target("https://example.edu/hi", 1000))
	require.NoError(t, err)
	require.Equal(t, crawler.LanePriority, lane)
	lane, err = f.Enqueue(target("https://example.edu/lo", 999))
	require.NoError(t, err)
	require.Equal(t, crawler.LaneNormal, lane)

	p, n := f.Lens()
	require.Equal(t, 1, p)
	require.Equal(t, 1, n)
	require.True(t, f.Contains("https://example.edu/hi"))

	_, err = f.Enqueue(target("https://example.edu/hi", 5))
	require.ErrorIs(t, err, ErrQueued)
}

func TestDequeuePriorityOrdering(t *testing.T) {
	t.Parallel()

	// seed A, pattern B, plain C enqueued as C, B, A
	f := New(Config{HighPriorityThreshold: 1000})
	for _, tt := range []crawler.CrawlTarget{
		target("https://example.edu/c", 500),
		target("https://example.edu/notice/b", 1130),
		target("https://example.edu/", 2000),
	} {
		_, err := f.Enqueue(tt)
		require.NoError(t, err)
	}
	got := f.DequeueBatch(3)
	require.Equal(t, []string{"https://example.edu/", "https://example.edu/notice/b", "https://example.edu/c"}, urls(got))
	require.Zero(t, f.Len())
	require.False(t, f.Contains("https://example.edu/"))
}

func TestDequeueTiesAreFIFO(t *testing.T) {
	t.Parallel()

	f := New(Config{HighPriorityThreshold: 1000})
	for i := 0; i < 5; i++ {
		_, err := f.Enqueue(target(fmt.Sprintf("https://example.edu/p%d", i), 1100))
		require.NoError(t, err)
		_, err = f.Enqueue(target(fmt.Sprintf("https://example.edu/n%d", i), 10))
		require.NoError(t, err)
	}
	first := f.DequeueBatch(3)
	require.Equal(t, []string{"https://example.edu/p0", "https://example.edu/p1", "https://example.edu/p2"}, urls(first))
	second := f.DequeueBatch(4)
	require.Equal(t, []string{"https://example.edu/p3", "https://example.edu/p4", "https://example.edu/n0", "https://example.edu/n1"}, urls(second))
	require.Empty(t, f.DequeueBatch(0))
}

func TestLateHighValueLinkJumpsNormalBacklog(t *testing.T) {
	t.Parallel()

	f := New(Config{HighPriorityThreshold: 1000})
	for i := 0; i < 3; i++ {
		_, err := f.Enqueue(target(fmt.Sprintf("https://example.edu/old%d", i), 500))
		require.NoError(t, err)
	}
	_, err := f.Enqueue(target("https://example.edu/bbs/x/artclView.do", 1200))
	require.NoError(t, err)
	require.Equal(t, "https://example.edu/bbs/x/artclView.do", f.DequeueBatch(1)[0].URL)
}

func TestNormalLaneBound(t *testing.T) {
	t.Parallel()

	f := New(Config{HighPriorityThreshold: 1000, NormalCapacity: 2})
	_, err := f.Enqueue(target("https://example.edu/1", 1))
	require.NoError(t, err)
	_, err = f.Enqueue(target("https://example.edu/2", 1))
	require.NoError(t, err)
	_, err = f.Enqueue(target("https://example.edu/3", 1))
	require.ErrorIs(t, err, ErrLaneFull)
	require.False(t, f.Contains("https://example.edu/3"))
	require.Equal(t, 1, f.Dropped())

	// the priority lane is unbounded
	_, err = f.Enqueue(target("https://example.edu/hi", 1500))
	require.NoError(t, err)
	require.Equal(t, 3, f.Len())
}

func TestResortIsStable(t *testing.T) {
	t.Parallel()

	f := New(Config{HighPriorityThreshold: 1000})
	for _, tt := range []crawler.CrawlTarget{
		target("https://example.edu/a", 100),
		target("https://example.edu/b", 300),
		target("https://example.edu/c", 100),
		target("https://example.edu/d", 300),
	} {
		_, err := f.Enqueue(tt)
		require.NoError(t, err)
	}
	f.Resort()
	require.Equal(t,
		[]string{"https://example.edu/b", "https://example.edu/d", "https://example.edu/a", "https://example.edu/c"},
		urls(f.DequeueBatch(4)))
}

func TestEntriesRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	f := New(Config{HighPriorityThreshold: 1000, NormalCapacity: 10})
	for _, tt := range []crawler.CrawlTarget{
		{URL: "https://example.edu/n1", Depth: 2, Priority: 400},
		{URL: "https://example.edu/p1", Depth: 1, Priority: 1100},
		{URL: "https://example.edu/n2", Depth: 3, Priority: 600},
		{URL: "https://example.edu/p2", Depth: 0, Priority: 2000},
	} {
		_, err := f.Enqueue(tt)
		require.NoError(t, err)
	}
	entries := f.Entries()
	require.Len(t, entries, 4)
	require.Equal(t, "https://example.edu/p2", entries[0].URL)
	require.Equal(t, crawler.LanePriority, entries[0].Lane)
	require.Equal(t, crawler.LaneNormal, entries[3].Lane)

	// restored into a frontier with a lower threshold and a tiny bound: lanes survive
	restored := New(Config{HighPriorityThreshold: 100, NormalCapacity: 1})
	restored.Restore(entries)
	require.Equal(t, entries, restored.Entries())
	p, n := restored.Lens()
	require.Equal(t, 2, p)
	require.Equal(t, 2, n)

	lane, err := restored.Enqueue(target("https://example.edu/new", 50))
	require.ErrorIs(t, err, ErrLaneFull)
	require.Equal(t, crawler.LaneNormal, lane)
	_, err = restored.Enqueue(target("https://example.edu/new-hi", 150))
	require.NoError(t, err)
	last := restored.Entries()[2]
	require.Equal(t, "https://example.edu/new-hi", last.URL)
	require.Greater(t, last.Seq, uint64(4))
}

func TestRestoreRoutesUnknownLaneAndSkipsDuplicates(t *testing.T) {
	t.Parallel()

	f := New(Config{HighPriorityThreshold: 1000})
	f.Restore([]crawler.QueuedTarget{
		{CrawlTarget: crawler.CrawlTarget{URL: "https://example.edu/a", Priority: 1500}},
		{CrawlTarget: crawler.CrawlTarget{URL: "https://example.edu/a", Priority: 10}, Lane: crawler.LaneNormal},
		{CrawlTarget: crawler.CrawlTarget{URL: "https://example.edu/b", Priority: 10}},
	})
	p, n := f.Lens()
	require.Equal(t, 1, p)
	require.Equal(t, 1, n)
}

func TestNoURLDequeuedTwice(t *testing.T) {
	t.Parallel()

	f := New(Config{HighPriorityThreshold: 1000, NormalCapacity: 50})
	seen := map[string]bool{}
	for round := 0; round < 20; round++ {
		for i := 0; i < 7; i++ {
			u := fmt.Sprintf("https://example.edu/%d", (round*5+i)%40)
			if seen[u] || f.Contains(u) {
				continue
			}
			_, _ = f.Enqueue(target(u, (i*371)%2000))
		}
		for _, got := range f.DequeueBatch(4) {
			require.False(t, seen[got.URL], "dequeued twice: %s", got.URL)
			seen[got.URL] = true
		}
	}
}
