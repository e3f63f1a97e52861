package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsNewThreeWayCheck(t *testing.T) {
	t.Parallel()

	s := New()
	s.LoadKnown([]string{"https://example.edu/old"})
	s.MarkVisited("https://example.edu/v")
	s.MarkFailed("https://example.edu/f")

	require.False(t, s.IsNew("https://example.edu/old"))
	require.True(t, s.IsKnown("https://example.edu/old"))
	require.False(t, s.IsNew("https://example.edu/v"))
	require.False(t, s.IsNew("https://example.edu/f"))
	require.True(t, s.IsNew("https://example.edu/fresh"))
}

func TestClaimBlocksDuplicates(t *testing.T) {
	t.Parallel()

	s := New()
	url := "https://example.edu/a"
	require.True(t, s.Claim(url))
	require.False(t, s.IsNew(url))
	require.False(t, s.Claim(url))
	require.True(t, s.IsClaimed(url))

	s.Release(url)
	require.True(t, s.IsNew(url))

	require.True(t, s.Claim(url))
	s.MarkVisited(url)
	require.False(t, s.IsClaimed(url))
	require.True(t, s.IsVisited(url))
	require.False(t, s.Claim(url))

	s.LoadKnown([]string{"https://example.edu/k"})
	require.False(t, s.Claim("https://example.edu/k"))
}

func TestMarkIdempotentAndFailedWins(t *testing.T) {
	t.Parallel()

	s := New()
	url := "https://example.edu/a"
	s.MarkSaved(url)
	s.MarkSaved(url)
	require.True(t, s.IsSaved(url))
	visited, saved, failed, _ := s.Counts()
	require.Equal(t, 1, visited)
	require.Equal(t, 1, saved)
	require.Zero(t, failed)

	s.MarkFailed(url)
	s.MarkFailed(url)
	s.MarkVisited(url)
	require.True(t, s.IsFailed(url))
	require.False(t, s.IsVisited(url))
	require.False(t, s.IsSaved(url))
	require.False(t, s.IsNew(url))
}

func TestRecordAttempt(t *testing.T) {
	t.Parallel()

	s := New()
	url := "https://example.edu/flaky"
	require.Zero(t, s.Attempts(url))
	require.Equal(t, 1, s.RecordAttempt(url))
	require.Equal(t, 2, s.RecordAttempt(url))
	require.Equal(t, 2, s.Attempts(url))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	s.MarkVisited("https://example.edu/b")
	s.MarkSaved("https://example.edu/a")
	s.MarkFailed("https://example.edu/f")
	s.RecordAttempt("https://example.edu/f")
	s.RecordAttempt("https://example.edu/r")
	require.True(t, s.Claim("https://example.edu/inflight"))

	snap := s.Snapshot()
	require.Equal(t, []string{"https://example.edu/a", "https://example.edu/b"}, snap.Visited)
	require.Equal(t, []string{"https://example.edu/a"}, snap.Saved)
	require.Equal(t, []string{"https://example.edu/f"}, snap.Failed)

	restored := New()
	restored.Restore(snap)
	require.Equal(t, snap, restored.Snapshot())
	require.True(t, restored.IsSaved("https://example.edu/a"))
	require.Equal(t, 1, restored.Attempts("https://example.edu/r"))
	require.True(t, restored.IsNew("https://example.edu/inflight"))
}
