// Package dedup is the single source of truth for whether a URL may ever be
// fetched. It tracks visited, saved, failed and prior-corpus URLs plus the
// URLs currently claimed by the crawl loop (in flight or waiting for a retry).
//
// The store is owned by one coordinating goroutine and is not safe for
// concurrent use.
package dedup

import "sort"

type set map[string]struct{}

func (s set) has(url string) bool {
	_, ok := s[url]
	return ok
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for url := range s {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}

// Store tracks URL membership. All URLs are expected to be normalized.
type Store struct {
	visited  set
	saved    set
	failed   set
	known    set
	claimed  set
	attempts map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		visited:  set{},
		saved:    set{},
		failed:   set{},
		known:    set{},
		claimed:  set{},
		attempts: map[string]int{},
	}
}

// LoadKnown adds prior-corpus URLs. They are never considered new.
func (s *Store) LoadKnown(urls []string) {
	for _, u := range urls {
		s.known[u] = struct{}{}
	}
}

// IsNew reports whether url has never been visited, failed, claimed, or seen
// in the prior corpus.
func (s *Store) IsNew(url string) bool {
	return !s.visited.has(url) && !s.failed.has(url) && !s.known.has(url) && !s.claimed.has(url)
}

// IsKnown reports whether url belongs to the prior corpus.
func (s *Store) IsKnown(url string) bool {
	return s.known.has(url)
}

// Claim marks url as taken by the crawl loop, removing it from enqueue
// consideration until it is marked visited, failed or released. It returns
// false when the URL is not new.
func (s *Store) Claim(url string) bool {
	if !s.IsNew(url) {
		return false
	}
	s.claimed[url] = struct{}{}
	return true
}

// IsClaimed reports whether url is in flight or awaiting a retry.
func (s *Store) IsClaimed(url string) bool {
	return s.claimed.has(url)
}

// Release drops a claim without recording an outcome.
func (s *Store) Release(url string) {
	delete(s.claimed, url)
}

// MarkVisited records that url was fetched. Idempotent; a failed URL stays failed.
func (s *Store) MarkVisited(url string) {
	delete(s.claimed, url)
	if s.failed.has(url) {
		return
	}
	s.visited[url] = struct{}{}
}

// MarkSaved records that url was fetched and persisted. It implies visited.
func (s *Store) MarkSaved(url string) {
	s.MarkVisited(url)
	if s.visited.has(url) {
		s.saved[url] = struct{}{}
	}
}

// MarkFailed moves url to the failed set permanently. Idempotent.
func (s *Store) MarkFailed(url string) {
	delete(s.claimed, url)
	delete(s.visited, url)
	delete(s.saved, url)
	s.failed[url] = struct{}{}
}

// RecordAttempt increments and returns the failed attempt count for url.
func (s *Store) RecordAttempt(url string) int {
	s.attempts[url]++
	return s.attempts[url]
}

// Attempts returns the failed attempt count for url.
func (s *Store) Attempts(url string) int {
	return s.attempts[url]
}

// IsVisited reports whether url was fetched.
func (s *Store) IsVisited(url string) bool { return s.visited.has(url) }

// IsSaved reports whether url was fetched and persisted.
func (s *Store) IsSaved(url string) bool { return s.saved.has(url) }

// IsFailed reports whether url is permanently failed.
func (s *Store) IsFailed(url string) bool { return s.failed.has(url) }

// Counts returns the sizes of the visited, saved, failed and known sets.
func (s *Store) Counts() (visited, saved, failed, known int) {
	return len(s.visited), len(s.saved), len(s.failed), len(s.known)
}

// Snapshot is the serializable part of the store. Claims and the prior
// corpus are not included: claims are folded back into the frontier by the
// caller and the corpus is reloaded from its source on every start.
type Snapshot struct {
	Visited  []string
	Saved    []string
	Failed   []string
	Attempts map[string]int
}

// Snapshot copies the durable state in deterministic order.
func (s *Store) Snapshot() Snapshot {
	attempts := make(map[string]int, len(s.attempts))
	for url, n := range s.attempts {
		attempts[url] = n
	}
	return Snapshot{
		Visited:  s.visited.sorted(),
		Saved:    s.saved.sorted(),
		Failed:   s.failed.sorted(),
		Attempts: attempts,
	}
}

// Restore replaces the durable state with snap. Known URLs and claims are kept.
func (s *Store) Restore(snap Snapshot) {
	s.visited = set{}
	s.saved = set{}
	s.failed = set{}
	s.attempts = map[string]int{}
	for _, u := range snap.Visited {
		s.visited[u] = struct{}{}
	}
	for _, u := range snap.Saved {
		s.visited[u] = struct{}{}
		s.saved[u] = struct{}{}
	}
	for _, u := range snap.Failed {
		delete(s.visited, u)
		delete(s.saved, u)
		s.failed[u] = struct{}{}
	}
	for u, n := range snap.Attempts {
		s.attempts[u] = n
	}
}
