// Package frontier holds the URLs waiting to be fetched in two lanes: a
// priority lane ordered by score and a bounded FIFO normal lane.
//
// A Frontier is owned by one coordinating goroutine and is not safe for
// concurrent use.
package frontier

import (
	"container/heap"
	"errors"
	"slices"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

var (
	// ErrLaneFull is returned when a normal-lane target is dropped because the lane is at capacity.
	ErrLaneFull = errors.New("normal lane full")
	// ErrQueued is returned when the URL is already in the frontier.
	ErrQueued = errors.New("already queued")
)

// Config tunes lane routing and the normal lane bound.
type Config struct {
	// HighPriorityThreshold routes targets with Priority >= threshold to the priority lane.
	HighPriorityThreshold int
	// NormalCapacity bounds the normal lane. Zero means unbounded.
	NormalCapacity int
}

// Frontier is the dual-lane work queue.
type Frontier struct {
	cfg      Config
	priority priorityHeap
	normal   []crawler.CrawlTarget
	members  map[string]crawler.Lane
	nextSeq  uint64
	dropped  int
}

// New returns an empty frontier.
func New(cfg Config) *Frontier {
	return &Frontier{
		cfg:     cfg,
		members: map[string]crawler.Lane{},
		nextSeq: 1,
	}
}

// LaneFor returns the lane a priority routes to.
func (f *Frontier) LaneFor(priority int) crawler.Lane {
	if priority >= f.cfg.HighPriorityThreshold {
		return crawler.LanePriority
	}
	return crawler.LaneNormal
}

// Enqueue assigns the target the next sequence number and routes it by
// priority. A full normal lane drops the target with ErrLaneFull.
func (f *Frontier) Enqueue(t crawler.CrawlTarget) (crawler.Lane, error) {
	if _, ok := f.members[t.URL]; ok {
		return "", ErrQueued
	}
	lane := f.LaneFor(t.Priority)
	if lane == crawler.LaneNormal && f.cfg.NormalCapacity > 0 && len(f.normal) >= f.cfg.NormalCapacity {
		f.dropped++
		return lane, ErrLaneFull
	}
	t.Seq = f.nextSeq
	f.nextSeq++
	f.push(crawler.QueuedTarget{CrawlTarget: t, Lane: lane})
	return lane, nil
}

func (f *Frontier) push(q crawler.QueuedTarget) {
	f.members[q.URL] = q.Lane
	if q.Lane == crawler.LanePriority {
		heap.Push(&f.priority, q.CrawlTarget)
		return
	}
	f.normal = append(f.normal, q.CrawlTarget)
}

// DequeueBatch removes up to n targets, draining the priority lane before the normal lane.
func (f *Frontier) DequeueBatch(n int) []crawler.CrawlTarget {
	if n <= 0 {
		return nil
	}
	out := make([]crawler.CrawlTarget, 0, min(n, f.Len()))
	for len(out) < n && f.priority.Len() > 0 {
		t := heap.Pop(&f.priority).(crawler.CrawlTarget)
		delete(f.members, t.URL)
		out = append(out, t)
	}
	for len(out) < n && len(f.normal) > 0 {
		t := f.normal[0]
		f.normal[0] = crawler.CrawlTarget{}
		f.normal = f.normal[1:]
		delete(f.members, t.URL)
		out = append(out, t)
	}
	return out
}

// Resort stably reorders the normal lane by priority, highest first.
// Targets with equal priority keep their insertion order.
func (f *Frontier) Resort() {
	slices.SortStableFunc(f.normal, func(a, b crawler.CrawlTarget) int {
		return b.Priority - a.Priority
	})
}

// Contains reports whether url is queued in either lane.
func (f *Frontier) Contains(url string) bool {
	_, ok := f.members[url]
	return ok
}

// Len returns the number of queued targets in both lanes.
func (f *Frontier) Len() int {
	return f.priority.Len() + len(f.normal)
}

// Lens returns the priority and normal lane sizes.
func (f *Frontier) Lens() (priority, normal int) {
	return f.priority.Len(), len(f.normal)
}

// Dropped returns how many targets were rejected because the normal lane was full.
func (f *Frontier) Dropped() int {
	return f.dropped
}

// Entries lists every queued target in dequeue order, tagged with its lane.
func (f *Frontier) Entries() []crawler.QueuedTarget {
	out := make([]crawler.QueuedTarget, 0, f.Len())
	pri := slices.Clone([]crawler.CrawlTarget(f.priority))
	slices.SortFunc(pri, comparePriority)
	for _, t := range pri {
		out = append(out, crawler.QueuedTarget{CrawlTarget: t, Lane: crawler.LanePriority})
	}
	for _, t := range f.normal {
		out = append(out, crawler.QueuedTarget{CrawlTarget: t, Lane: crawler.LaneNormal})
	}
	return out
}

// Restore replaces the frontier contents with entries. Lanes and sequence
// numbers are preserved and the capacity bound is not applied. Entries with
// an unknown lane are routed by priority; duplicates keep the first entry.
func (f *Frontier) Restore(entries []crawler.QueuedTarget) {
	f.priority = nil
	f.normal = nil
	f.members = make(map[string]crawler.Lane, len(entries))
	f.nextSeq = 1
	for _, e := range entries {
		if _, ok := f.members[e.URL]; ok {
			continue
		}
		if e.Lane != crawler.LanePriority && e.Lane != crawler.LaneNormal {
			e.Lane = f.LaneFor(e.Priority)
		}
		if e.Seq == 0 {
			e.Seq = f.nextSeq
		}
		if e.Seq >= f.nextSeq {
			f.nextSeq = e.Seq + 1
		}
		f.push(e)
	}
}

func comparePriority(a, b crawler.CrawlTarget) int {
	if a.Priority != b.Priority {
		return b.Priority - a.Priority
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	default:
		return 0
	}
}

// priorityHeap orders by priority descending, then sequence ascending.
type priorityHeap []crawler.CrawlTarget

func (h priorityHeap) Len() int           { return len(h) }
func (h priorityHeap) Less(i, j int) bool { return comparePriority(h[i], h[j]) < 0 }
func (h priorityHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(crawler.CrawlTarget))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = crawler.CrawlTarget{}
	*h = old[:n-1]
	return item
}
