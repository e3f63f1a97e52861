// Package checkpoint persists and restores crawl progress. Writes are atomic:
// a reader never observes a partially written checkpoint.
package checkpoint

import (
	"context"
	"time"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// Version is the current checkpoint document version.
const Version = 1

// State is the serializable crawl progress.
type State struct {
	Version      int                    `json:"version"`
	SessionID    string                 `json:"session_id"`
	Visited      []string               `json:"visited"`
	Saved        []string               `json:"saved"`
	Failed       []string               `json:"failed"`
	RetryCounts  map[string]int         `json:"retry_counts"`
	Frontier     []crawler.QueuedTarget `json:"frontier"`
	SavedPages   int                    `json:"saved_pages"`
	Processed    int                    `json:"processed"`
	DomainStats  map[string]int         `json:"domain_stats"`
	SessionStart time.Time              `json:"session_start"`
	CheckpointAt time.Time              `json:"checkpoint_at"`
}

// Empty reports whether the state carries no progress.
func (s State) Empty() bool {
	return len(s.Visited) == 0 && len(s.Failed) == 0 && len(s.Frontier) == 0 && s.Processed == 0
}

// normalize fills nil maps and slices so a loaded state is always usable.
func (s State) normalize() State {
	if s.RetryCounts == nil {
		s.RetryCounts = map[string]int{}
	}
	if s.DomainStats == nil {
		s.DomainStats = map[string]int{}
	}
	if s.Visited == nil {
		s.Visited = []string{}
	}
	if s.Saved == nil {
		s.Saved = []string{}
	}
	if s.Failed == nil {
		s.Failed = []string{}
	}
	if s.Frontier == nil {
		s.Frontier = []crawler.QueuedTarget{}
	}
	return s
}

// NewState returns an empty state at the current version.
func NewState() State {
	return State{Version: Version}.normalize()
}

// Store saves and loads checkpoints.
type Store interface {
	// Save atomically replaces the stored checkpoint.
	Save(ctx context.Context, state State) error
	// Load returns the stored checkpoint. A missing or unreadable checkpoint
	// yields an empty state and a nil error.
	Load(ctx context.Context) (State, error)
}
