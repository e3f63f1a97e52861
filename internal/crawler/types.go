package crawler

import (
	"net/http"
	"time"
)

// Phase represents the lifecycle state of a crawl session.
type Phase string

// Crawl session phases.
const (
	PhaseInit     Phase = "init"
	PhaseRunning  Phase = "running"
	PhaseDraining Phase = "draining"
	PhaseStopped  Phase = "stopped"
)

// Lane identifies which frontier queue holds a target.
type Lane string

// Frontier lanes.
const (
	LanePriority Lane = "priority"
	LaneNormal   Lane = "normal"
)

// CrawlTarget is a URL scheduled for fetching. The normalized URL is its identity.
type CrawlTarget struct {
	URL      string `json:"url"`
	Depth    int    `json:"depth"`
	Priority int    `json:"priority"`
	Seq      uint64 `json:"seq"`
}

// QueuedTarget is a frontier member tagged with the lane that holds it.
type QueuedTarget struct {
	CrawlTarget
	Lane Lane `json:"lane"`
}

// HostPolicy carries the per-host crawl limits.
type HostPolicy struct {
	Host         string `json:"host" mapstructure:"host"`
	MaxDepth     int    `json:"max_depth" mapstructure:"max_depth"`
	BasePriority int    `json:"base_priority" mapstructure:"base_priority"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Extraction is the visible text and outbound links pulled from a page.
type Extraction struct {
	Title string
	Text  string
	Links []string
}

// PageMetadata is persisted alongside each saved page.
type PageMetadata struct {
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Depth      int       `json:"depth"`
	Host       string    `json:"host"`
	Priority   int       `json:"priority"`
	StatusCode int       `json:"status_code"`
	Length     int       `json:"length"`
	FetchedAt  time.Time `json:"fetched_at"`
	SessionID  string    `json:"session_id"`
}

// Page is the unit handed to a Sink.
type Page struct {
	Meta PageMetadata
	Text string
}

// Progress summarizes the crawl for status reporting.
type Progress struct {
	SessionID     string         `json:"session_id"`
	Phase         Phase          `json:"phase"`
	Processed     int            `json:"processed"`
	Saved         int            `json:"saved"`
	Failed        int            `json:"failed"`
	Visited       int            `json:"visited"`
	Known         int            `json:"known"`
	PriorityQueue int            `json:"priority_queue"`
	NormalQueue   int            `json:"normal_queue"`
	Deferred      int            `json:"deferred"`
	Dropped       int            `json:"dropped"`
	DomainStats   map[string]int `json:"domain_stats"`
	SessionStart  time.Time      `json:"session_start"`
	Elapsed       time.Duration  `json:"elapsed"`
}
